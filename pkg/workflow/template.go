package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hearth-sh/hearth/pkg/errdefs"
)

// templatePattern matches {{ vars.some.path }} and {{ vars.step[1].ok }}.
var templatePattern = regexp.MustCompile(`\{\{\s*vars\.([A-Za-z0-9_.\[\]-]+)\s*\}\}`)

// anyTemplate matches any {{ ... }} token, used to reject malformed ones.
var anyTemplate = regexp.MustCompile(`\{\{[^}]*\}\}`)

// splitPath splits a dotted path into segments, expanding index suffixes:
// "step[1].ok" becomes ["step", "1", "ok"].
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	var segments []string
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("empty path segment in %q", path)
		}
		if open := strings.IndexByte(part, '['); open >= 0 {
			if !strings.HasSuffix(part, "]") || open == 0 {
				return nil, fmt.Errorf("bad index in path segment %q", part)
			}
			index := part[open+1 : len(part)-1]
			if _, err := strconv.Atoi(index); err != nil {
				return nil, fmt.Errorf("non-numeric index in path segment %q", part)
			}
			segments = append(segments, part[:open], index)
			continue
		}
		segments = append(segments, part)
	}
	return segments, nil
}

// lookupPath walks vars by segments. Map keys take strings; slices take
// numeric segments.
func lookupPath(vars map[string]any, segments []string) (any, bool) {
	var current any = vars
	for _, seg := range segments {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			current = v[i]
		default:
			return nil, false
		}
	}
	return current, true
}

// renderScalar converts a resolved value to its string form for template
// substitution. Unknown paths and nils render empty.
func renderScalar(v any, ok bool) string {
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// expandString substitutes every {{ vars.path }} token in s.
func expandString(s string, vars map[string]any) string {
	return templatePattern.ReplaceAllStringFunc(s, func(token string) string {
		match := templatePattern.FindStringSubmatch(token)
		segments, err := splitPath(match[1])
		if err != nil {
			return ""
		}
		v, ok := lookupPath(vars, segments)
		return renderScalar(v, ok)
	})
}

// expandInputs deep-copies inputs with every string value expanded.
func expandInputs(inputs map[string]any, vars map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = expandValue(v, vars)
	}
	return out
}

func expandValue(v any, vars map[string]any) any {
	switch t := v.(type) {
	case string:
		return expandString(t, vars)
	case map[string]any:
		return expandInputs(t, vars)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = expandValue(item, vars)
		}
		return out
	default:
		return v
	}
}

// validateTemplates walks a step's inputs at load time. Template tokens are
// only legal inside string values; a token in a map key or a malformed
// token anywhere is a definition error.
func validateTemplates(v any) error {
	switch t := v.(type) {
	case string:
		for _, token := range anyTemplate.FindAllString(t, -1) {
			if !templatePattern.MatchString(token) {
				return errdefs.New(errdefs.KindUsage, "malformed template %q", token)
			}
		}
		for _, match := range templatePattern.FindAllStringSubmatch(t, -1) {
			if _, err := splitPath(match[1]); err != nil {
				return errdefs.New(errdefs.KindUsage, "bad template path in %q: %v", match[0], err)
			}
		}
		return nil
	case map[string]any:
		for k, item := range t {
			if anyTemplate.MatchString(k) {
				return errdefs.New(errdefs.KindUsage, "template in non-string position: key %q", k)
			}
			if err := validateTemplates(item); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, item := range t {
			if err := validateTemplates(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}
