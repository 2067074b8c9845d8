package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/hearth-sh/hearth/pkg/errdefs"
)

// Conditions are a restricted boolean language over vars paths and
// literals:
//
//	expr    := or
//	or      := and ("or" and)*
//	and     := not ("and" not)*
//	not     := "not" not | cmp
//	cmp     := operand (("==" | "!=") operand)? | "(" expr ")"
//	operand := path | string | number | "true" | "false"
//
// No function calls, no arithmetic, no loops. A bare operand is truthy
// when it is boolean true.

type condNode interface {
	eval(vars map[string]any) (bool, error)
}

type boolOp struct {
	op          string // "and" | "or"
	left, right condNode
}

func (n *boolOp) eval(vars map[string]any) (bool, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return false, err
	}
	if n.op == "and" && !l {
		return false, nil
	}
	if n.op == "or" && l {
		return true, nil
	}
	return n.right.eval(vars)
}

type notOp struct {
	inner condNode
}

func (n *notOp) eval(vars map[string]any) (bool, error) {
	v, err := n.inner.eval(vars)
	return !v, err
}

type cmpOp struct {
	op          string // "==" | "!="
	left, right operand
}

func (n *cmpOp) eval(vars map[string]any) (bool, error) {
	l := n.left.resolve(vars)
	r := n.right.resolve(vars)
	eq := scalarEqual(l, r)
	if n.op == "!=" {
		return !eq, nil
	}
	return eq, nil
}

// truthyOp wraps a bare operand used as a boolean.
type truthyOp struct {
	inner operand
}

func (n *truthyOp) eval(vars map[string]any) (bool, error) {
	v, ok := n.inner.resolve(vars).(bool)
	return ok && v, nil
}

// operand is a path reference or a literal.
type operand struct {
	path    []string // non-nil for vars paths
	literal any
}

func (o operand) resolve(vars map[string]any) any {
	if o.path == nil {
		return o.literal
	}
	v, _ := lookupPath(vars, o.path)
	return v
}

// scalarEqual compares scalars, normalizing numeric types so that YAML
// ints compare equal to JSON floats.
func scalarEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// ParseCondition parses a condition expression. An empty expression is a
// usage error; callers treat an absent condition as always-true.
func ParseCondition(expr string) (condNode, error) {
	p := &condParser{tokens: tokenizeCondition(expr)}
	node, err := p.parseOr()
	if err != nil {
		return nil, errdefs.New(errdefs.KindUsage, "bad condition %q: %v", expr, err)
	}
	if p.pos != len(p.tokens) {
		return nil, errdefs.New(errdefs.KindUsage, "bad condition %q: unexpected %q", expr, p.tokens[p.pos])
	}
	return node, nil
}

func tokenizeCondition(expr string) []string {
	var tokens []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '(' || c == ')':
			tokens = append(tokens, string(c))
			i++
		case c == '=' || c == '!':
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, expr[i:i+2])
				i += 2
			} else {
				tokens = append(tokens, string(c))
				i++
			}
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(expr) && expr[j] != c {
				j++
			}
			if j >= len(expr) {
				tokens = append(tokens, expr[i:]) // unterminated; parser rejects
				i = len(expr)
			} else {
				tokens = append(tokens, expr[i:j+1])
				i = j + 1
			}
		default:
			j := i
			for j < len(expr) && !unicode.IsSpace(rune(expr[j])) &&
				!strings.ContainsRune("()=!'\"", rune(expr[j])) {
				j++
			}
			tokens = append(tokens, expr[i:j])
			i = j
		}
	}
	return tokens
}

type condParser struct {
	tokens []string
	pos    int
}

func (p *condParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *condParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *condParser) parseOr() (condNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolOp{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseAnd() (condNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek() == "and" {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &boolOp{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseNot() (condNode, error) {
	if p.peek() == "not" {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notOp{inner: inner}, nil
	}
	return p.parseCmp()
}

func (p *condParser) parseCmp() (condNode, error) {
	if p.peek() == "(" {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if op := p.peek(); op == "==" || op == "!=" {
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &cmpOp{op: op, left: left, right: right}, nil
	}
	return &truthyOp{inner: left}, nil
}

func (p *condParser) parseOperand() (operand, error) {
	tok := p.next()
	switch {
	case tok == "":
		return operand{}, fmt.Errorf("unexpected end of expression")
	case tok == "true":
		return operand{literal: true}, nil
	case tok == "false":
		return operand{literal: false}, nil
	case tok[0] == '\'' || tok[0] == '"':
		if len(tok) < 2 || tok[len(tok)-1] != tok[0] {
			return operand{}, fmt.Errorf("unterminated string %s", tok)
		}
		return operand{literal: tok[1 : len(tok)-1]}, nil
	case strings.HasPrefix(tok, "vars."):
		path, err := splitPath(strings.TrimPrefix(tok, "vars."))
		if err != nil {
			return operand{}, err
		}
		return operand{path: path}, nil
	default:
		n, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return operand{}, fmt.Errorf("unknown operand %q", tok)
		}
		return operand{literal: n}, nil
	}
}
