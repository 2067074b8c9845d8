package router

import (
	"context"
	"strings"
	"unicode"

	"github.com/hearth-sh/hearth/pkg/agent"
	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/log"
	"github.com/hearth-sh/hearth/pkg/types"
)

// Router maps free-form task descriptions to agents by scored keyword match
// and dispatches synchronously. Routing is pure with respect to time: the
// same registry and task always produce the same agent.
type Router struct {
	registry     *agent.Registry
	defaultAgent string
}

// New creates a router over the given registry. defaultAgent receives tasks
// that match no keywords.
func New(registry *agent.Registry, defaultAgent string) *Router {
	return &Router{registry: registry, defaultAgent: defaultAgent}
}

// Tokenize splits a task description on non-alphanumerics and lowercases
// each token.
func Tokenize(task string) []string {
	return strings.FieldsFunc(strings.ToLower(task), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Route resolves the target agent for a task without invoking it.
func (r *Router) Route(task string) (string, error) {
	result, err := r.DryRun(task)
	if err != nil {
		return "", err
	}
	return result.Agent, nil
}

// DryRun resolves the target agent and reports the winning score and the
// tokens the decision was based on.
func (r *Router) DryRun(task string) (types.RouteResult, error) {
	tokens := Tokenize(task)
	tokenSet := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		tokenSet[tok] = true
	}

	best := ""
	bestScore := 0
	for _, info := range r.registry.List() {
		if !info.Enabled {
			continue
		}
		score := 0
		for _, kw := range info.Keywords {
			if tokenSet[strings.ToLower(kw.Token)] {
				score += kw.Weight
			}
		}
		// Declaration order breaks ties, so strictly-greater keeps the
		// earlier agent on equal scores.
		if score > bestScore {
			best = info.Name
			bestScore = score
		}
	}

	if bestScore == 0 {
		if r.defaultAgent == "" {
			return types.RouteResult{Tokens: tokens}, errdefs.New(errdefs.KindUsage,
				"no agent matches task and no default agent is configured")
		}
		if !r.registry.Enabled(r.defaultAgent) {
			return types.RouteResult{Tokens: tokens}, errdefs.New(errdefs.KindNotFound,
				"default agent %q not registered or disabled", r.defaultAgent)
		}
		return types.RouteResult{Agent: r.defaultAgent, Score: 0, Tokens: tokens}, nil
	}
	return types.RouteResult{Agent: best, Score: bestScore, Tokens: tokens}, nil
}

// ListAgents returns the registry view in declaration order.
func (r *Router) ListAgents() []types.AgentInfo {
	return r.registry.List()
}

// Dispatch routes the task and invokes the winning agent's handler.
// Synchronous from the caller's perspective; callers that want background
// execution trigger a workflow instead.
func (r *Router) Dispatch(ctx context.Context, task string) (types.HandlerResult, error) {
	name, err := r.Route(task)
	if err != nil {
		return types.HandlerResult{}, err
	}
	spec, err := r.registry.Resolve(name)
	if err != nil {
		return types.HandlerResult{}, err
	}

	dispatchID := ident.NewID()
	logger := log.WithAgent(name)
	logger.Debug().Str("dispatch_id", dispatchID).Msg("dispatching task")

	result, err := spec.Handler(types.Envelope{
		Task:       task,
		DispatchID: dispatchID,
		Ctx:        ctx,
	})
	if err != nil {
		return types.HandlerResult{}, errdefs.Wrap(errdefs.KindAgent, err)
	}
	return result, nil
}
