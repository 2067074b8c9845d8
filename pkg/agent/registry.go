package agent

import (
	"context"
	"sync"
	"time"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/types"
)

// Messages is the messaging client injected into agents.
type Messages interface {
	Send(sender, recipient string, body []byte, priority types.Priority) (string, error)
	Receive(recipient string, max int, markDelivered bool) ([]*types.Message, error)
	Acknowledge(recipient, messageID string) error
	Peek(recipient string) ([]*types.Message, error)
}

// State is the shared-state and lock client injected into agents.
type State interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) (bool, error)
	Acquire(ctx context.Context, lockName, holder, activity string, lease, timeout time.Duration) error
	Release(lockName, holder string) error
	WithLock(ctx context.Context, lockName, holder, activity string, lease, timeout time.Duration, fn func() error) error
}

// Cache is the function-result cache client injected into agents.
type Cache interface {
	GetOrFill(ctx context.Context, key string, ttl time.Duration, tags []string, producer func(context.Context) ([]byte, error)) ([]byte, error)
	Invalidate(tagPattern string) (int, error)
}

// Services bundles the three sanctioned side-effect channels handed to
// every registered agent.
type Services struct {
	Messages Messages
	State    State
	Cache    Cache
}

type registered struct {
	spec    types.AgentSpec
	enabled bool
	order   int
}

// Registry holds the process's agents. Agents register at startup and
// unregister at shutdown; keyword sets never mutate while running.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*registered
	order    []string
	services Services
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*registered)}
}

// SetServices installs the runtime clients handed to agents. Called once by
// the runtime before agents register.
func (r *Registry) SetServices(s Services) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = s
}

// Services returns the injected runtime clients.
func (r *Registry) Services() Services {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services
}

// Register adds an agent. Duplicate names conflict.
func (r *Registry) Register(spec types.AgentSpec) error {
	if spec.Name == "" {
		return errdefs.New(errdefs.KindUsage, "agent name is required")
	}
	if spec.Handler == nil {
		return errdefs.New(errdefs.KindUsage, "agent %q has no handler", spec.Name)
	}
	for _, kw := range spec.Keywords {
		if kw.Weight < 1 {
			return errdefs.New(errdefs.KindUsage, "agent %q keyword %q has weight < 1", spec.Name, kw.Token)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[spec.Name]; exists {
		return errdefs.New(errdefs.KindConflict, "agent %q already registered", spec.Name)
	}
	r.agents[spec.Name] = &registered{spec: spec, enabled: true, order: len(r.order)}
	r.order = append(r.order, spec.Name)
	return nil
}

// Unregister removes an agent by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; !exists {
		return errdefs.New(errdefs.KindNotFound, "agent %q not registered", name)
	}
	delete(r.agents, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Resolve returns an agent's spec. Disabled agents still resolve; callers
// that care filter on Enabled via List.
func (r *Registry) Resolve(name string) (types.AgentSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[name]
	if !ok {
		return types.AgentSpec{}, errdefs.New(errdefs.KindNotFound, "agent %q not registered", name)
	}
	return reg.spec, nil
}

// ResolveAction returns the handler for a named action on an agent. Unknown
// action names are usage errors per the declared action map.
func (r *Registry) ResolveAction(agentName, action string) (types.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentName]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "agent %q not registered", agentName)
	}
	if action == "" {
		return reg.spec.Handler, nil
	}
	if h, ok := reg.spec.Actions[action]; ok {
		return h, nil
	}
	return nil, errdefs.New(errdefs.KindUsage, "agent %q has no action %q", agentName, action)
}

// Enable marks an agent routable.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable removes an agent from routing without unregistering it.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.agents[name]
	if !ok {
		return errdefs.New(errdefs.KindNotFound, "agent %q not registered", name)
	}
	reg.enabled = enabled
	return nil
}

// Enabled reports whether an agent exists and is enabled.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[name]
	return ok && reg.enabled
}

// List returns agents in declaration order.
func (r *Registry) List() []types.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]types.AgentInfo, 0, len(r.order))
	for _, name := range r.order {
		reg := r.agents[name]
		infos = append(infos, types.AgentInfo{
			Name:     name,
			Keywords: append([]types.Keyword(nil), reg.spec.Keywords...),
			Enabled:  reg.enabled,
		})
	}
	return infos
}
