package webhook

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/types"
)

// DefaultMaxBodyBytes caps webhook request bodies unless the binding says
// otherwise.
const DefaultMaxBodyBytes int64 = 1 << 20

// Bindings is the persisted catalog of webhook bindings.
type Bindings struct {
	store storage.Store
	clock ident.Clock
}

// NewBindings creates a binding catalog over the store.
func NewBindings(store storage.Store, clock ident.Clock) *Bindings {
	return &Bindings{store: store, clock: clock}
}

// Add persists a binding. Names become URL path segments, so slashes are
// rejected. Duplicate names conflict.
func (b *Bindings) Add(name, secret, targetWorkflow, targetEvent string, maxBodyBytes int64) error {
	if name == "" || strings.ContainsAny(name, "/ ") {
		return errdefs.New(errdefs.KindUsage, "binding name %q is not a valid path segment", name)
	}
	if targetEvent == "" {
		return errdefs.New(errdefs.KindUsage, "target event is required")
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	existing, err := b.store.Get(storage.NamespaceBindings, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return errdefs.New(errdefs.KindConflict, "binding %q already exists", name)
	}

	binding := &types.WebhookBinding{
		Schema:         types.SchemaVersion,
		Name:           name,
		Secret:         secret,
		TargetWorkflow: targetWorkflow,
		TargetEvent:    targetEvent,
		MaxBodyBytes:   maxBodyBytes,
		CreatedAt:      b.clock.Now(),
	}
	data, err := json.Marshal(binding)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err)
	}
	return b.store.Put(storage.NamespaceBindings, name, data, 0)
}

// Remove deletes a binding.
func (b *Bindings) Remove(name string) error {
	existed, err := b.store.Delete(storage.NamespaceBindings, name)
	if err != nil {
		return err
	}
	if !existed {
		return errdefs.New(errdefs.KindNotFound, "binding %q not found", name)
	}
	return nil
}

// Get returns a binding by name.
func (b *Bindings) Get(name string) (*types.WebhookBinding, error) {
	entry, err := b.store.Get(storage.NamespaceBindings, name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errdefs.New(errdefs.KindNotFound, "binding %q not found", name)
	}
	var binding types.WebhookBinding
	if err := json.Unmarshal(entry.Value, &binding); err != nil {
		return nil, fmt.Errorf("corrupt binding %s: %w", name, err)
	}
	return &binding, nil
}

// List returns all bindings sorted by name.
func (b *Bindings) List() ([]*types.WebhookBinding, error) {
	var bindings []*types.WebhookBinding
	err := b.store.Scan(storage.NamespaceBindings, "", func(key string, e *storage.Entry) error {
		var binding types.WebhookBinding
		if err := json.Unmarshal(e.Value, &binding); err != nil {
			return fmt.Errorf("corrupt binding %s: %w", key, err)
		}
		bindings = append(bindings, &binding)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Name < bindings[j].Name })
	return bindings, nil
}
