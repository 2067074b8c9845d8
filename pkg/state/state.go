package state

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/log"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/types"
)

// Manager provides TTL-scoped shared key/value state plus named exclusive
// locks. Values write through to the store; locks are in-memory only and do
// not survive restart.
type Manager struct {
	store  storage.Store
	clock  ident.Clock
	logger zerolog.Logger
	locks  *lockTable
}

// New creates a shared-state manager.
func New(store storage.Store, clock ident.Clock) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		logger: log.WithComponent("state"),
		locks:  newLockTable(clock),
	}
}

// Set writes a value. A non-zero ttl makes the value expire; expired values
// read as absent regardless of background cleanup.
func (m *Manager) Set(key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errdefs.New(errdefs.KindUsage, "key is required")
	}
	return m.store.Put(storage.NamespaceShared, key, value, ttl)
}

// Get returns the value and whether it exists. Expired values are absent.
func (m *Manager) Get(key string) ([]byte, bool, error) {
	entry, err := m.store.Get(storage.NamespaceShared, key)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Delete removes a key and reports whether it existed.
func (m *Manager) Delete(key string) (bool, error) {
	return m.store.Delete(storage.NamespaceShared, key)
}

// List returns all live shared values with the given key prefix.
func (m *Manager) List(prefix string) ([]*types.SharedValue, error) {
	var values []*types.SharedValue
	err := m.store.Scan(storage.NamespaceShared, prefix, func(key string, e *storage.Entry) error {
		values = append(values, &types.SharedValue{
			Schema:    types.SchemaVersion,
			Key:       key,
			Payload:   append([]byte(nil), e.Value...),
			CreatedAt: e.CreatedAt,
			ExpiresAt: e.ExpiresAt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}
