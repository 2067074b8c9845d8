package storage

import (
	"time"
)

// Namespaces used by the runtime. Each maps to its own bucket pair (kv +
// log) so subsystems stay isolated inside one database file.
const (
	NamespaceMessages    = "messages"
	NamespaceShared      = "shared"
	NamespaceHealth      = "health"
	NamespaceCache       = "cache"
	NamespaceCron        = "cron"
	NamespaceDefinitions = "workflows/definitions"
	NamespaceRuns        = "workflows/runs"
	NamespaceBindings    = "webhooks/bindings"
)

// Entry is one committed key/value record.
type Entry struct {
	Value     []byte
	Version   uint64
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Store is the durable state contract shared by every runtime service.
// Individual Put/Delete calls are atomic; multi-step updates coordinate
// through CAS. After a crash the store exposes the last committed state of
// every key and no partial writes.
type Store interface {
	// Put commits value under namespace/key. A non-zero ttl sets an
	// absolute expiry; expired entries read as absent.
	Put(namespace, key string, value []byte, ttl time.Duration) error

	// Get returns the committed entry, or nil if the key is absent or
	// expired at read time.
	Get(namespace, key string) (*Entry, error)

	// Delete removes the key and reports whether it existed.
	Delete(namespace, key string) (bool, error)

	// Scan visits every live entry whose key has the given prefix, in
	// key order. The callback's entry is only valid during the call.
	Scan(namespace, prefix string, fn func(key string, e *Entry) error) error

	// CAS commits value only if the current version matches expected.
	// expected 0 means the key must not exist. Mismatch is a conflict.
	CAS(namespace, key string, expected uint64, value []byte) error

	// Append adds a record to the namespace's append-only log and
	// returns its sequence number.
	Append(namespace string, record []byte) (uint64, error)

	// ReadLog visits log records in sequence order.
	ReadLog(namespace string, fn func(seq uint64, record []byte) error) error

	// TrimLog drops log records appended before the given time and
	// returns how many were removed.
	TrimLog(namespace string, before time.Time) (int, error)

	// NextSeq returns a namespace-scoped monotonically increasing
	// counter value. Survives restart.
	NextSeq(namespace string) (uint64, error)

	// Close releases the underlying database.
	Close() error
}
