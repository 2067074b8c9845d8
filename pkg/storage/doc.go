/*
Package storage provides BoltDB-backed persistence for all hearth namespaces.

Every durable fact in hearth lives in one BoltDB file. The store offers two
shapes: a versioned key/value surface with TTL and compare-and-swap, and an
append-only log per namespace for sample streams. All values are JSON with a
schema version so readers tolerate forward-compatible additions.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            BoltStore                       │           │
	│  │  - File: <dataDir>/hearth.db               │           │
	│  │  - Transactions: ACID with fsync           │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Bucket structure (per namespace)   │           │
	│  │  ┌───────────────────────────────┐         │           │
	│  │  │ kv:<namespace>   records      │         │           │
	│  │  │ log:<namespace>  appended seq │         │           │
	│  │  │ seq              counters     │         │           │
	│  │  └───────────────────────────────┘         │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

Namespaces mirror the subsystems: messages, shared, health, cache, cron,
workflows/definitions, workflows/runs, webhooks/bindings.

# Semantics

  - Put assigns a monotonically increasing version per key; CAS compares
    against it, with expected version 0 meaning "create only".
  - TTL is enforced at read time: an expired record reads as absent even
    if no sweeper has removed it yet. Partial writes never surface; a
    crashed transaction is invisible after reopen.
  - Append gives each record a per-namespace sequence from BoltDB's
    bucket counter; TrimLog drops records older than a horizon.
  - NextSeq hands out counters that survive restart, used by the bus to
    preserve enqueue order across process lifetimes.

Concurrent readers never block each other; writers serialize per
transaction. Higher layers use CAS for multi-step updates instead of
holding transactions open.
*/
package storage
