/*
Package state provides shared key/value state and advisory locks for agents.

The key/value surface is durable with optional TTL and records which agent
wrote each value last. Locks are purely advisory: they coordinate agents
that ask, and protect nothing from agents that do not.

# Locks

Acquisition is FIFO. Waiters queue in arrival order and each may declare
the activity it wants the lock for. A waiter whose activity outranks the
current holder's does not jump the queue; instead the holder is asked to
forfeit early, bounded by its lease:

	Acquire(ctx, lock, holder, activity, lease, timeout)
	  │
	  ├─ free ──────────────▶ granted, lease timer armed
	  │
	  └─ held ─▶ join FIFO queue
	        │      higher-ranked activity waiting?
	        │        └─ holder's lease is cut short (forfeit)
	        ├─ granted when predecessor releases or lease expires
	        └─ timeout/ctx ─▶ timeout or cancelled error

Lease expiry always releases, whether or not anyone is waiting, so a
crashed holder cannot wedge a lock forever. Release by a non-holder is a
conflict error and leaves the lock untouched.
*/
package state
