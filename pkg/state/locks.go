package state

import (
	"context"
	"sync"
	"time"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/metrics"
	"github.com/hearth-sh/hearth/pkg/types"
)

// waiter is one queued Acquire call. grant is closed exactly once when the
// waiter becomes the holder.
type waiter struct {
	holder   string
	activity string
	lease    time.Duration
	grant    chan struct{}
}

// namedLock tracks one lock's holder and its FIFO wait queue.
type namedLock struct {
	held       bool
	holder     string
	activity   string
	acquiredAt time.Time
	lease      time.Duration
	waiters    []*waiter
}

func (l *namedLock) forfeit(now time.Time) bool {
	return l.held && now.After(l.acquiredAt.Add(l.lease))
}

// lockTable implements named exclusive locks with FIFO wait queues and
// lease-based preemption. At most one holder per name at any instant; a
// holder whose lease elapsed is forfeit and the head waiter may preempt it.
type lockTable struct {
	mu    sync.Mutex
	clock ident.Clock
	locks map[string]*namedLock
}

func newLockTable(clock ident.Clock) *lockTable {
	return &lockTable{clock: clock, locks: make(map[string]*namedLock)}
}

// Acquire blocks until the lock is held or timeout elapses. Re-acquiring by
// the current holder refreshes the lease. FIFO: if A starts waiting before
// B, A acquires first.
func (m *Manager) Acquire(ctx context.Context, lockName, holder, activity string, lease, timeout time.Duration) error {
	if lockName == "" || holder == "" {
		return errdefs.New(errdefs.KindUsage, "lock name and holder are required")
	}
	if lease <= 0 {
		return errdefs.New(errdefs.KindUsage, "lease must be positive")
	}

	t := m.locks
	timer := metrics.NewTimer()

	t.mu.Lock()
	l := t.lock(lockName)
	now := t.clock.Now()

	// Renewal by the current holder.
	if l.held && l.holder == holder && l.activity == activity && !l.forfeit(now) {
		l.acquiredAt = now
		l.lease = lease
		t.mu.Unlock()
		return nil
	}

	w := &waiter{holder: holder, activity: activity, lease: lease, grant: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	t.advance(lockName)
	granted := isClosed(w.grant)
	t.mu.Unlock()

	if granted {
		metrics.LockWaitDuration.Observe(timer.Duration().Seconds())
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		// Re-check at the current holder's lease boundary so a forfeit
		// holder gets preempted without waiting for another event.
		var ft *time.Timer
		var forfeitCh <-chan time.Time
		t.mu.Lock()
		if l.held {
			wait := l.acquiredAt.Add(l.lease).Sub(t.clock.Now())
			if wait < 0 {
				wait = 0
			}
			ft = time.NewTimer(wait + time.Millisecond)
			forfeitCh = ft.C
		}
		t.mu.Unlock()

		select {
		case <-w.grant:
			stopTimer(ft)
			metrics.LockWaitDuration.Observe(timer.Duration().Seconds())
			return nil
		case <-forfeitCh:
			t.mu.Lock()
			t.advance(lockName)
			t.mu.Unlock()
		case <-deadline.C:
			stopTimer(ft)
			t.mu.Lock()
			// Granted and timed out can race; the grant wins.
			if isClosed(w.grant) {
				t.mu.Unlock()
				metrics.LockWaitDuration.Observe(timer.Duration().Seconds())
				return nil
			}
			t.remove(lockName, w)
			t.mu.Unlock()
			metrics.LockTimeoutsTotal.Inc()
			return errdefs.New(errdefs.KindTimeout, "timed out acquiring lock %q after %s", lockName, timeout)
		case <-ctx.Done():
			stopTimer(ft)
			t.mu.Lock()
			if isClosed(w.grant) {
				t.mu.Unlock()
				return nil
			}
			t.remove(lockName, w)
			t.mu.Unlock()
			return errdefs.Wrap(errdefs.KindCancelled, ctx.Err())
		}
	}
}

// Release releases the lock if holder matches. Idempotent: releasing a lock
// one does not hold is a no-op.
func (m *Manager) Release(lockName, holder string) error {
	t := m.locks
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[lockName]
	if !ok || !l.held || l.holder != holder {
		return nil
	}
	l.held = false
	l.holder = ""
	l.activity = ""
	t.advance(lockName)
	return nil
}

// WithLock runs fn while holding the lock, releasing on every exit path.
func (m *Manager) WithLock(ctx context.Context, lockName, holder, activity string, lease, timeout time.Duration, fn func() error) error {
	if err := m.Acquire(ctx, lockName, holder, activity, lease, timeout); err != nil {
		return err
	}
	defer func() {
		_ = m.Release(lockName, holder)
	}()
	return fn()
}

// Locks returns a snapshot of currently held locks.
func (m *Manager) Locks() []types.LockInfo {
	t := m.locks
	t.mu.Lock()
	defer t.mu.Unlock()

	var infos []types.LockInfo
	for name, l := range t.locks {
		if !l.held {
			continue
		}
		infos = append(infos, types.LockInfo{
			Name:       name,
			Holder:     l.holder,
			Activity:   l.activity,
			AcquiredAt: l.acquiredAt,
			LeaseUntil: l.acquiredAt.Add(l.lease),
			Waiters:    len(l.waiters),
		})
	}
	return infos
}

// lock returns the named lock, creating it if needed. Caller holds t.mu.
func (t *lockTable) lock(name string) *namedLock {
	l, ok := t.locks[name]
	if !ok {
		l = &namedLock{}
		t.locks[name] = l
	}
	return l
}

// advance grants the lock to the head waiter when it is free or forfeit.
// Caller holds t.mu.
func (t *lockTable) advance(name string) {
	l, ok := t.locks[name]
	if !ok {
		return
	}
	now := t.clock.Now()
	if l.held && !l.forfeit(now) {
		return
	}
	if len(l.waiters) == 0 {
		if !l.held {
			delete(t.locks, name)
		}
		return
	}
	w := l.waiters[0]
	l.waiters = l.waiters[1:]
	l.held = true
	l.holder = w.holder
	l.activity = w.activity
	l.acquiredAt = now
	l.lease = w.lease
	close(w.grant)
}

// remove drops a waiter from the queue after timeout or cancellation.
// Caller holds t.mu.
func (t *lockTable) remove(name string, w *waiter) {
	l, ok := t.locks[name]
	if !ok {
		return
	}
	for i, queued := range l.waiters {
		if queued == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
