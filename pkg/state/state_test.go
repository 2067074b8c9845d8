package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, ident.System)
}

func TestSetGetRoundTrip(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Set("config/theme", []byte("dark"), 0))

	value, ok, err := m.Get("config/theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("dark"), value)
}

func TestGetAbsent(t *testing.T) {
	m := newTestManager(t)

	_, ok, err := m.Get("never-set")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLCorrectness(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Set("ephemeral", []byte("v"), 50*time.Millisecond))

	value, ok, err := m.Get("ephemeral")
	require.NoError(t, err)
	require.True(t, ok, "value must be visible before expiry")
	assert.Equal(t, []byte("v"), value)

	time.Sleep(70 * time.Millisecond)

	_, ok, err = m.Get("ephemeral")
	require.NoError(t, err)
	assert.False(t, ok, "value must be absent after ttl")
}

func TestDelete(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Set("k", []byte("v"), 0))
	existed, err := m.Delete("k")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = m.Delete("k")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestListPrefix(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Set("printer/status", []byte("idle"), 0))
	require.NoError(t, m.Set("printer/job", []byte("42"), 0))
	require.NoError(t, m.Set("briefing/last", []byte("done"), 0))

	values, err := m.List("printer/")
	require.NoError(t, err)
	assert.Len(t, values, 2)
}

func TestAcquireRelease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "L", "a", "act-1", 10*time.Second, time.Second))

	infos := m.Locks()
	require.Len(t, infos, 1)
	assert.Equal(t, "a", infos[0].Holder)

	require.NoError(t, m.Release("L", "a"))
	assert.Empty(t, m.Locks(), "release leaves no observable state")
}

func TestReleaseIdempotent(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Release("L", "nobody"))

	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, "L", "a", "act", 10*time.Second, time.Second))
	require.NoError(t, m.Release("L", "other"), "mismatched holder is a no-op")

	infos := m.Locks()
	require.Len(t, infos, 1)
	assert.Equal(t, "a", infos[0].Holder)
}

func TestMutualExclusion(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "L", "a", "act", 10*time.Second, time.Second))

	err := m.Acquire(ctx, "L", "b", "act", 10*time.Second, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errdefs.IsTimeout(err))
}

func TestLockContentionFIFO(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "L", "a", "act", 10*time.Second, time.Second))

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	acquire := func(holder string) {
		defer wg.Done()
		require.NoError(t, m.Acquire(ctx, "L", holder, "act", 10*time.Second, 5*time.Second))
		mu.Lock()
		order = append(order, holder)
		mu.Unlock()
	}

	wg.Add(1)
	go acquire("b")
	time.Sleep(50 * time.Millisecond) // b is queued before c
	wg.Add(1)
	go acquire("c")
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, m.Release("L", "a"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"b"}, order, "b acquires first; c still waits")
	mu.Unlock()

	require.NoError(t, m.Release("L", "b"))
	wg.Wait()

	mu.Lock()
	assert.Equal(t, []string{"b", "c"}, order)
	mu.Unlock()

	require.NoError(t, m.Release("L", "c"))
}

func TestAcquireRenewsLease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "L", "a", "act", 100*time.Millisecond, time.Second))
	first := m.Locks()[0].LeaseUntil

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, m.Acquire(ctx, "L", "a", "act", 100*time.Millisecond, time.Second))
	second := m.Locks()[0].LeaseUntil

	assert.True(t, second.After(first), "renewal extends the lease")
	require.NoError(t, m.Release("L", "a"))
}

func TestLeasePreemption(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// a holds with a tiny lease and never renews.
	require.NoError(t, m.Acquire(ctx, "L", "a", "act", 50*time.Millisecond, time.Second))

	// b must preempt the forfeit holder well before its own timeout.
	start := time.Now()
	require.NoError(t, m.Acquire(ctx, "L", "b", "act", 10*time.Second, 5*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second)

	infos := m.Locks()
	require.Len(t, infos, 1)
	assert.Equal(t, "b", infos[0].Holder)
	require.NoError(t, m.Release("L", "b"))
}

func TestAcquireCancelled(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Acquire(context.Background(), "L", "a", "act", 10*time.Second, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Acquire(ctx, "L", "b", "act", 10*time.Second, 10*time.Second)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.True(t, errdefs.IsCancelled(err))
	require.NoError(t, m.Release("L", "a"))
}

func TestWithLockReleasesOnError(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.WithLock(ctx, "L", "a", "act", 10*time.Second, time.Second, func() error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Lock must be free again.
	require.NoError(t, m.Acquire(ctx, "L", "b", "act", 10*time.Second, 100*time.Millisecond))
	require.NoError(t, m.Release("L", "b"))
}

func TestWithLockHoldsDuringBody(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	err := m.WithLock(ctx, "L", "a", "act", 10*time.Second, time.Second, func() error {
		inner := m.Acquire(ctx, "L", "b", "other", 10*time.Second, 50*time.Millisecond)
		require.Error(t, inner)
		assert.True(t, errdefs.IsTimeout(inner))
		return nil
	})
	require.NoError(t, err)
}
