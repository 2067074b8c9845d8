package health

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-sh/hearth/pkg/bus"
	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/types"
)

// fakeClock lets tests move time explicitly.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                  { return c.now }
func (c *fakeClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }
func (c *fakeClock) advance(d time.Duration)         { c.now = c.now.Add(d) }

func newTestMonitor(t *testing.T, alerter Alerter, window time.Duration) (*Monitor, *fakeClock) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	clock := &fakeClock{now: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	return New(store, clock, alerter, window, "system"), clock
}

func TestStatusUnknownWithoutSamples(t *testing.T) {
	m, _ := newTestMonitor(t, nil, time.Hour)

	roll, err := m.Status("quiet-agent", 0)
	require.NoError(t, err)
	assert.Equal(t, types.HealthUnknown, roll.Status)
	assert.Zero(t, roll.SampleCount)
}

func TestStatusHealthy(t *testing.T) {
	m, clock := newTestMonitor(t, nil, time.Hour)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Record("a", "work", 20*time.Millisecond, true, nil))
		clock.advance(time.Second)
	}

	roll, err := m.Status("a", 0)
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, roll.Status)
	assert.Equal(t, 10, roll.SampleCount)
	assert.Equal(t, 1.0, roll.SuccessRate)
	assert.Equal(t, 20*time.Millisecond, roll.MeanDuration)
	assert.Nil(t, roll.LastErrorAt)
}

func TestStatusDegradedOnRecentError(t *testing.T) {
	m, _ := newTestMonitor(t, nil, time.Hour)

	// 19 successes and one fresh failure: rate 0.95 but the error is
	// newer than W/4, so not healthy.
	for i := 0; i < 19; i++ {
		require.NoError(t, m.Record("a", "work", time.Millisecond, true, nil))
	}
	require.NoError(t, m.Record("a", "work", time.Millisecond, false, nil))

	roll, err := m.Status("a", 0)
	require.NoError(t, err)
	assert.Equal(t, types.HealthDegraded, roll.Status)
	require.NotNil(t, roll.LastErrorAt)
}

func TestStatusDown(t *testing.T) {
	m, _ := newTestMonitor(t, nil, time.Hour)

	require.NoError(t, m.Record("a", "work", time.Millisecond, true, nil))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Record("a", "work", time.Millisecond, false, nil))
	}

	roll, err := m.Status("a", 0)
	require.NoError(t, err)
	assert.Equal(t, types.HealthDown, roll.Status)
}

func TestWindowExcludesOldSamples(t *testing.T) {
	m, clock := newTestMonitor(t, nil, time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Record("a", "work", time.Millisecond, false, nil))
	}
	clock.advance(2 * time.Hour)

	roll, err := m.Status("a", 0)
	require.NoError(t, err)
	assert.Equal(t, types.HealthUnknown, roll.Status, "old failures fell out of the window")
}

func TestTrackRecordsBothOutcomes(t *testing.T) {
	m, _ := newTestMonitor(t, nil, time.Hour)

	require.NoError(t, m.Track("a", "sync", nil, func() error { return nil }))

	boom := errors.New("connection refused")
	err := m.Track("a", "sync", map[string]string{"host": "printer"}, func() error { return boom })
	require.ErrorIs(t, err, boom, "Track returns the callback error unchanged")

	failures, err := m.RecentErrors(10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "connection refused", failures[0].Error)
	assert.Equal(t, "printer", failures[0].Context["host"])
}

func TestRecordValidation(t *testing.T) {
	m, _ := newTestMonitor(t, nil, time.Hour)

	err := m.Record("", "work", time.Millisecond, true, nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsUsage(err))
}

func TestDashboardCoversAllAgents(t *testing.T) {
	m, _ := newTestMonitor(t, nil, time.Hour)

	require.NoError(t, m.Record("a", "work", time.Millisecond, true, nil))
	require.NoError(t, m.Record("b", "work", time.Millisecond, false, nil))

	dash, err := m.Dashboard()
	require.NoError(t, err)
	require.Len(t, dash, 2)
	assert.Contains(t, dash, "a")
	assert.Contains(t, dash, "b")
}

func TestRecentErrorsNewestFirstAndLimited(t *testing.T) {
	m, clock := newTestMonitor(t, nil, time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Track("a", "work", nil, func() error {
			return errors.New("fail")
		}))
		clock.advance(time.Second)
	}

	failures, err := m.RecentErrors(3)
	require.NoError(t, err)
	require.Len(t, failures, 3)
	assert.True(t, failures[0].EndedAt.After(failures[1].EndedAt))
	assert.True(t, failures[1].EndedAt.After(failures[2].EndedAt))
}

func TestCleanupTrimsOldSamples(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	m := New(store, ident.System, nil, time.Hour, "system")

	require.NoError(t, m.Record("a", "work", time.Millisecond, true, nil))
	require.NoError(t, m.Record("a", "work", time.Millisecond, true, nil))

	trimmed, err := m.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, trimmed, "fresh samples survive a day-long horizon")

	time.Sleep(20 * time.Millisecond)
	trimmed, err = m.Cleanup(5 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, trimmed)
}

func TestP95Percentile(t *testing.T) {
	m, _ := newTestMonitor(t, nil, time.Hour)

	for i := 1; i <= 20; i++ {
		require.NoError(t, m.Record("a", "work", time.Duration(i)*time.Millisecond, true, nil))
	}

	roll, err := m.Status("a", 0)
	require.NoError(t, err)
	assert.Equal(t, 19*time.Millisecond, roll.P95Duration)
}

// readAlerts drains the system inbox and decodes alert bodies.
func readAlerts(t *testing.T, b *bus.Bus) []Alert {
	t.Helper()
	msgs, err := b.Receive("system", 0, false)
	require.NoError(t, err)
	alerts := make([]Alert, 0, len(msgs))
	for _, msg := range msgs {
		var a Alert
		require.NoError(t, json.Unmarshal(msg.Body, &a))
		alerts = append(alerts, a)
	}
	return alerts
}

func TestTransitionAlertAndRecovery(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := &fakeClock{now: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	b := bus.New(store, clock, 0)
	m := New(store, clock, b, time.Hour, "system")

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Record("a", "work", time.Millisecond, true, nil))
		clock.advance(time.Second)
	}
	roll, err := m.Status("a", 0)
	require.NoError(t, err)
	require.Equal(t, types.HealthHealthy, roll.Status)
	assert.Empty(t, readAlerts(t, b), "unknown to healthy does not alert")

	// The successes age out, then three straight failures take the
	// agent down.
	clock.advance(2 * time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Record("a", "work", time.Millisecond, false, nil))
		clock.advance(time.Second)
	}
	roll, err = m.Status("a", 0)
	require.NoError(t, err)
	require.Equal(t, types.HealthDown, roll.Status)

	msgs, err := b.Receive("system", 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, msgs, "degradation alert reaches the recipient inbox")
	assert.Equal(t, AgentName, msgs[0].Sender)
	assert.Equal(t, types.PriorityUrgent, msgs[0].Priority)
	var alert Alert
	require.NoError(t, json.Unmarshal(msgs[0].Body, &alert))
	assert.Equal(t, "a", alert.Agent)
	assert.Equal(t, types.HealthHealthy, alert.Previous)
	for _, msg := range msgs {
		require.NoError(t, b.Acknowledge("system", msg.ID))
	}

	// Failures age out and fresh successes recover the agent.
	clock.advance(2 * time.Hour)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Record("a", "work", time.Millisecond, true, nil))
		clock.advance(time.Second)
	}
	roll, err = m.Status("a", 0)
	require.NoError(t, err)
	require.Equal(t, types.HealthHealthy, roll.Status)

	alerts := readAlerts(t, b)
	require.Len(t, alerts, 1, "recovery message appears")
	assert.Equal(t, types.HealthHealthy, alerts[0].Status)
}

func TestTransitionDebounce(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := &fakeClock{now: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	b := bus.New(store, clock, 0)
	window := 12 * time.Minute
	m := New(store, clock, b, window, "system")

	for i := 0; i < 20; i++ {
		require.NoError(t, m.Record("a", "work", time.Millisecond, true, nil))
	}

	// First degradation alerts.
	require.NoError(t, m.Record("a", "work", time.Millisecond, false, nil))
	alerts := readAlerts(t, b)
	require.Len(t, alerts, 1)
	require.Equal(t, types.HealthDegraded, alerts[0].Status)
	require.NoError(t, b.Acknowledge("system", mustLastID(t, b)))

	// Error quiets down past W/4, agent recovers.
	clock.advance(3*time.Minute + 30*time.Second)
	require.NoError(t, m.Record("a", "work", time.Millisecond, true, nil))
	roll, err := m.Status("a", 0)
	require.NoError(t, err)
	require.Equal(t, types.HealthHealthy, roll.Status)

	// Degrading again 4 minutes after the first alert: suppressed.
	clock.advance(30 * time.Second)
	require.NoError(t, m.Record("a", "work", time.Millisecond, false, nil))
	roll, err = m.Status("a", 0)
	require.NoError(t, err)
	require.Equal(t, types.HealthDegraded, roll.Status)

	for _, a := range readAlerts(t, b) {
		assert.NotEqual(t, types.HealthDegraded, a.Status,
			"repeat degraded alert within 5 minutes is suppressed")
	}
}

func mustLastID(t *testing.T, b *bus.Bus) string {
	t.Helper()
	msgs, err := b.Peek("system")
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1].ID
}
