package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/types"
)

func newTestBus(t *testing.T) (*Bus, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, ident.System, 0), store
}

func bodies(msgs []*types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Body)
	}
	return out
}

func TestSendReceiveRoundTrip(t *testing.T) {
	b, _ := newTestBus(t)

	id, err := b.Send("x", "y", []byte("hello"), types.PriorityNormal)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs, err := b.Receive("y", 0, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "x", msgs[0].Sender)
	assert.Equal(t, []byte("hello"), msgs[0].Body)
	assert.NotNil(t, msgs[0].DeliveredAt)
}

func TestPriorityOrdering(t *testing.T) {
	b, _ := newTestBus(t)

	_, err := b.Send("x", "y", []byte("b1"), types.PriorityNormal)
	require.NoError(t, err)
	_, err = b.Send("x", "y", []byte("b2"), types.PriorityUrgent)
	require.NoError(t, err)
	_, err = b.Send("x", "y", []byte("b3"), types.PriorityNormal)
	require.NoError(t, err)

	msgs, err := b.Receive("y", 0, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b2", "b1", "b3"}, bodies(msgs))
}

func TestReceiveMarksDelivered(t *testing.T) {
	b, _ := newTestBus(t)

	_, err := b.Send("x", "y", []byte("once"), types.PriorityNormal)
	require.NoError(t, err)

	first, err := b.Receive("y", 0, true)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := b.Receive("y", 0, true)
	require.NoError(t, err)
	assert.Empty(t, second, "delivered messages must not be re-received in-process")
}

func TestPeekDoesNotMarkDelivered(t *testing.T) {
	b, _ := newTestBus(t)

	_, err := b.Send("x", "y", []byte("peeked"), types.PriorityNormal)
	require.NoError(t, err)

	peeked, err := b.Peek("y")
	require.NoError(t, err)
	require.Len(t, peeked, 1)

	msgs, err := b.Receive("y", 0, true)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestReceiveMax(t *testing.T) {
	b, _ := newTestBus(t)

	for _, body := range []string{"a", "b", "c"} {
		_, err := b.Send("x", "y", []byte(body), types.PriorityNormal)
		require.NoError(t, err)
	}

	msgs, err := b.Receive("y", 2, true)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	rest, err := b.Receive("y", 0, true)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestReceiveUnknownRecipientIsEmpty(t *testing.T) {
	b, _ := newTestBus(t)

	msgs, err := b.Receive("nobody", 0, true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAcknowledge(t *testing.T) {
	b, _ := newTestBus(t)

	id, err := b.Send("x", "y", []byte("ack me"), types.PriorityNormal)
	require.NoError(t, err)

	_, err = b.Receive("y", 0, true)
	require.NoError(t, err)
	require.NoError(t, b.Acknowledge("y", id))

	counts, err := b.Counts("y")
	require.NoError(t, err)
	assert.Equal(t, types.InboxCounts{Acknowledged: 1}, counts)

	// Idempotent.
	require.NoError(t, b.Acknowledge("y", id))
	counts, err = b.Counts("y")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Acknowledged)
}

func TestAcknowledgeUnknownMessage(t *testing.T) {
	b, _ := newTestBus(t)

	err := b.Acknowledge("y", "no-such-id")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestCounts(t *testing.T) {
	b, _ := newTestBus(t)

	id1, err := b.Send("x", "y", []byte("one"), types.PriorityNormal)
	require.NoError(t, err)
	_, err = b.Send("x", "y", []byte("two"), types.PriorityNormal)
	require.NoError(t, err)
	_, err = b.Send("x", "y", []byte("three"), types.PriorityNormal)
	require.NoError(t, err)

	_, err = b.Receive("y", 1, true)
	require.NoError(t, err)
	require.NoError(t, b.Acknowledge("y", id1))

	counts, err := b.Counts("y")
	require.NoError(t, err)
	assert.Equal(t, types.InboxCounts{Queued: 2, Acknowledged: 1}, counts)
}

func TestDeliveryMarksClearedOnRestart(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	b := New(store, ident.System, 0)
	_, err = b.Send("x", "y", []byte("crash victim"), types.PriorityNormal)
	require.NoError(t, err)

	got, err := b.Receive("y", 0, true)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Simulate a restart: new bus over the same store, empty delivery map.
	revived := New(store, ident.System, 0)
	again, err := revived.Receive("y", 0, true)
	require.NoError(t, err)
	require.Len(t, again, 1, "unacknowledged messages re-appear after restart")
	assert.Equal(t, []byte("crash victim"), again[0].Body)
}

func TestAcknowledgementSurvivesRestart(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	b := New(store, ident.System, 0)
	id, err := b.Send("x", "y", []byte("done"), types.PriorityNormal)
	require.NoError(t, err)
	_, err = b.Receive("y", 0, true)
	require.NoError(t, err)
	require.NoError(t, b.Acknowledge("y", id))

	revived := New(store, ident.System, 0)
	msgs, err := revived.Receive("y", 0, true)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	counts, err := revived.Counts("y")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Acknowledged)
}

func TestClear(t *testing.T) {
	b, _ := newTestBus(t)

	_, err := b.Send("x", "y", []byte("a"), types.PriorityNormal)
	require.NoError(t, err)
	_, err = b.Send("x", "y", []byte("b"), types.PriorityNormal)
	require.NoError(t, err)

	removed, err := b.Clear("y", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	msgs, err := b.Receive("y", 0, true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSweepRemovesOnlyExpiredAcknowledged(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	// Tiny retention so an acked message ages out immediately.
	b := New(store, ident.System, time.Millisecond)

	acked, err := b.Send("x", "y", []byte("old ack"), types.PriorityNormal)
	require.NoError(t, err)
	_, err = b.Send("x", "y", []byte("still queued"), types.PriorityNormal)
	require.NoError(t, err)

	_, err = b.Receive("y", 0, true)
	require.NoError(t, err)
	require.NoError(t, b.Acknowledge("y", acked))

	time.Sleep(10 * time.Millisecond)

	removed, err := b.SweepNow()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	counts, err := b.Counts("y")
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Acknowledged)
	assert.Equal(t, 1, counts.Delivered, "unacknowledged message survives the sweep")
}

func TestInvalidPriority(t *testing.T) {
	b, _ := newTestBus(t)

	_, err := b.Send("x", "y", []byte("nope"), types.Priority("weird"))
	require.Error(t, err)
	assert.True(t, errdefs.IsUsage(err))
}

func TestInboxIsolationWithSlashInName(t *testing.T) {
	b, _ := newTestBus(t)

	id, err := b.Send("x", "a/b", []byte("for a/b"), types.PriorityNormal)
	require.NoError(t, err)

	// "a" shares a key prefix with "a/b" but must not see its mail.
	msgs, err := b.Receive("a", 0, false)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = b.Receive("a/b", 0, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a/b", msgs[0].Recipient)
	require.NoError(t, b.Acknowledge("a/b", id))

	counts, err := b.Counts("a")
	require.NoError(t, err)
	assert.Zero(t, counts.Queued+counts.Delivered+counts.Acknowledged)
}

func TestSendTypedContentType(t *testing.T) {
	b, _ := newTestBus(t)

	_, err := b.SendTyped("x", "y", "application/json", []byte(`{"k":1}`), types.PriorityNormal)
	require.NoError(t, err)
	_, err = b.Send("x", "y", []byte("plain"), types.PriorityNormal)
	require.NoError(t, err)

	msgs, err := b.Receive("y", 0, false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	got := map[string]string{}
	for _, m := range msgs {
		got[string(m.Body)] = m.ContentType
	}
	assert.Equal(t, "application/json", got[`{"k":1}`])
	assert.Equal(t, "text/plain", got["plain"])
}
