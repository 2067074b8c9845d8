package bus

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/log"
	"github.com/hearth-sh/hearth/pkg/metrics"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/types"
)

const (
	// DefaultRetention is how long acknowledged messages are kept.
	DefaultRetention = 7 * 24 * time.Hour

	// minSweepInterval caps how often the retention sweeper may fire.
	minSweepInterval = time.Minute
)

// stored wraps a message with its enqueue sequence. The sequence breaks
// FIFO ties within a priority when created_at timestamps collide.
type stored struct {
	types.Message
	Seq uint64 `json:"seq"`
}

// Bus provides per-agent ordered inboxes with priority and at-most-once
// delivery. Enqueue and acknowledgement are durable; delivery marks are
// in-memory only, so messages received but not acknowledged before a crash
// re-appear after restart.
type Bus struct {
	store     storage.Store
	clock     ident.Clock
	logger    zerolog.Logger
	retention time.Duration

	mu        sync.Mutex
	delivered map[string]time.Time // message id -> delivered at (this process only)

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a messaging bus over the given store. A non-positive
// retention falls back to DefaultRetention.
func New(store storage.Store, clock ident.Clock, retention time.Duration) *Bus {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Bus{
		store:     store,
		clock:     clock,
		logger:    log.WithComponent("bus"),
		retention: retention,
		delivered: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the retention sweeper.
func (b *Bus) Start() {
	go b.run()
}

// Stop stops the sweeper and waits for it to exit.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	ticker := time.NewTicker(minSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := b.SweepNow(); err != nil {
				b.logger.Error().Err(err).Msg("retention sweep failed")
			} else if n > 0 {
				b.logger.Debug().Int("removed", n).Msg("retention sweep")
			}
		case <-b.stopCh:
			return
		}
	}
}

func messageKey(recipient, id string) string {
	return recipient + "/" + id
}

// Send enqueues a text/plain message. The message id is a fingerprint of
// sender, timestamp, and body; a second Send producing the same id is a
// no-op and returns the same id.
func (b *Bus) Send(sender, recipient string, body []byte, priority types.Priority) (string, error) {
	return b.SendTyped(sender, recipient, "text/plain", body, priority)
}

// SendTyped enqueues a message with an explicit content type. An empty
// contentType falls back to text/plain.
func (b *Bus) SendTyped(sender, recipient, contentType string, body []byte, priority types.Priority) (string, error) {
	if sender == "" || recipient == "" {
		return "", errdefs.New(errdefs.KindUsage, "sender and recipient are required")
	}
	if contentType == "" {
		contentType = "text/plain"
	}
	if priority == "" {
		priority = types.PriorityNormal
	}
	if !priority.Valid() {
		return "", errdefs.New(errdefs.KindUsage, "unknown priority %q", priority)
	}

	now := b.clock.Now()
	id := ident.FingerprintStrings(sender, strconv.FormatInt(now.UnixNano(), 10), string(body))
	key := messageKey(recipient, id)

	existing, err := b.store.Get(storage.NamespaceMessages, key)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return id, nil
	}

	seq, err := b.store.NextSeq(storage.NamespaceMessages)
	if err != nil {
		return "", err
	}

	msg := stored{
		Message: types.Message{
			Schema:      types.SchemaVersion,
			ID:          id,
			Sender:      sender,
			Recipient:   recipient,
			Priority:    priority,
			ContentType: contentType,
			Body:        body,
			CreatedAt:   now,
			State:       types.MessageQueued,
		},
		Seq: seq,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, err)
	}
	if err := b.store.Put(storage.NamespaceMessages, key, data, 0); err != nil {
		return "", err
	}

	metrics.MessagesSentTotal.WithLabelValues(string(priority)).Inc()
	b.logger.Debug().Str("sender", sender).Str("recipient", recipient).
		Str("priority", string(priority)).Str("message_id", id).Msg("message enqueued")
	return id, nil
}

// Receive returns undelivered messages in inbox order and, when
// markDelivered is set, marks them delivered for this process. max <= 0
// means no limit. An unknown recipient yields an empty result, not an error.
func (b *Bus) Receive(recipient string, max int, markDelivered bool) ([]*types.Message, error) {
	msgs, err := b.pending(recipient)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(msgs) > max {
		msgs = msgs[:max]
	}

	if markDelivered {
		now := b.clock.Now()
		b.mu.Lock()
		for _, m := range msgs {
			b.delivered[m.ID] = now
			deliveredAt := now
			m.DeliveredAt = &deliveredAt
			m.State = types.MessageDelivered
		}
		b.mu.Unlock()
	}
	return msgs, nil
}

// Peek returns undelivered messages without marking them delivered.
func (b *Bus) Peek(recipient string) ([]*types.Message, error) {
	return b.pending(recipient)
}

// pending loads queued, not-yet-delivered messages in inbox order:
// priority desc, then created_at asc, then enqueue sequence.
func (b *Bus) pending(recipient string) ([]*types.Message, error) {
	records, err := b.load(recipient)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	var out []*stored
	for _, rec := range records {
		if rec.State != types.MessageQueued {
			continue
		}
		if _, seen := b.delivered[rec.ID]; seen {
			continue
		}
		out = append(out, rec)
	}
	b.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})

	msgs := make([]*types.Message, len(out))
	for i, rec := range out {
		m := rec.Message
		msgs[i] = &m
	}
	return msgs, nil
}

// Acknowledge moves a delivered message to acknowledged. Durable: an acked
// message stays acked across restarts. Acknowledging an already-acked
// message is a no-op.
func (b *Bus) Acknowledge(recipient, messageID string) error {
	key := messageKey(recipient, messageID)
	entry, err := b.store.Get(storage.NamespaceMessages, key)
	if err != nil {
		return err
	}
	if entry == nil {
		return errdefs.New(errdefs.KindNotFound, "message %s not found for %s", messageID, recipient)
	}

	var rec stored
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return errdefs.Wrap(errdefs.KindStorage, fmt.Errorf("corrupt message %s: %w", key, err))
	}
	if rec.State == types.MessageAcknowledged {
		return nil
	}

	now := b.clock.Now()
	rec.State = types.MessageAcknowledged
	rec.AcknowledgedAt = &now
	data, err := json.Marshal(rec)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err)
	}
	if err := b.store.Put(storage.NamespaceMessages, key, data, 0); err != nil {
		return err
	}

	b.mu.Lock()
	delete(b.delivered, messageID)
	b.mu.Unlock()

	metrics.MessagesAcknowledgedTotal.Inc()
	return nil
}

// Counts summarizes a recipient's inbox by state.
func (b *Bus) Counts(recipient string) (types.InboxCounts, error) {
	records, err := b.load(recipient)
	if err != nil {
		return types.InboxCounts{}, err
	}

	var counts types.InboxCounts
	b.mu.Lock()
	for _, rec := range records {
		switch rec.State {
		case types.MessageAcknowledged:
			counts.Acknowledged++
		case types.MessageQueued:
			if _, seen := b.delivered[rec.ID]; seen {
				counts.Delivered++
			} else {
				counts.Queued++
			}
		}
	}
	b.mu.Unlock()
	return counts, nil
}

// Clear removes a recipient's messages. A zero olderThan removes all of
// them; otherwise only messages created before clock.Now()-olderThan go.
func (b *Bus) Clear(recipient string, olderThan time.Duration) (int, error) {
	records, err := b.load(recipient)
	if err != nil {
		return 0, err
	}

	var cutoff time.Time
	if olderThan > 0 {
		cutoff = b.clock.Now().Add(-olderThan)
	}

	removed := 0
	for _, rec := range records {
		if olderThan > 0 && !rec.CreatedAt.Before(cutoff) {
			continue
		}
		existed, err := b.store.Delete(storage.NamespaceMessages, messageKey(recipient, rec.ID))
		if err != nil {
			return removed, err
		}
		if existed {
			b.mu.Lock()
			delete(b.delivered, rec.ID)
			b.mu.Unlock()
			removed++
		}
	}
	return removed, nil
}

// SweepNow removes acknowledged messages whose acknowledged_at is older
// than the retention window. Unacknowledged messages are never dropped.
func (b *Bus) SweepNow() (int, error) {
	cutoff := b.clock.Now().Add(-b.retention)

	var stale []string
	err := b.store.Scan(storage.NamespaceMessages, "", func(key string, e *storage.Entry) error {
		var rec stored
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil // skip corrupt records, never fail the sweep
		}
		if rec.State == types.MessageAcknowledged && rec.AcknowledgedAt != nil && rec.AcknowledgedAt.Before(cutoff) {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range stale {
		existed, err := b.store.Delete(storage.NamespaceMessages, key)
		if err != nil {
			return removed, err
		}
		if existed {
			removed++
		}
	}
	if removed > 0 {
		metrics.MessagesSweptTotal.Add(float64(removed))
	}
	return removed, nil
}

func (b *Bus) load(recipient string) ([]*stored, error) {
	var records []*stored
	err := b.store.Scan(storage.NamespaceMessages, recipient+"/", func(key string, e *storage.Entry) error {
		var rec stored
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return fmt.Errorf("corrupt message %s: %w", key, err)
		}
		// The key prefix alone would also match inboxes of recipients
		// whose name extends this one past a slash ("a" vs "a/b").
		if rec.Recipient != recipient {
			return nil
		}
		records = append(records, &rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
