package health

import (
	"encoding/json"
	"fmt"
	"sort"
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
	// AgentName is the synthetic sender of health alerts.
	AgentName = "health-monitor"

	// DefaultWindow is the rolling window for roll-ups.
	DefaultWindow = 24 * time.Hour

	// DefaultAlertRecipient receives transition alerts unless configured.
	DefaultAlertRecipient = "system"

	// debounceWindow suppresses a repeated identical transition.
	debounceWindow = 5 * time.Minute
)

// Alerter is the slice of the messaging bus the monitor needs.
type Alerter interface {
	SendTyped(sender, recipient, contentType string, body []byte, priority types.Priority) (string, error)
}

// Alert is the body of a transition message.
type Alert struct {
	Agent    string             `json:"agent"`
	Status   types.HealthStatus `json:"status"`
	Previous types.HealthStatus `json:"previous"`
	Message  string             `json:"message"`
}

// Monitor records executions and derives windowed per-agent status.
// Samples are append-only and durable; transition state is in-memory.
type Monitor struct {
	store          storage.Store
	clock          ident.Clock
	alerter        Alerter
	logger         zerolog.Logger
	window         time.Duration
	alertRecipient string

	mu         sync.Mutex
	lastStatus map[string]types.HealthStatus
	lastAlert  map[string]time.Time // "agent→status" -> alerted at
}

// New creates a health monitor. alerter may be nil, which disables alerts
// (used by CLI one-shots).
func New(store storage.Store, clock ident.Clock, alerter Alerter, window time.Duration, alertRecipient string) *Monitor {
	if window <= 0 {
		window = DefaultWindow
	}
	if alertRecipient == "" {
		alertRecipient = DefaultAlertRecipient
	}
	return &Monitor{
		store:          store,
		clock:          clock,
		alerter:        alerter,
		logger:         log.WithComponent("health"),
		window:         window,
		alertRecipient: alertRecipient,
		lastStatus:     make(map[string]types.HealthStatus),
		lastAlert:      make(map[string]time.Time),
	}
}

// Track runs fn as a scoped region, recording a sample on every exit path.
// The error, if any, is recorded as a failure and returned unchanged.
func (m *Monitor) Track(agent, activity string, ctx map[string]string, fn func() error) error {
	started := m.clock.Now()
	err := fn()
	ended := m.clock.Now()

	sample := types.HealthSample{
		Schema:    types.SchemaVersion,
		Agent:     agent,
		Activity:  activity,
		StartedAt: started,
		EndedAt:   ended,
		Success:   err == nil,
		Context:   ctx,
	}
	if err != nil {
		sample.Error = err.Error()
	}
	if recErr := m.append(sample); recErr != nil {
		m.logger.Error().Err(recErr).Str("agent", agent).Msg("failed to record health sample")
	}
	return err
}

// Record adds an explicit sample.
func (m *Monitor) Record(agent, activity string, duration time.Duration, success bool, ctx map[string]string) error {
	if agent == "" || activity == "" {
		return errdefs.New(errdefs.KindUsage, "agent and activity are required")
	}
	ended := m.clock.Now()
	return m.append(types.HealthSample{
		Schema:    types.SchemaVersion,
		Agent:     agent,
		Activity:  activity,
		StartedAt: ended.Add(-duration),
		EndedAt:   ended,
		Success:   success,
		Context:   ctx,
	})
}

func (m *Monitor) append(sample types.HealthSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err)
	}
	if _, err := m.store.Append(storage.NamespaceHealth, data); err != nil {
		return err
	}

	outcome := "success"
	if !sample.Success {
		outcome = "failure"
	}
	metrics.HealthSamplesTotal.WithLabelValues(outcome).Inc()

	m.checkTransition(sample.Agent)
	return nil
}

// Status derives the roll-up for one agent. A zero window uses the default.
func (m *Monitor) Status(agent string, window time.Duration) (types.RollUp, error) {
	if window <= 0 {
		window = m.window
	}
	samples, err := m.samples(agent, window)
	if err != nil {
		return types.RollUp{}, err
	}
	return m.rollUp(agent, window, samples), nil
}

// Dashboard returns the roll-up of every agent with samples in the window.
func (m *Monitor) Dashboard() (map[string]types.RollUp, error) {
	samples, err := m.samples("", m.window)
	if err != nil {
		return nil, err
	}
	byAgent := make(map[string][]types.HealthSample)
	for _, s := range samples {
		byAgent[s.Agent] = append(byAgent[s.Agent], s)
	}
	out := make(map[string]types.RollUp, len(byAgent))
	for agent, agentSamples := range byAgent {
		out[agent] = m.rollUp(agent, m.window, agentSamples)
	}
	return out, nil
}

// RecentErrors returns the latest failure samples, newest first.
func (m *Monitor) RecentErrors(limit int) ([]types.HealthSample, error) {
	samples, err := m.samples("", m.window)
	if err != nil {
		return nil, err
	}
	var failures []types.HealthSample
	for _, s := range samples {
		if !s.Success {
			failures = append(failures, s)
		}
	}
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].EndedAt.After(failures[j].EndedAt)
	})
	if limit > 0 && len(failures) > limit {
		failures = failures[:limit]
	}
	return failures, nil
}

// Cleanup drops samples older than the given age.
func (m *Monitor) Cleanup(olderThan time.Duration) (int, error) {
	return m.store.TrimLog(storage.NamespaceHealth, m.clock.Now().Add(-olderThan))
}

// samples loads samples in the window, all agents when agent is empty.
func (m *Monitor) samples(agent string, window time.Duration) ([]types.HealthSample, error) {
	cutoff := m.clock.Now().Add(-window)
	var out []types.HealthSample
	err := m.store.ReadLog(storage.NamespaceHealth, func(seq uint64, record []byte) error {
		var s types.HealthSample
		if err := json.Unmarshal(record, &s); err != nil {
			return fmt.Errorf("corrupt health sample %d: %w", seq, err)
		}
		if agent != "" && s.Agent != agent {
			return nil
		}
		if s.EndedAt.Before(cutoff) {
			return nil
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rollUp applies the status rules over the agent's samples.
func (m *Monitor) rollUp(agent string, window time.Duration, samples []types.HealthSample) types.RollUp {
	roll := types.RollUp{Agent: agent, Window: window, Status: types.HealthUnknown}
	if len(samples) == 0 {
		return roll
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].EndedAt.Before(samples[j].EndedAt)
	})

	durations := make([]time.Duration, 0, len(samples))
	var total time.Duration
	successes := 0
	var lastErrorAt *time.Time
	for _, s := range samples {
		d := s.Duration()
		durations = append(durations, d)
		total += d
		if s.Success {
			successes++
		} else {
			endedAt := s.EndedAt
			lastErrorAt = &endedAt
		}
	}

	roll.SampleCount = len(samples)
	roll.SuccessRate = float64(successes) / float64(len(samples))
	roll.MeanDuration = total / time.Duration(len(samples))
	roll.P95Duration = percentile(durations, 0.95)
	roll.LastErrorAt = lastErrorAt

	lastThreeFailures := true
	lastThreeMixed := false
	tail := samples
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	sawSuccess, sawFailure := false, false
	for _, s := range tail {
		if s.Success {
			lastThreeFailures = false
			sawSuccess = true
		} else {
			sawFailure = true
		}
	}
	lastThreeMixed = sawSuccess && sawFailure

	errorQuiet := lastErrorAt == nil || m.clock.Now().Sub(*lastErrorAt) > window/4
	switch {
	case roll.SuccessRate >= 0.95 && errorQuiet:
		roll.Status = types.HealthHealthy
	case roll.SuccessRate < 0.50 && len(samples) >= 3 && lastThreeFailures:
		roll.Status = types.HealthDown
	case roll.SuccessRate >= 0.50 || lastThreeMixed:
		roll.Status = types.HealthDegraded
	default:
		roll.Status = types.HealthDegraded
	}
	return roll
}

// percentile returns the p-th percentile by nearest-rank.
func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// checkTransition emits alert messages on status transitions, debounced.
func (m *Monitor) checkTransition(agent string) {
	roll, err := m.Status(agent, 0)
	if err != nil {
		m.logger.Error().Err(err).Str("agent", agent).Msg("status derivation failed")
		return
	}

	m.mu.Lock()
	previous, known := m.lastStatus[agent]
	if !known {
		previous = types.HealthUnknown
	}
	m.lastStatus[agent] = roll.Status
	if roll.Status == previous {
		m.mu.Unlock()
		return
	}

	degrading := (previous == types.HealthHealthy || previous == types.HealthUnknown) &&
		(roll.Status == types.HealthDegraded || roll.Status == types.HealthDown)
	recovering := (previous == types.HealthDegraded || previous == types.HealthDown) &&
		roll.Status == types.HealthHealthy
	if !degrading && !recovering {
		m.mu.Unlock()
		return
	}

	key := agent + "→" + string(roll.Status)
	now := m.clock.Now()
	if last, ok := m.lastAlert[key]; ok && now.Sub(last) < debounceWindow {
		m.mu.Unlock()
		return
	}
	m.lastAlert[key] = now
	m.mu.Unlock()

	if m.alerter == nil {
		return
	}

	alert := Alert{Agent: agent, Status: roll.Status, Previous: previous}
	priority := types.PriorityUrgent
	if recovering {
		alert.Message = fmt.Sprintf("agent %s recovered: %s → %s", agent, previous, roll.Status)
		priority = types.PriorityHigh
	} else {
		alert.Message = fmt.Sprintf("agent %s degraded: %s → %s", agent, previous, roll.Status)
	}
	body, _ := json.Marshal(alert)
	if _, err := m.alerter.SendTyped(AgentName, m.alertRecipient, "application/json", body, priority); err != nil {
		m.logger.Error().Err(err).Str("agent", agent).Msg("failed to send health alert")
		return
	}
	metrics.HealthAlertsTotal.WithLabelValues(string(roll.Status)).Inc()
	m.logger.Warn().Str("agent", agent).
		Str("from", string(previous)).Str("to", string(roll.Status)).Msg("health transition")
}
