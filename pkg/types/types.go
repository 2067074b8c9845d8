package types

import (
	"context"
	"time"
)

// SchemaVersion is stamped on every persisted record. Readers tolerate
// records with a newer version as long as the fields they know are present.
const SchemaVersion = 1

// Priority orders messages within an inbox. Higher drains first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the drain order of a priority; lower rank drains first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// MessageState tracks where a message is in its lifecycle. A message is in
// exactly one state at a time.
type MessageState string

const (
	MessageQueued       MessageState = "queued"
	MessageDelivered    MessageState = "delivered" // delivered but unread (not yet acknowledged)
	MessageAcknowledged MessageState = "acknowledged"
	MessageExpired      MessageState = "expired"
)

// Message is one inter-agent message. ID is a fingerprint of
// sender+timestamp+body, which makes Send idempotent per id.
type Message struct {
	Schema         int          `json:"schema"`
	ID             string       `json:"id"`
	Sender         string       `json:"sender"`
	Recipient      string       `json:"recipient"`
	Priority       Priority     `json:"priority"`
	Body           []byte       `json:"body"`
	ContentType    string       `json:"content_type,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	DeliveredAt    *time.Time   `json:"delivered_at,omitempty"`
	AcknowledgedAt *time.Time   `json:"acknowledged_at,omitempty"`
	State          MessageState `json:"state"`
}

// InboxCounts summarizes a recipient's inbox by state.
type InboxCounts struct {
	Queued       int `json:"queued"`
	Delivered    int `json:"delivered"`
	Acknowledged int `json:"acknowledged"`
}

// SharedValue is one TTL-scoped shared-state entry. ExpiresAt nil means the
// value never expires. Read-time filtering, not background cleanup, is what
// makes TTL correct.
type SharedValue struct {
	Schema    int        `json:"schema"`
	Key       string     `json:"key"`
	Payload   []byte     `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// LockInfo describes the current holder of a named lock. Locks are
// in-memory only and do not survive restart.
type LockInfo struct {
	Name       string    `json:"name"`
	Holder     string    `json:"holder"`
	Activity   string    `json:"activity"`
	AcquiredAt time.Time `json:"acquired_at"`
	LeaseUntil time.Time `json:"lease_until"`
	Waiters    int       `json:"waiters"`
}

// HealthSample is one recorded execution. Samples are append-only.
type HealthSample struct {
	Schema    int               `json:"schema"`
	Agent     string            `json:"agent"`
	Activity  string            `json:"activity"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// Duration is the sample's execution time.
func (s HealthSample) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// HealthStatus is the derived per-agent status over a rolling window.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
	HealthUnknown  HealthStatus = "unknown"
)

// RollUp is the derived health view of one agent over a window.
type RollUp struct {
	Agent        string        `json:"agent"`
	Window       time.Duration `json:"window"`
	SampleCount  int           `json:"sample_count"`
	SuccessRate  float64       `json:"success_rate"`
	MeanDuration time.Duration `json:"mean_duration"`
	P95Duration  time.Duration `json:"p95_duration"`
	LastErrorAt  *time.Time    `json:"last_error_at,omitempty"`
	Status       HealthStatus  `json:"status"`
}

// CacheEntry is one cached producer result. Key is a content-addressed
// digest of function name and canonicalized arguments.
type CacheEntry struct {
	Schema    int       `json:"schema"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Tags      []string  `json:"tags,omitempty"`
}

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	EntryCount int   `json:"entry_count"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	SizeBytes  int64 `json:"size_bytes"`
}

// OnError selects a step's failure policy.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorContinue OnError = "continue"
	OnErrorRetry    OnError = "retry"
)

// Backoff selects how retry delays grow.
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy bounds step retries.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Backoff     Backoff       `json:"backoff" yaml:"backoff"`
	BaseDelay   time.Duration `json:"base_delay" yaml:"base_delay"`
}

// WorkflowTrigger names the (agent, event) pair a definition answers to.
type WorkflowTrigger struct {
	Agent string `json:"agent" yaml:"agent"`
	Event string `json:"event" yaml:"event"`
}

// WorkflowStep is one step of a definition. Inputs values may contain
// {{ vars.path }} template tokens; Condition is a restricted boolean
// expression over vars.
type WorkflowStep struct {
	TargetAgent string         `json:"target_agent" yaml:"target_agent"`
	Action      string         `json:"action" yaml:"action"`
	Inputs      map[string]any `json:"inputs,omitempty" yaml:"inputs"`
	Condition   string         `json:"condition,omitempty" yaml:"condition"`
	OnError     OnError        `json:"on_error,omitempty" yaml:"on_error"`
	Retry       *RetryPolicy   `json:"retry,omitempty" yaml:"retry"`
	Timeout     time.Duration  `json:"timeout,omitempty" yaml:"timeout"`
}

// WorkflowDefinition is a named, declarative step graph.
type WorkflowDefinition struct {
	Schema  int             `json:"schema" yaml:"-"`
	Name    string          `json:"name" yaml:"name"`
	Trigger WorkflowTrigger `json:"trigger" yaml:"trigger"`
	Steps   []WorkflowStep  `json:"steps" yaml:"steps"`
}

// RunState is the lifecycle state of a workflow run. Transitions advance
// monotonically; succeeded, failed, and cancelled are terminal.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunPaused    RunState = "paused"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// StepOutcome records what happened to one executed step.
type StepOutcome string

const (
	StepSucceeded StepOutcome = "succeeded"
	StepFailed    StepOutcome = "failed"
	StepSkipped   StepOutcome = "skipped"
)

// StepRecord is the per-step execution record inside a run.
type StepRecord struct {
	Outcome  StepOutcome `json:"outcome,omitempty"`
	Attempts int         `json:"attempts"`
	Error    string      `json:"error,omitempty"`
}

// WorkflowRun is one execution instance of a definition. Cursor is the
// zero-based index of the next step to execute; Vars accumulates the trigger
// payload and step outputs.
type WorkflowRun struct {
	Schema         int            `json:"schema"`
	RunID          string         `json:"run_id"`
	DefinitionName string         `json:"definition_name"`
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`
	State          RunState       `json:"state"`
	Cursor         int            `json:"cursor"`
	Steps          []StepRecord   `json:"steps"`
	Vars           map[string]any `json:"vars,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
}

// CronJob is one scheduled invocation of a workflow. NextRun is always the
// smallest time strictly greater than max(now, LastRun) matching Expression.
type CronJob struct {
	Schema          int            `json:"schema"`
	ID              string         `json:"id"`
	Expression      string         `json:"expression"`
	TargetWorkflow  string         `json:"target_workflow"`
	TargetEvent     string         `json:"target_event"`
	Agent           string         `json:"agent"`
	PayloadTemplate map[string]any `json:"payload_template,omitempty"`
	Enabled         bool           `json:"enabled"`
	LastRun         *time.Time     `json:"last_run,omitempty"`
	NextRun         time.Time      `json:"next_run"`
	CreatedAt       time.Time      `json:"created_at"`
}

// WebhookBinding maps a webhook path to a workflow trigger. Secret, when
// set, requires a valid X-Signature HMAC over the raw body.
type WebhookBinding struct {
	Schema         int       `json:"schema"`
	Name           string    `json:"name"`
	Secret         string    `json:"secret,omitempty"`
	TargetWorkflow string    `json:"target_workflow"`
	TargetEvent    string    `json:"target_event"`
	MaxBodyBytes   int64     `json:"max_body_bytes"`
	CreatedAt      time.Time `json:"created_at"`
}

// TriggerEvent is the common shape admitted by the scheduler, the webhook
// surface, and direct trigger calls.
type TriggerEvent struct {
	Workflow string         `json:"workflow,omitempty"`
	Agent    string         `json:"agent"`
	Event    string         `json:"event"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Envelope is the value handed to an agent handler by the router or the
// workflow engine. Handlers must be idempotent with respect to their inputs
// or tolerate re-invocation after a crash.
type Envelope struct {
	// Task carries the free-form task string for router dispatch;
	// Action carries the declared action name for workflow steps.
	// Exactly one of the two is set.
	Task       string
	Action     string
	Inputs     map[string]any
	DispatchID string
	RunID      string
	StepIndex  int
	Ctx        context.Context
}

// HandlerResult is what an agent handler returns on success. Output is
// merged into the run's variable scope for workflow steps.
type HandlerResult struct {
	Output map[string]any
}

// Handler is the agent contract entry point.
type Handler func(env Envelope) (HandlerResult, error)

// Keyword is one weighted routing token. Weights are >= 1.
type Keyword struct {
	Token  string `json:"token"`
	Weight int    `json:"weight"`
}

// AgentSpec registers an external collaborator with the runtime.
type AgentSpec struct {
	Name     string
	Keywords []Keyword
	Actions  map[string]Handler
	Handler  Handler
}

// AgentInfo is the read-only registry view of an agent.
type AgentInfo struct {
	Name     string    `json:"name"`
	Keywords []Keyword `json:"keywords"`
	Enabled  bool      `json:"enabled"`
}

// RouteResult is the router's dry-run output.
type RouteResult struct {
	Agent  string   `json:"agent"`
	Score  int      `json:"score"`
	Tokens []string `json:"tokens"`
}
