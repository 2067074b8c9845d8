package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/log"
	"github.com/hearth-sh/hearth/pkg/metrics"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/types"
)

// DefaultQueueDepth bounds runs accepted but not yet executing.
const DefaultQueueDepth = 1024

// DefaultWorkers returns the default step worker count.
func DefaultWorkers() int {
	w := runtime.NumCPU()
	if w > 8 {
		w = 8
	}
	if w < 1 {
		w = 1
	}
	return w
}

// HandlerResolver resolves agent step handlers; satisfied by agent.Registry.
type HandlerResolver interface {
	ResolveAction(agentName, action string) (types.Handler, error)
}

// Tracker records step executions; satisfied by health.Monitor.
type Tracker interface {
	Track(agent, activity string, ctx map[string]string, fn func() error) error
}

// Options tune the engine.
type Options struct {
	Workers    int
	QueueDepth int
}

// errRunFinished aborts execution when another writer moved the run to a
// terminal state.
var errRunFinished = errors.New("run reached a terminal state")

type runControl struct {
	cancel context.CancelFunc
	pause  bool
}

// Engine executes workflow runs on a bounded worker pool. Runs persist
// after every transition, so an interrupted run resumes from its cursor
// with the current step restarted from scratch.
type Engine struct {
	store    storage.Store
	defs     *Definitions
	resolver HandlerResolver
	health   Tracker
	clock    ident.Clock
	logger   zerolog.Logger
	queue    chan string
	workers  int

	group  errgroup.Group
	stopCh chan struct{}

	mu       sync.Mutex
	controls map[string]*runControl
}

// NewEngine creates a workflow engine. Zero options take defaults.
func NewEngine(store storage.Store, defs *Definitions, resolver HandlerResolver, health Tracker, clock ident.Clock, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	return &Engine{
		store:    store,
		defs:     defs,
		resolver: resolver,
		health:   health,
		clock:    clock,
		logger:   log.WithComponent("workflow"),
		queue:    make(chan string, opts.QueueDepth),
		workers:  opts.Workers,
		stopCh:   make(chan struct{}),
		controls: make(map[string]*runControl),
	}
}

// Start launches the worker pool and re-enqueues unfinished runs.
func (e *Engine) Start() error {
	if err := e.resumeUnfinished(); err != nil {
		return err
	}
	for i := 0; i < e.workers; i++ {
		e.group.Go(e.worker)
	}
	e.logger.Info().Int("workers", e.workers).Msg("workflow engine started")
	return nil
}

// Stop drains the workers. In-flight steps are cancelled.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.mu.Lock()
	for _, c := range e.controls {
		c.cancel()
	}
	e.mu.Unlock()
	_ = e.group.Wait()
}

// resumeUnfinished re-enqueues pending and running runs after a restart.
// The step that was mid-invocation restarts from scratch.
func (e *Engine) resumeUnfinished() error {
	var stale []string
	err := e.store.Scan(storage.NamespaceRuns, "", func(key string, entry *storage.Entry) error {
		var run types.WorkflowRun
		if err := json.Unmarshal(entry.Value, &run); err != nil {
			return fmt.Errorf("corrupt run %s: %w", key, err)
		}
		if run.State == types.RunPending || run.State == types.RunRunning {
			stale = append(stale, run.RunID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, runID := range stale {
		select {
		case e.queue <- runID:
			e.logger.Info().Str("run_id", runID).Msg("resuming unfinished run")
		default:
			e.logger.Warn().Str("run_id", runID).Msg("queue full, run not resumed")
		}
	}
	metrics.WorkflowQueueDepth.Set(float64(len(e.queue)))
	return nil
}

// Trigger matches (agent, event) against stored definitions and enqueues a
// run of the first match by name. The run executes asynchronously.
func (e *Engine) Trigger(agent, event string, payload map[string]any) (string, error) {
	if agent == "" || event == "" {
		return "", errdefs.New(errdefs.KindUsage, "trigger agent and event are required")
	}
	matched, err := e.defs.Match(agent, event)
	if err != nil {
		return "", err
	}
	if len(matched) == 0 {
		return "", errdefs.New(errdefs.KindNotFound, "no definition triggers on %s/%s", agent, event)
	}
	def := matched[0]
	if len(matched) > 1 {
		e.logger.Warn().Str("agent", agent).Str("event", event).
			Str("chosen", def.Name).Msg("multiple definitions match trigger")
	}
	return e.startRun(def, payload)
}

// TriggerNamed starts the named definition directly, bypassing trigger
// matching. Cron jobs and webhook bindings use this so a binding to
// workflow W always starts W, even when another definition shares the
// same trigger pair. An empty name falls back to Trigger matching.
func (e *Engine) TriggerNamed(definition, agent, event string, payload map[string]any) (string, error) {
	if definition == "" {
		return e.Trigger(agent, event, payload)
	}
	def, err := e.defs.Get(definition)
	if err != nil {
		return "", err
	}
	return e.startRun(def, payload)
}

func (e *Engine) startRun(def *types.WorkflowDefinition, payload map[string]any) (string, error) {
	vars := make(map[string]any, len(payload))
	for k, v := range payload {
		vars[k] = v
	}
	run := &types.WorkflowRun{
		Schema:         types.SchemaVersion,
		RunID:          ident.NewID(),
		DefinitionName: def.Name,
		TriggerPayload: payload,
		State:          types.RunPending,
		Steps:          make([]types.StepRecord, len(def.Steps)),
		Vars:           vars,
		StartedAt:      e.clock.Now(),
	}
	data, err := json.Marshal(run)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, err)
	}
	if err := e.store.CAS(storage.NamespaceRuns, run.RunID, 0, data); err != nil {
		return "", err
	}

	select {
	case e.queue <- run.RunID:
		metrics.WorkflowQueueDepth.Set(float64(len(e.queue)))
	default:
		_, _ = e.store.Delete(storage.NamespaceRuns, run.RunID)
		return "", errdefs.New(errdefs.KindCapacity, "workflow queue full (%d runs)", cap(e.queue))
	}

	e.logger.Debug().Str("run_id", run.RunID).Str("definition", def.Name).Msg("run enqueued")
	return run.RunID, nil
}

// Status returns a run by id.
func (e *Engine) Status(runID string) (*types.WorkflowRun, error) {
	run, _, err := e.loadRun(runID)
	return run, err
}

// Cancel stops a run. A queued or paused run is cancelled directly; a
// running run aborts at its next suspension point. Terminal runs conflict.
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	control, active := e.controls[runID]
	e.mu.Unlock()
	if active {
		control.cancel()
		return nil
	}

	run, version, err := e.loadRun(runID)
	if err != nil {
		return err
	}
	if run.State.Terminal() {
		return errdefs.New(errdefs.KindConflict, "run %s already %s", runID, run.State)
	}
	e.finish(run, types.RunCancelled, "cancelled before execution")
	return e.casRun(run, &version)
}

// Pause requests a pause. A running run parks at the next step boundary;
// a queued run is paused directly.
func (e *Engine) Pause(runID string) error {
	e.mu.Lock()
	control, active := e.controls[runID]
	if active {
		control.pause = true
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	run, version, err := e.loadRun(runID)
	if err != nil {
		return err
	}
	if run.State != types.RunPending {
		return errdefs.New(errdefs.KindConflict, "run %s is %s, not pausable", runID, run.State)
	}
	run.State = types.RunPaused
	return e.casRun(run, &version)
}

// Resume re-enqueues a paused run. The run goes straight back to running;
// it never re-enters pending.
func (e *Engine) Resume(runID string) error {
	run, version, err := e.loadRun(runID)
	if err != nil {
		return err
	}
	if run.State != types.RunPaused {
		return errdefs.New(errdefs.KindConflict, "run %s is %s, not paused", runID, run.State)
	}
	run.State = types.RunRunning
	if err := e.casRun(run, &version); err != nil {
		return err
	}
	select {
	case e.queue <- runID:
		metrics.WorkflowQueueDepth.Set(float64(len(e.queue)))
		return nil
	default:
		return errdefs.New(errdefs.KindCapacity, "workflow queue full (%d runs)", cap(e.queue))
	}
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	State      types.RunState
	Definition string
}

// List returns runs matching the filter, newest first.
func (e *Engine) List(filter ListFilter) ([]*types.WorkflowRun, error) {
	var runs []*types.WorkflowRun
	err := e.store.Scan(storage.NamespaceRuns, "", func(key string, entry *storage.Entry) error {
		var run types.WorkflowRun
		if err := json.Unmarshal(entry.Value, &run); err != nil {
			return fmt.Errorf("corrupt run %s: %w", key, err)
		}
		if filter.State != "" && run.State != filter.State {
			return nil
		}
		if filter.Definition != "" && run.DefinitionName != filter.Definition {
			return nil
		}
		runs = append(runs, &run)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	return runs, nil
}

func (e *Engine) worker() error {
	for {
		select {
		case <-e.stopCh:
			return nil
		case runID := <-e.queue:
			metrics.WorkflowQueueDepth.Set(float64(len(e.queue)))
			e.execute(runID)
		}
	}
}

func (e *Engine) execute(runID string) {
	run, version, err := e.loadRun(runID)
	if err != nil {
		e.logger.Error().Err(err).Str("run_id", runID).Msg("cannot load run")
		return
	}
	if run.State != types.RunPending && run.State != types.RunRunning {
		return
	}

	def, err := e.defs.Get(run.DefinitionName)
	if err != nil {
		e.finish(run, types.RunFailed, fmt.Sprintf("definition %s unavailable: %v", run.DefinitionName, err))
		if err := e.casRun(run, &version); err != nil {
			e.logger.Error().Err(err).Str("run_id", runID).Msg("cannot persist run")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.mu.Lock()
	e.controls[runID] = &runControl{cancel: cancel}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.controls, runID)
		e.mu.Unlock()
	}()

	run.State = types.RunRunning
	if err := e.casRun(run, &version); err != nil {
		e.logger.Error().Err(err).Str("run_id", runID).Msg("cannot persist run")
		return
	}
	metrics.WorkflowRunsTotal.WithLabelValues(string(types.RunRunning)).Inc()
	logger := log.WithRunID(runID).With().Str("component", "workflow").Str("definition", def.Name).Logger()
	logger.Info().Int("cursor", run.Cursor).Msg("run started")

	persist := func() bool {
		if err := e.casRun(run, &version); err != nil {
			if !errors.Is(err, errRunFinished) {
				logger.Error().Err(err).Msg("cannot persist run")
			}
			return false
		}
		return true
	}

	for i := run.Cursor; i < len(def.Steps); i++ {
		if ctx.Err() != nil {
			e.finish(run, types.RunCancelled, "cancelled")
			persist()
			return
		}
		if e.pauseRequested(runID) {
			run.State = types.RunPaused
			run.Cursor = i
			persist()
			logger.Info().Int("cursor", i).Msg("run paused")
			return
		}

		step := def.Steps[i]

		if step.Condition != "" {
			node, err := ParseCondition(step.Condition)
			if err != nil {
				e.finish(run, types.RunFailed, err.Error())
				persist()
				return
			}
			ok, err := node.eval(run.Vars)
			if err != nil {
				e.finish(run, types.RunFailed, err.Error())
				persist()
				return
			}
			if !ok {
				run.Steps[i] = types.StepRecord{Outcome: types.StepSkipped}
				run.Cursor = i + 1
				if !persist() {
					return
				}
				logger.Debug().Int("step", i).Msg("step skipped")
				continue
			}
		}

		output, attempts, stepErr := e.runStep(ctx, def, i, step, run)
		run.Steps[i] = types.StepRecord{Attempts: attempts}

		if stepErr != nil {
			if ctx.Err() != nil {
				e.finish(run, types.RunCancelled, "cancelled")
				persist()
				return
			}
			run.Steps[i].Outcome = types.StepFailed
			run.Steps[i].Error = stepErr.Error()

			policy := step.OnError
			if policy == "" {
				policy = types.OnErrorFail
			}
			// Exhausted retries fall through to continue; only an
			// explicit fail policy stops the run.
			if policy == types.OnErrorFail {
				e.finish(run, types.RunFailed, fmt.Sprintf("step %d: %v", i, stepErr))
				persist()
				logger.Warn().Int("step", i).Err(stepErr).Msg("run failed")
				return
			}
			setStepVars(run.Vars, i, map[string]any{"ok": false, "error": stepErr.Error()})
			run.Cursor = i + 1
			if !persist() {
				return
			}
			logger.Debug().Int("step", i).Err(stepErr).Msg("step failed, continuing")
			continue
		}

		run.Steps[i].Outcome = types.StepSucceeded
		stepVars := make(map[string]any, len(output)+1)
		for k, v := range output {
			stepVars[k] = v
		}
		stepVars["ok"] = true
		setStepVars(run.Vars, i, stepVars)
		run.Cursor = i + 1
		if !persist() {
			return
		}
	}

	e.finish(run, types.RunSucceeded, "")
	persist()
	logger.Info().Msg("run succeeded")
}

// runStep invokes the step handler with retries per the step policy.
func (e *Engine) runStep(ctx context.Context, def *types.WorkflowDefinition, index int, step types.WorkflowStep, run *types.WorkflowRun) (map[string]any, int, error) {
	maxAttempts := 1
	if step.OnError == types.OnErrorRetry {
		maxAttempts = step.Retry.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		inputs := expandInputs(step.Inputs, run.Vars)
		output, err := e.invoke(ctx, def, index, step, inputs, run.RunID)
		if err == nil {
			return output, attempt, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			delay := retryDelay(step.Retry, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, attempt, errdefs.Wrap(errdefs.KindCancelled, ctx.Err())
			}
		}
	}
	return nil, maxAttempts, lastErr
}

func retryDelay(policy *types.RetryPolicy, attempt int) time.Duration {
	delay := policy.BaseDelay
	if policy.Backoff == types.BackoffExponential {
		delay = policy.BaseDelay << (attempt - 1)
	}
	return delay
}

// invoke runs one handler invocation with the step timeout enforced by
// cancellation, inside a tracked health region.
func (e *Engine) invoke(ctx context.Context, def *types.WorkflowDefinition, index int, step types.WorkflowStep, inputs map[string]any, runID string) (map[string]any, error) {
	handler, err := e.resolver.ResolveAction(step.TargetAgent, step.Action)
	if err != nil {
		return nil, err
	}

	stepCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	timer := metrics.NewTimer()
	region := fmt.Sprintf("workflow:%s:step:%d", def.Name, index)

	type outcome struct {
		result types.HandlerResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		out.err = e.health.Track(step.TargetAgent, region, map[string]string{"run_id": runID}, func() error {
			result, err := handler(types.Envelope{
				Action:     step.Action,
				Inputs:     inputs,
				DispatchID: ident.NewID(),
				RunID:      runID,
				StepIndex:  index,
				Ctx:        stepCtx,
			})
			out.result = result
			return err
		})
		done <- out
	}()

	select {
	case out := <-done:
		metrics.WorkflowStepDuration.Observe(timer.Duration().Seconds())
		if out.err != nil {
			return nil, errdefs.Wrap(errdefs.KindAgent, out.err)
		}
		return out.result.Output, nil
	case <-stepCtx.Done():
		metrics.WorkflowStepDuration.Observe(timer.Duration().Seconds())
		if ctx.Err() != nil {
			return nil, errdefs.Wrap(errdefs.KindCancelled, ctx.Err())
		}
		return nil, errdefs.New(errdefs.KindTimeout, "step %d timed out after %s", index, step.Timeout)
	}
}

// finish moves a run to a terminal state.
func (e *Engine) finish(run *types.WorkflowRun, state types.RunState, message string) {
	run.State = state
	run.Error = message
	now := e.clock.Now()
	run.EndedAt = &now
	metrics.WorkflowRunsTotal.WithLabelValues(string(state)).Inc()
}

// setStepVars merges a step's result under vars.step[<1-based index>].
func setStepVars(vars map[string]any, index int, values map[string]any) {
	steps, ok := vars["step"].(map[string]any)
	if !ok {
		steps = make(map[string]any)
		vars["step"] = steps
	}
	steps[strconv.Itoa(index+1)] = values
}

func (e *Engine) pauseRequested(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.controls[runID]
	return ok && c.pause
}

// loadRun returns a run and its store version for CAS.
func (e *Engine) loadRun(runID string) (*types.WorkflowRun, uint64, error) {
	entry, err := e.store.Get(storage.NamespaceRuns, runID)
	if err != nil {
		return nil, 0, err
	}
	if entry == nil {
		return nil, 0, errdefs.New(errdefs.KindNotFound, "run %s not found", runID)
	}
	var run types.WorkflowRun
	if err := json.Unmarshal(entry.Value, &run); err != nil {
		return nil, 0, fmt.Errorf("corrupt run %s: %w", runID, err)
	}
	return &run, entry.Version, nil
}

// casRun persists a run against the expected version, bumping the caller's
// version on success. A conflicting writer that finished the run aborts
// with errRunFinished.
func (e *Engine) casRun(run *types.WorkflowRun, version *uint64) error {
	data, err := json.Marshal(run)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err)
	}
	if err := e.store.CAS(storage.NamespaceRuns, run.RunID, *version, data); err != nil {
		if errdefs.IsConflict(err) {
			current, _, loadErr := e.loadRun(run.RunID)
			if loadErr == nil && current.State.Terminal() {
				return errRunFinished
			}
		}
		return err
	}
	*version++
	return nil
}
