package scheduler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/ident"
	"github.com/hearth-sh/hearth/pkg/log"
	"github.com/hearth-sh/hearth/pkg/metrics"
	"github.com/hearth-sh/hearth/pkg/storage"
	"github.com/hearth-sh/hearth/pkg/types"
)

// idleWait bounds the sleep when no job is due.
const idleWait = time.Hour

// cronParser accepts five-field expressions plus @every descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Triggerer consumes fired jobs; satisfied by workflow.Engine. The
// workflow name pins the definition a job is bound to.
type Triggerer interface {
	TriggerNamed(workflow, agent, event string, payload map[string]any) (string, error)
}

// Scheduler fires cron jobs into the workflow engine. One loop wakes at the
// earliest next_run; late firings are coalesced to a single firing.
type Scheduler struct {
	store    storage.Store
	clock    ident.Clock
	trigger  Triggerer
	logger   zerolog.Logger
	location *time.Location

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a scheduler. location defaults to UTC.
func New(store storage.Store, clock ident.Clock, trigger Triggerer, location *time.Location) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		store:    store,
		clock:    clock,
		trigger:  trigger,
		logger:   log.WithComponent("scheduler"),
		location: location,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ParseExpression validates a cron expression and returns its schedule in
// the given zone. Calendar expressions are evaluated in location; @every
// intervals are monotonic and zone-free.
func ParseExpression(expression string, location *time.Location) (cron.Schedule, error) {
	if location == nil {
		location = time.UTC
	}
	expr := expression
	if !strings.HasPrefix(expr, "@") {
		expr = "CRON_TZ=" + location.String() + " " + expr
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errdefs.New(errdefs.KindUsage, "bad cron expression %q: %v", expression, err)
	}
	return sched, nil
}

// NextAfter returns the first firing time strictly after t.
func NextAfter(expression string, t time.Time, location *time.Location) (time.Time, error) {
	sched, err := ParseExpression(expression, location)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

// AddJob validates the expression and persists an enabled job.
func (s *Scheduler) AddJob(expression, targetWorkflow, targetEvent, agent string, payloadTemplate map[string]any) (string, error) {
	if agent == "" || targetEvent == "" {
		return "", errdefs.New(errdefs.KindUsage, "agent and target event are required")
	}
	next, err := NextAfter(expression, s.clock.Now(), s.location)
	if err != nil {
		return "", err
	}

	job := &types.CronJob{
		Schema:          types.SchemaVersion,
		ID:              ident.NewID(),
		Expression:      expression,
		TargetWorkflow:  targetWorkflow,
		TargetEvent:     targetEvent,
		Agent:           agent,
		PayloadTemplate: payloadTemplate,
		Enabled:         true,
		NextRun:         next,
		CreatedAt:       s.clock.Now(),
	}
	if err := s.saveJob(job, 0); err != nil {
		return "", err
	}
	s.poke()
	s.logger.Info().Str("job_id", job.ID).Str("expression", expression).
		Time("next_run", next).Msg("cron job added")
	return job.ID, nil
}

// RemoveJob deletes a job.
func (s *Scheduler) RemoveJob(jobID string) error {
	existed, err := s.store.Delete(storage.NamespaceCron, jobID)
	if err != nil {
		return err
	}
	if !existed {
		return errdefs.New(errdefs.KindNotFound, "job %s not found", jobID)
	}
	s.poke()
	return nil
}

// Enable re-enables a job, recomputing next_run from now so stale overdue
// firings do not replay.
func (s *Scheduler) Enable(jobID string) error {
	return s.updateJob(jobID, func(job *types.CronJob) error {
		next, err := NextAfter(job.Expression, s.clock.Now(), s.location)
		if err != nil {
			return err
		}
		job.Enabled = true
		job.NextRun = next
		return nil
	})
}

// Disable stops a job from firing without removing it.
func (s *Scheduler) Disable(jobID string) error {
	return s.updateJob(jobID, func(job *types.CronJob) error {
		job.Enabled = false
		return nil
	})
}

// GetJob returns one job by id.
func (s *Scheduler) GetJob(jobID string) (*types.CronJob, error) {
	job, _, err := s.loadJob(jobID)
	return job, err
}

// ListJobs returns all jobs ordered by creation time.
func (s *Scheduler) ListJobs() ([]*types.CronJob, error) {
	var jobs []*types.CronJob
	err := s.store.Scan(storage.NamespaceCron, "", func(key string, e *storage.Entry) error {
		var job types.CronJob
		if err := json.Unmarshal(e.Value, &job); err != nil {
			return fmt.Errorf("corrupt cron job %s: %w", key, err)
		}
		jobs = append(jobs, &job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// Start launches the scheduler loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop terminates the loop and waits for it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		wait := s.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.fireDue()
		}
	}
}

// nextWait returns the time until the earliest enabled next_run.
func (s *Scheduler) nextWait() time.Duration {
	jobs, err := s.ListJobs()
	if err != nil {
		s.logger.Error().Err(err).Msg("cannot list jobs")
		return idleWait
	}
	now := s.clock.Now()
	wait := idleWait
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		until := job.NextRun.Sub(now)
		if until < 0 {
			until = 0
		}
		if until < wait {
			wait = until
		}
	}
	return wait
}

// fireDue fires every enabled job whose next_run has passed, exactly once
// per job regardless of how many intervals were missed.
func (s *Scheduler) fireDue() {
	jobs, err := s.ListJobs()
	if err != nil {
		s.logger.Error().Err(err).Msg("cannot list jobs")
		return
	}
	now := s.clock.Now()
	for _, job := range jobs {
		if !job.Enabled || job.NextRun.After(now) {
			continue
		}
		s.fire(job.ID, now)
	}
}

// fire advances one job under CAS and triggers its workflow. The schedule
// advances even when the trigger fails, so a broken target cannot wedge
// the loop.
func (s *Scheduler) fire(jobID string, now time.Time) {
	logger := log.WithJobID(jobID)
	job, version, err := s.loadJob(jobID)
	if err != nil {
		logger.Error().Err(err).Msg("cannot load job")
		return
	}
	if !job.Enabled || job.NextRun.After(now) {
		return
	}

	next, err := NextAfter(job.Expression, now, s.location)
	if err != nil {
		// A due job whose expression no longer parses would otherwise
		// keep nextWait at zero and spin the loop.
		job.Enabled = false
		if saveErr := s.saveJob(job, version); saveErr != nil {
			logger.Error().Err(saveErr).Msg("cannot disable broken job")
			return
		}
		logger.Error().Err(err).Str("expression", job.Expression).
			Msg("stored expression no longer parses, job disabled")
		return
	}
	firedAt := now
	job.LastRun = &firedAt
	job.NextRun = next
	if err := s.saveJob(job, version); err != nil {
		logger.Error().Err(err).Msg("cannot advance job")
		return
	}

	payload := make(map[string]any, len(job.PayloadTemplate))
	for k, v := range job.PayloadTemplate {
		payload[k] = v
	}
	metrics.CronFiringsTotal.Inc()
	runID, err := s.trigger.TriggerNamed(job.TargetWorkflow, job.Agent, job.TargetEvent, payload)
	if err != nil {
		logger.Warn().Err(err).Msg("trigger failed")
		return
	}
	logger.Debug().Str("run_id", runID).Time("next_run", next).Msg("cron job fired")
}

func (s *Scheduler) updateJob(jobID string, mutate func(*types.CronJob) error) error {
	job, version, err := s.loadJob(jobID)
	if err != nil {
		return err
	}
	if err := mutate(job); err != nil {
		return err
	}
	if err := s.saveJob(job, version); err != nil {
		return err
	}
	s.poke()
	return nil
}

func (s *Scheduler) loadJob(jobID string) (*types.CronJob, uint64, error) {
	entry, err := s.store.Get(storage.NamespaceCron, jobID)
	if err != nil {
		return nil, 0, err
	}
	if entry == nil {
		return nil, 0, errdefs.New(errdefs.KindNotFound, "job %s not found", jobID)
	}
	var job types.CronJob
	if err := json.Unmarshal(entry.Value, &job); err != nil {
		return nil, 0, fmt.Errorf("corrupt cron job %s: %w", jobID, err)
	}
	return &job, entry.Version, nil
}

func (s *Scheduler) saveJob(job *types.CronJob, version uint64) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err)
	}
	return s.store.CAS(storage.NamespaceCron, job.ID, version, data)
}

// poke wakes the loop after a job change.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
