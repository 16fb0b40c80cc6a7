package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"cpls_refresh/errors"
	"cpls_refresh/logger"

	"go.uber.org/zap"
)

// Scheduler owns the refresh job set. Start replaces the whole set, Stop
// empties it, and FireOnce runs the action outside any trigger.
//
// The job set records what will fire next. It does not serialize executions:
// two firings can overlap unless the Trigger enforces singleton runs.
type Scheduler struct {
	mu      sync.Mutex
	trigger Trigger
	action  Action
	defs    []Definition
	log     *zap.SugaredLogger

	jobs       []*Job
	generation uint64
	cancel     context.CancelFunc
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger overrides the logger (defaults to logger.Named("scheduler")).
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a scheduler that arms defs on trigger and runs action on each
// firing.
func New(trigger Trigger, action Action, defs []Definition, opts ...Option) *Scheduler {
	s := &Scheduler{
		trigger: trigger,
		action:  action,
		defs:    append([]Definition(nil), defs...),
		log:     logger.Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timezone returns the name of the trigger location
func (s *Scheduler) Timezone() string {
	return s.trigger.Location().String()
}

// Start destroys every existing job, then arms a fresh job per definition.
// If any trigger fails to arm, the ones already armed are disarmed again and
// the job set is left empty.
func (s *Scheduler) Start() (*StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	destroyed := s.destroyAllLocked()

	s.generation++
	ctx, cancel := context.WithCancel(context.Background())

	jobs := make([]*Job, 0, len(s.defs))
	for i, def := range s.defs {
		job := &Job{
			ID:         i,
			Name:       def.Name,
			Schedule:   def.Schedule,
			generation: s.generation,
			ctx:        ctx,
		}

		handle, err := s.trigger.Arm(def, s.fireFunc(job))
		if err != nil {
			for _, armed := range jobs {
				s.trigger.Disarm(armed.handle)
				armed.state = StateDestroyed
			}
			cancel()
			s.log.Errorw("Failed to arm refresh trigger",
				logger.FieldJob, def.Name,
				"schedule", def.Schedule,
				logger.FieldError, err,
			)
			return nil, errors.Wrapf(err, "arm %s trigger", def.Name)
		}

		job.handle = handle
		job.state = StateScheduled
		jobs = append(jobs, job)
	}

	s.jobs = jobs
	s.cancel = cancel

	result := &StartResult{
		Schedules: append([]Definition(nil), s.defs...),
		Timezone:  s.Timezone(),
	}

	s.log.Infow("Refresh scheduler started",
		logger.FieldCount, len(jobs),
		"replaced", destroyed,
		"generation", s.generation,
		logger.FieldTimezone, result.Timezone,
	)
	return result, nil
}

// Stop destroys every scheduled job and empties the job set. It returns the
// number of jobs destroyed; stopping an empty set is a no-op.
func (s *Scheduler) Stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	destroyed := s.destroyAllLocked()
	if destroyed > 0 {
		s.log.Infow("Refresh scheduler stopped", logger.FieldCount, destroyed)
	}
	return destroyed
}

// Status reports the current job set without changing it.
func (s *Scheduler) Status() StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := StatusReport{
		Jobs:      make([]JobStatus, 0, len(s.jobs)),
		TotalJobs: len(s.jobs),
	}
	for _, job := range s.jobs {
		status := JobStatus{
			ID:        job.ID,
			Name:      job.Name,
			Schedule:  job.Schedule,
			Running:   job.state == StateScheduled,
			Destroyed: job.state == StateDestroyed,
		}
		if job.handle != nil {
			if next := job.handle.NextRun(); !next.IsZero() {
				status.NextRun = &next
			}
		}
		report.Jobs = append(report.Jobs, status)
	}
	return report
}

// FireOnce runs the refresh action immediately under ctx and reports its
// result. The job set is not touched.
func (s *Scheduler) FireOnce(ctx context.Context) (*Outcome, error) {
	return s.execute(WithTrigger(ctx, TriggerManual), TriggerManual)
}

// destroyAllLocked disarms every job, marks it destroyed and cancels the
// generation context so late firings are dropped. Callers must hold s.mu.
func (s *Scheduler) destroyAllLocked() int {
	count := len(s.jobs)
	for _, job := range s.jobs {
		if job.state == StateScheduled {
			s.trigger.Disarm(job.handle)
		}
		job.state = StateDestroyed
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.jobs = nil
	return count
}

// fireFunc binds a trigger firing to job's generation. Firings that arrive
// after the generation was cancelled are dropped; a firing already running is
// left alone.
func (s *Scheduler) fireFunc(job *Job) func() {
	ctx := job.ctx
	name := job.Name
	generation := job.generation

	return func() {
		if ctx.Err() != nil {
			s.log.Infow("Dropping firing of destroyed job",
				logger.FieldJob, name,
				"generation", generation,
			)
			return
		}
		// an accepted firing runs to completion even if its generation is
		// destroyed meanwhile; failures are logged inside execute
		_, _ = s.execute(WithTrigger(context.WithoutCancel(ctx), name), name)
	}
}

func (s *Scheduler) execute(ctx context.Context, trigger string) (outcome *Outcome, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("refresh action panicked: %v", r)
			s.log.Errorw("Refresh action panic recovered",
				logger.FieldTrigger, trigger,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	s.log.Infow("Refresh triggered", logger.FieldTrigger, trigger)

	outcome, err = s.action(ctx)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		fields := []interface{}{
			logger.FieldTrigger, trigger,
			logger.FieldDurationMS, duration,
			logger.FieldError, err,
		}
		if outcome != nil && len(outcome.Payload) > 0 {
			fields = append(fields, "payload", string(outcome.Payload))
		}
		s.log.Errorw("Refresh failed", fields...)
		return outcome, err
	}

	fields := []interface{}{
		logger.FieldTrigger, trigger,
		logger.FieldDurationMS, duration,
	}
	if outcome != nil {
		fields = append(fields, logger.FieldStatus, outcome.StatusCode, "payload_bytes", len(outcome.Payload))
	}
	s.log.Infow("Refresh completed", fields...)
	return outcome, nil
}
