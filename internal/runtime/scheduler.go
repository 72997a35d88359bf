package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/ocrbench/pipeline/internal/events"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/model"
	"github.com/ocrbench/pipeline/pkg/metrics"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultJobTimeout   = 5 * time.Minute
	maxSubmitAttempts   = 3
)

// SubmitSummary reports the outcome of submitting one stage for many entities.
type SubmitSummary struct {
	Considered             int `json:"considered"`
	Queued                 int `json:"queued"`
	AlreadyQueuedOrRunning int `json:"already_queued_or_running"`
}

// Scheduler is the only component that moves jobs between states and the only
// one that invokes handlers.
type Scheduler struct {
	store    store.Store
	registry *Registry
	events   *events.Log
	tracker  EntityTracker

	workers      int
	pollInterval time.Duration
	jobTimeout   time.Duration

	// gateMu orders gate changes together with the events that record them.
	gateMu  sync.Mutex
	enabled atomic.Bool
	running atomic.Bool
	wakeCh  chan struct{}

	log *zap.SugaredLogger
}

func NewScheduler(s store.Store, registry *Registry, eventLog *events.Log, opts ...SchedulerOptions) *Scheduler {
	sch := &Scheduler{
		store:        s,
		registry:     registry,
		events:       eventLog,
		workers:      1,
		pollInterval: defaultPollInterval,
		jobTimeout:   defaultJobTimeout,
		wakeCh:       make(chan struct{}, 1),
		log:          zap.S().Named("scheduler"),
	}
	sch.enabled.Store(true)
	for _, o := range opts {
		o(sch)
	}
	metrics.UpdateSchedulerEnabledMetric(sch.enabled.Load())
	return sch
}

func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// Submit queues a job for the entity. When an active job already exists for the
// pair it is returned with queued set to false and no error.
func (s *Scheduler) Submit(ctx context.Context, stageName string, entityID int64, params map[string]any) (*model.Job, bool, error) {
	stage, err := s.registry.Lookup(stageName)
	if err != nil {
		return nil, false, err
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := stage.ValidateParams(params); err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		job, err := s.store.Job().Enqueue(ctx, stageName, entityID, params)
		if err == nil {
			metrics.IncreaseJobsSubmittedMetric(stageName, true)
			if _, err := s.events.RecordFor(ctx, stageName, events.KindJobQueued, entityID,
				fmt.Sprintf("Queued %s.", stage.Label),
				map[string]any{"job_id": job.ID, "entity_id": entityID, "params": params}); err != nil {
				return nil, false, err
			}
			s.log.Debugw("job queued", "job_id", job.ID, "stage", stageName, "entity_id", entityID)
			if s.Enabled() {
				s.wake()
			}
			return job, true, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, false, store.Unavailable("enqueue job", err)
		}

		existing, err := s.store.Job().GetActive(ctx, stageName, entityID)
		if err == nil {
			metrics.IncreaseJobsSubmittedMetric(stageName, false)
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrRecordNotFound) {
			return nil, false, store.Unavailable("read active job", err)
		}
		// the active job finished between the insert and the read, try again
	}

	return nil, false, fmt.Errorf("submitting %s for entity %d: %w", stageName, entityID, ErrConflict)
}

// SubmitMany submits the stage for every id. paramsFn may be nil.
func (s *Scheduler) SubmitMany(ctx context.Context, stageName string, ids []int64, paramsFn func(int64) map[string]any) (SubmitSummary, error) {
	summary := SubmitSummary{Considered: len(ids)}
	for _, id := range ids {
		var params map[string]any
		if paramsFn != nil {
			params = paramsFn(id)
		}
		_, queued, err := s.Submit(ctx, stageName, id, params)
		if err != nil {
			return summary, err
		}
		if queued {
			summary.Queued++
		} else {
			summary.AlreadyQueuedOrRunning++
		}
	}
	return summary, nil
}

// Enabled takes no lock, so snapshots can read it at any time.
func (s *Scheduler) Enabled() bool {
	return s.enabled.Load()
}

// Running reports whether the background loop is alive.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// SetEnabled flips the background execution gate and records the change.
// Setting the current value again records nothing. Concurrent calls are
// serialized, so the last recorded gate event always matches the gate.
func (s *Scheduler) SetEnabled(ctx context.Context, enabled bool) error {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()

	if s.enabled.Swap(enabled) == enabled {
		return nil
	}
	metrics.UpdateSchedulerEnabledMetric(enabled)

	kind, message := events.KindPipelineDisabled, "Background execution disabled."
	if enabled {
		kind, message = events.KindPipelineEnabled, "Background execution enabled."
	}
	s.log.Infow("execution gate changed", "enabled", enabled)
	if _, err := s.events.Record(ctx, events.StagePipeline, kind, message, map[string]any{"enabled": enabled}); err != nil {
		return err
	}

	if enabled {
		s.wake()
	}
	return nil
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Start runs the background loop until ctx is done, then waits for the jobs in flight.
// It returns immediately when the loop is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	defer s.running.Store(false)

	s.log.Infow("scheduler started", "workers", s.workers, "poll_interval", s.pollInterval, "enabled", s.Enabled())

	ticker := jitterbug.New(s.pollInterval, &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0})
	defer ticker.Stop()

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers)

	for {
		s.dispatch(ctx, sem, &wg)

		select {
		case <-ctx.Done():
			wg.Wait()
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		case <-s.wakeCh:
		}
	}
}

// dispatch claims and launches jobs until the queue is empty, the gate closes or ctx ends.
func (s *Scheduler) dispatch(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	s.refreshQueueMetric(ctx)

	for s.Enabled() {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		job, err := s.store.Job().ClaimNext(ctx, "")
		if err != nil || job == nil {
			<-sem
			if err != nil && ctx.Err() == nil {
				s.log.Errorw("failed to claim job", "error", err)
			}
			return
		}

		wg.Add(1)
		go func(job *model.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			// a running job is never cancelled mid execution, only by its timeout
			if err := s.execute(context.WithoutCancel(ctx), job); err != nil {
				s.log.Errorw("job execution ended with error", "job_id", job.ID, "stage", job.Stage, "error", err)
			}
		}(job)
	}
}

// RunOnce claims and executes one job regardless of the execution gate.
// It reports whether a job was found. Once claimed, the job runs to a terminal
// state even if ctx is cancelled; only the stage timeout bounds it.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	job, err := s.store.Job().ClaimNext(ctx, "")
	if err != nil {
		return false, store.Unavailable("claim job", err)
	}
	if job == nil {
		return false, nil
	}
	return true, s.execute(context.WithoutCancel(ctx), job)
}

// RunPending drains the queue synchronously and returns the number of jobs executed.
func (s *Scheduler) RunPending(ctx context.Context) (int, error) {
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		found, err := s.RunOnce(ctx)
		if found {
			count++
		}
		if err != nil {
			return count, err
		}
		if !found {
			s.refreshQueueMetric(ctx)
			return count, nil
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *model.Job) error {
	start := time.Now()
	log := s.log.With("job_id", job.ID, "stage", job.Stage, "entity_id", job.EntityID)

	stage, lookupErr := s.registry.Lookup(job.Stage)
	label := job.Stage
	if lookupErr == nil {
		label = stage.Label
	}

	if _, err := s.events.RecordFor(ctx, job.Stage, events.KindJobStarted, job.EntityID,
		fmt.Sprintf("Started %s.", label),
		map[string]any{"job_id": job.ID, "entity_id": job.EntityID, "attempts": job.Attempts}); err != nil {
		log.Errorw("failed to record job start", "error", err)
	}

	if lookupErr != nil {
		return s.fail(ctx, nil, job, fmt.Errorf("No handler registered for stage '%s'.", job.Stage), "", false, start)
	}

	prior, tracked, err := s.begin(ctx, stage, job)
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			log.Errorw("job left running state before it started", "error", err)
			return err
		}
		return s.fail(ctx, stage, job, err, "", false, start)
	}

	result, err := s.invoke(ctx, stage, job)
	if err != nil {
		log.Infow("handler failed", "error", err)
		return s.fail(ctx, stage, job, err, prior, tracked, start)
	}

	return s.complete(ctx, stage, job, result, prior, tracked, start)
}

// begin moves the entity through the stage start event and stores its prior
// status on the job, in one transaction.
func (s *Scheduler) begin(ctx context.Context, stage *Stage, job *model.Job) (string, bool, error) {
	if s.tracker == nil || stage.StartEvent == "" {
		return "", false, nil
	}

	var prior string
	err := store.Atomic(ctx, s.store, func(ctx context.Context) error {
		var err error
		if prior, err = s.tracker.Begin(ctx, job.EntityID, stage.StartEvent); err != nil {
			return err
		}
		return s.store.Job().SetPriorStatus(ctx, job.ID, prior)
	})
	if err != nil {
		return "", false, err
	}

	return prior, true, nil
}

// invoke runs the handler under the stage timeout. A panic becomes a HandlerFailure.
func (s *Scheduler) invoke(ctx context.Context, stage *Stage, job *model.Job) (result Result, err error) {
	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = s.jobTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	params, err := json.Marshal(job.Params)
	if err != nil {
		return nil, &HandlerFailure{Stage: stage.Name, JobID: job.ID, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("handler panicked", "job_id", job.ID, "stage", stage.Name, "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = &HandlerFailure{Stage: stage.Name, JobID: job.ID, Err: fmt.Errorf("handler panic: %v", r)}
		}
	}()

	result, err = stage.Handler.Handle(ctx, job.EntityID, params)
	if err != nil {
		return nil, &HandlerFailure{Stage: stage.Name, JobID: job.ID, Err: err}
	}
	if result == nil {
		result = Result{}
	}
	return result, nil
}

func (s *Scheduler) complete(ctx context.Context, stage *Stage, job *model.Job, result Result, prior string, tracked bool, start time.Time) error {
	log := s.log.With("job_id", job.ID, "stage", job.Stage, "entity_id", job.EntityID)

	if _, err := s.store.Job().Complete(ctx, job.ID, result); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			log.Errorw("refusing to complete a job that is not running", "error", err)
			return err
		}
		return store.Unavailable("complete job", err)
	}

	outcome := metrics.OutcomeCompleted
	if tracked {
		var err error
		if result.IsSkipped() {
			outcome = metrics.OutcomeSkipped
			err = s.tracker.Rollback(ctx, job.EntityID, prior, stage.StartEvent)
		} else if stage.SuccessEvent != "" {
			err = s.tracker.Succeed(ctx, job.EntityID, stage.SuccessEvent)
		}
		if err != nil {
			log.Warnw("failed to advance entity status after completion", "error", err)
		}
	} else if result.IsSkipped() {
		outcome = metrics.OutcomeSkipped
	}
	metrics.ObserveJobFinished(job.Stage, outcome, time.Since(start))

	_, err := s.events.RecordFor(ctx, job.Stage, events.KindJobCompleted, job.EntityID,
		stage.CompletionMessage(result),
		map[string]any{"job_id": job.ID, "entity_id": job.EntityID, "result": result})
	if err != nil {
		return err
	}
	log.Infow("job completed", "duration", time.Since(start))
	return nil
}

func (s *Scheduler) fail(ctx context.Context, stage *Stage, job *model.Job, cause error, prior string, tracked bool, start time.Time) error {
	log := s.log.With("job_id", job.ID, "stage", job.Stage, "entity_id", job.EntityID)
	errText := cause.Error()

	if _, err := s.store.Job().Fail(ctx, job.ID, errText); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			log.Errorw("refusing to fail a job that is not running", "error", err)
			return err
		}
		return store.Unavailable("fail job", err)
	}

	if tracked && stage != nil {
		if err := s.tracker.Rollback(ctx, job.EntityID, prior, stage.StartEvent); err != nil {
			log.Errorw("failed to roll back entity status", "prior", prior, "error", err)
		}
	}
	metrics.ObserveJobFinished(job.Stage, metrics.OutcomeFailed, time.Since(start))

	_, err := s.events.RecordFor(ctx, job.Stage, events.KindJobFailed, job.EntityID,
		errText,
		map[string]any{"job_id": job.ID, "entity_id": job.EntityID, "error": errText})
	if err != nil {
		return err
	}
	log.Infow("job failed", "error", errText)
	return nil
}

func (s *Scheduler) refreshQueueMetric(ctx context.Context) {
	counts, err := s.store.Job().CountQueuedByStage(ctx)
	if err != nil {
		return
	}
	metrics.UpdateQueuedJobsMetric(s.registry.Stages(), counts)
}
