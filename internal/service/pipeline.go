package service

import (
	"context"
	"errors"

	"github.com/ocrbench/pipeline/internal/events"
	"github.com/ocrbench/pipeline/internal/lifecycle"
	"github.com/ocrbench/pipeline/internal/runtime"
	"github.com/ocrbench/pipeline/internal/stages"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/model"
	"go.uber.org/zap"
)

const defaultJobListLimit = 100

type PipelineService struct {
	store     store.Store
	scheduler *runtime.Scheduler
	eventLog  *events.Log
	log       *zap.SugaredLogger
}

func NewPipelineService(s store.Store, scheduler *runtime.Scheduler, eventLog *events.Log) *PipelineService {
	return &PipelineService{
		store:     s,
		scheduler: scheduler,
		eventLog:  eventLog,
		log:       zap.S().Named("pipeline_service"),
	}
}

type JobSubmission struct {
	Job    *model.Job `json:"job"`
	Queued bool       `json:"queued"`
}

type DetectForm struct {
	ConfidenceThreshold *float64
	IoUThreshold        *float64
	ReplaceExisting     *bool
}

type JobFilter struct {
	Stage    string
	State    string
	EntityID *int64
	Limit    int
}

type ExecutionState struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
}

type RunResult struct {
	Executed int `json:"executed"`
}

func (s *PipelineService) Submit(ctx context.Context, stage string, entityID int64, params map[string]any) (JobSubmission, error) {
	job, queued, err := s.scheduler.Submit(ctx, stage, entityID, params)
	if err != nil {
		return JobSubmission{}, err
	}
	return JobSubmission{Job: job, Queued: queued}, nil
}

// Redetect queues layout detection for a page on a reviewer's request.
// Only statuses that accept layout_started can be redetected.
func (s *PipelineService) Redetect(ctx context.Context, pageID int64, form DetectForm) (JobSubmission, error) {
	page, err := s.store.Page().Get(ctx, pageID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return JobSubmission{}, NewErrPageNotFound(pageID)
		}
		return JobSubmission{}, err
	}
	if page.IsMissing {
		return JobSubmission{}, NewErrPageMissing(pageID, "detected")
	}
	if !lifecycle.Can(lifecycle.Status(page.Status), lifecycle.EventLayoutStarted) {
		_, cause := lifecycle.Next(lifecycle.Status(page.Status), lifecycle.EventLayoutStarted)
		return JobSubmission{}, NewErrStatusConflict(pageID, cause)
	}

	params := map[string]any{"trigger": "manual"}
	if form.ConfidenceThreshold != nil {
		params["confidence_threshold"] = *form.ConfidenceThreshold
	}
	if form.IoUThreshold != nil {
		params["iou_threshold"] = *form.IoUThreshold
	}
	if form.ReplaceExisting != nil {
		params["replace_existing"] = *form.ReplaceExisting
	}

	return s.Submit(ctx, stages.LayoutDetection, pageID, params)
}

func (s *PipelineService) ListJobs(ctx context.Context, filter JobFilter) (model.JobList, error) {
	storeFilter := store.NewJobQueryFilter()
	if filter.Stage != "" {
		storeFilter = storeFilter.ByStage(filter.Stage)
	}
	if filter.State != "" {
		state := model.JobState(filter.State)
		if !state.Active() && !state.Terminal() {
			return nil, NewErrInvalidInput("unknown job state " + filter.State)
		}
		storeFilter = storeFilter.ByState(state)
	}
	if filter.EntityID != nil {
		storeFilter = storeFilter.ByEntityID(*filter.EntityID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultJobListLimit
	}

	jobs, err := s.store.Job().List(ctx, storeFilter, store.NewJobQueryOptions().WithNewestFirst().WithLimit(limit))
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = model.JobList{}
	}
	return jobs, nil
}

// Run drains the queue in the caller's goroutine, regardless of the execution gate.
func (s *PipelineService) Run(ctx context.Context) (RunResult, error) {
	n, err := s.scheduler.RunPending(ctx)
	if err != nil {
		return RunResult{Executed: n}, err
	}
	return RunResult{Executed: n}, nil
}

func (s *PipelineService) Execution() ExecutionState {
	return ExecutionState{Enabled: s.scheduler.Enabled(), Running: s.scheduler.Running()}
}

func (s *PipelineService) SetExecution(ctx context.Context, enabled bool) (ExecutionState, error) {
	if err := s.scheduler.SetEnabled(ctx, enabled); err != nil {
		return ExecutionState{}, err
	}
	return s.Execution(), nil
}

// Wipe deletes every job, event, layout, duplicate and page. The state_wiped
// event becomes the first entry of the new log.
func (s *PipelineService) Wipe(ctx context.Context) error {
	if err := s.store.Wipe(ctx); err != nil {
		return store.Unavailable("wipe", err)
	}
	s.log.Infow("pipeline state wiped")

	_, err := s.eventLog.Record(ctx, events.StagePipeline, events.KindStateWiped, "Pipeline state wiped.", nil)
	return err
}
