package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ocrbench/pipeline/internal/store/model"
	"gorm.io/gorm"
)

// Job persists pipeline work items. The one-active-job-per-(stage, entity) rule is
// enforced by a partial unique index, not by this code.
type Job interface {
	Enqueue(ctx context.Context, stage string, entityID int64, params map[string]any) (*model.Job, error)
	ClaimNext(ctx context.Context, stage string) (*model.Job, error)
	Complete(ctx context.Context, id int64, result map[string]any) (*model.Job, error)
	Fail(ctx context.Context, id int64, errText string) (*model.Job, error)
	SetPriorStatus(ctx context.Context, id int64, status string) error
	Get(ctx context.Context, id int64) (*model.Job, error)
	GetActive(ctx context.Context, stage string, entityID int64) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	CountQueuedByStage(ctx context.Context) (map[string]int64, error)
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Enqueue(ctx context.Context, stage string, entityID int64, params map[string]any) (*model.Job, error) {
	if params == nil {
		params = map[string]any{}
	}
	job := model.Job{
		Stage:    stage,
		EntityID: entityID,
		Params:   params,
		State:    model.JobStateQueued,
	}

	if err := s.getDB(ctx).Create(&job).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("enqueuing job: %w", err)
	}

	return &job, nil
}

// ClaimNext moves the oldest queued job to running. The update only succeeds
// while the row is still queued, so concurrent callers never claim the same job.
// It returns nil when nothing is queued.
func (s *JobStore) ClaimNext(ctx context.Context, stage string) (*model.Job, error) {
	db := s.getDB(ctx)

	for {
		filter := NewJobQueryFilter().ByState(model.JobStateQueued)
		if stage != "" {
			filter = filter.ByStage(stage)
		}
		candidates, err := s.List(ctx, filter, NewJobQueryOptions().WithFIFOOrder().WithLimit(1))
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, nil
		}

		now := time.Now().UTC()
		result := db.Model(&model.Job{}).
			Where("id = ? AND state = ?", candidates[0].ID, model.JobStateQueued).
			Updates(map[string]any{
				"state":      model.JobStateRunning,
				"started_at": now,
				"updated_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return nil, fmt.Errorf("claiming job %d: %w", candidates[0].ID, result.Error)
		}
		if result.RowsAffected == 1 {
			return s.Get(ctx, candidates[0].ID)
		}
		// another caller won the race, try the next one
	}
}

func (s *JobStore) Complete(ctx context.Context, id int64, result map[string]any) (*model.Job, error) {
	now := time.Now().UTC()
	return s.finish(ctx, id, model.Job{
		State:      model.JobStateCompleted,
		Result:     result,
		FinishedAt: &now,
	})
}

func (s *JobStore) Fail(ctx context.Context, id int64, errText string) (*model.Job, error) {
	now := time.Now().UTC()
	return s.finish(ctx, id, model.Job{
		State:      model.JobStateFailed,
		Error:      &errText,
		FinishedAt: &now,
	})
}

func (s *JobStore) finish(ctx context.Context, id int64, update model.Job) (*model.Job, error) {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND state = ?", id, model.JobStateRunning).
		Updates(update)
	if result.Error != nil {
		return nil, fmt.Errorf("finishing job %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}

	return s.Get(ctx, id)
}

func (s *JobStore) SetPriorStatus(ctx context.Context, id int64, status string) error {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND state = ?", id, model.JobStateRunning).
		Update("prior_status", status)
	if result.Error != nil {
		return fmt.Errorf("updating job prior status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id int64) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}

	return &job, nil
}

func (s *JobStore) GetActive(ctx context.Context, stage string, entityID int64) (*model.Job, error) {
	jobs, err := s.List(ctx, NewJobQueryFilter().ByStage(stage).ByEntityID(entityID).Active(), NewJobQueryOptions().WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrRecordNotFound
	}
	return &jobs[0], nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).Model(&jobs)

	if filter != nil {
		tx = apply(tx, filter.QueryFn)
	}
	if opts != nil {
		tx = apply(tx, opts.QueryFn)
	}

	if err := tx.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) CountQueuedByStage(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Stage string
		Count int64
	}
	err := s.getDB(ctx).Model(&model.Job{}).
		Select("stage, COUNT(*) AS count").
		Where("state = ?", model.JobStateQueued).
		Group("stage").
		Order("stage").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting queued jobs: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Stage] = r.Count
	}
	return counts, nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
