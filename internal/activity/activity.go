// Package activity builds the pipeline activity view served to the UI, as a
// point-in-time snapshot or as a live feed.
package activity

import (
	"context"
	"time"

	"github.com/ocrbench/pipeline/internal/events"
	"github.com/ocrbench/pipeline/internal/runtime"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/model"
	"go.uber.org/zap"
)

const (
	DefaultLimit     = 30
	MaxLimit         = 200
	queuedPreviewMax = 15

	defaultHeartbeat = 15 * time.Second
)

// SchedulerState is the part of the scheduler the activity view reads.
type SchedulerState interface {
	Enabled() bool
	Running() bool
	Registry() *runtime.Registry
}

type ActiveJob struct {
	JobID     int64      `json:"job_id"`
	Stage     string     `json:"stage"`
	EntityID  int64      `json:"entity_id"`
	RelPath   *string    `json:"rel_path"`
	StartedAt *time.Time `json:"started_at"`
	Attempts  int        `json:"attempts"`
}

type QueuedJob struct {
	JobID     int64     `json:"job_id"`
	Stage     string    `json:"stage"`
	EntityID  int64     `json:"entity_id"`
	RelPath   *string   `json:"rel_path"`
	CreatedAt time.Time `json:"created_at"`
}

type QueueSummary struct {
	Total   int64            `json:"total"`
	ByStage map[string]int64 `json:"by_stage"`
	Preview []QueuedJob      `json:"preview"`
}

type EventView struct {
	model.Event
	RelPath *string `json:"rel_path"`
}

type Snapshot struct {
	WorkerRunning    bool         `json:"worker_running"`
	ExecutionEnabled bool         `json:"execution_enabled"`
	ActiveJob        *ActiveJob   `json:"active_job"`
	Queued           QueueSummary `json:"queued"`
	RecentEvents     []EventView  `json:"recent_events"`
	LastEventID      int64        `json:"last_event_id"`
	RegisteredStages []string     `json:"registered_stages"`
}

// Update is one message of the live feed.
type Update struct {
	Snapshot  Snapshot    `json:"snapshot"`
	NewEvents []EventView `json:"new_events"`
	Heartbeat bool        `json:"heartbeat"`
}

type Service struct {
	store     store.Store
	eventLog  *events.Log
	scheduler SchedulerState
	heartbeat time.Duration
	log       *zap.SugaredLogger
}

type Option func(s *Service)

func WithHeartbeat(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

func NewService(s store.Store, eventLog *events.Log, scheduler SchedulerState, opts ...Option) *Service {
	srv := &Service{
		store:     s,
		eventLog:  eventLog,
		scheduler: scheduler,
		heartbeat: defaultHeartbeat,
		log:       zap.S().Named("activity"),
	}
	for _, o := range opts {
		o(srv)
	}
	return srv
}

// ClampLimit bounds the number of recent events to 1..200. Zero means the default.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Snapshot reads the queue and the event tail inside one read transaction.
func (s *Service) Snapshot(ctx context.Context, limit int) (Snapshot, error) {
	limit = ClampLimit(limit)

	txCtx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return Snapshot{}, store.Unavailable("begin snapshot", err)
	}
	defer func() { _, _ = store.Rollback(txCtx) }()

	running, err := s.store.Job().List(txCtx,
		store.NewJobQueryFilter().ByState(model.JobStateRunning),
		store.NewJobQueryOptions().WithStartedOrder().WithLimit(1))
	if err != nil {
		return Snapshot{}, store.Unavailable("list running jobs", err)
	}
	queued, err := s.store.Job().List(txCtx,
		store.NewJobQueryFilter().ByState(model.JobStateQueued),
		store.NewJobQueryOptions().WithFIFOOrder().WithLimit(queuedPreviewMax))
	if err != nil {
		return Snapshot{}, store.Unavailable("list queued jobs", err)
	}
	byStage, err := s.store.Job().CountQueuedByStage(txCtx)
	if err != nil {
		return Snapshot{}, store.Unavailable("count queued jobs", err)
	}
	recent, err := s.store.Event().Recent(txCtx, limit, 0)
	if err != nil {
		return Snapshot{}, store.Unavailable("list events", err)
	}
	lastID, err := s.store.Event().LastID(txCtx)
	if err != nil {
		return Snapshot{}, store.Unavailable("read last event id", err)
	}

	ids := make([]int64, 0, len(running)+len(queued)+len(recent))
	for _, j := range running {
		ids = append(ids, j.EntityID)
	}
	for _, j := range queued {
		ids = append(ids, j.EntityID)
	}
	for _, e := range recent {
		if e.EntityID != nil {
			ids = append(ids, *e.EntityID)
		}
	}
	paths, err := s.relPaths(txCtx, ids)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		WorkerRunning:    s.scheduler.Running(),
		ExecutionEnabled: s.scheduler.Enabled(),
		Queued: QueueSummary{
			ByStage: byStage,
			Preview: make([]QueuedJob, 0, len(queued)),
		},
		RecentEvents:     viewEvents(recent, paths),
		LastEventID:      lastID,
		RegisteredStages: s.scheduler.Registry().Stages(),
	}

	if len(running) > 0 {
		j := running[0]
		snap.ActiveJob = &ActiveJob{
			JobID:     j.ID,
			Stage:     j.Stage,
			EntityID:  j.EntityID,
			RelPath:   paths[j.EntityID],
			StartedAt: j.StartedAt,
			Attempts:  j.Attempts,
		}
	}
	for _, j := range queued {
		snap.Queued.Preview = append(snap.Queued.Preview, QueuedJob{
			JobID:     j.ID,
			Stage:     j.Stage,
			EntityID:  j.EntityID,
			RelPath:   paths[j.EntityID],
			CreatedAt: j.CreatedAt,
		})
	}
	for _, n := range byStage {
		snap.Queued.Total += n
	}

	return snap, nil
}

func (s *Service) relPaths(ctx context.Context, ids []int64) (map[int64]*string, error) {
	paths := make(map[int64]*string, len(ids))
	if len(ids) == 0 {
		return paths, nil
	}

	pages, err := s.store.Page().List(ctx, store.NewPageQueryFilter().ByIDs(ids))
	if err != nil {
		return nil, store.Unavailable("list pages", err)
	}
	for i := range pages {
		paths[pages[i].ID] = &pages[i].RelPath
	}
	return paths, nil
}

func viewEvents(list model.EventList, paths map[int64]*string) []EventView {
	views := make([]EventView, 0, len(list))
	for _, e := range list {
		v := EventView{Event: e}
		if e.EntityID != nil {
			v.RelPath = paths[*e.EntityID]
		}
		views = append(views, v)
	}
	return views
}
