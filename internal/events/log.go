package events

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/model"
	"github.com/ocrbench/pipeline/pkg/metrics"
	"go.uber.org/zap"
)

const (
	KindScanStarted      = "scan_started"
	KindScanFinished     = "scan_finished"
	KindJobQueued        = "job_queued"
	KindJobStarted       = "job_started"
	KindJobCompleted     = "job_completed"
	KindJobFailed        = "job_failed"
	KindReviewCompleted  = "review_completed"
	KindPipelineEnabled  = "pipeline_enabled"
	KindPipelineDisabled = "pipeline_disabled"
	KindStateWiped       = "state_wiped"
)

// Cross-cutting stage values for events that are not produced by a stage handler.
const (
	StageDiscovery = "discovery"
	StagePipeline  = "pipeline"
	StageReview    = "review"
)

// Log is the append-only pipeline audit trail.
type Log struct {
	store  store.Store
	hub    *Hub
	mirror *EventProducer
	log    *zap.SugaredLogger
}

func NewLog(s store.Store, opts ...LogOptions) *Log {
	l := &Log{
		store: s,
		hub:   NewHub(),
		log:   zap.S().Named("event_log"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record appends an event that is not tied to an entity.
func (l *Log) Record(ctx context.Context, stage, kind, message string, data map[string]any) (*model.Event, error) {
	return l.append(ctx, model.Event{Stage: stage, Kind: kind, Message: message, Data: data})
}

// RecordFor appends an event about one entity.
func (l *Log) RecordFor(ctx context.Context, stage, kind string, entityID int64, message string, data map[string]any) (*model.Event, error) {
	return l.append(ctx, model.Event{Stage: stage, Kind: kind, EntityID: &entityID, Message: message, Data: data})
}

func (l *Log) append(ctx context.Context, e model.Event) (*model.Event, error) {
	event, err := l.store.Event().Create(ctx, e)
	if err != nil {
		return nil, store.Unavailable("record event", err)
	}

	metrics.IncreaseEventsRecordedMetric(event.Kind)
	l.hub.Notify()

	if l.mirror != nil {
		if body, err := json.Marshal(event); err == nil {
			if err := l.mirror.Write(ctx, event.Kind, bytes.NewReader(body)); err != nil {
				l.log.Warnw("failed to mirror event", "event_id", event.ID, "error", err)
			}
		}
	}

	return event, nil
}

// Recent returns events in insertion order. With sinceID > 0 only events after
// the watermark are returned, oldest first and capped at limit.
func (l *Log) Recent(ctx context.Context, limit int, sinceID int64) (model.EventList, error) {
	events, err := l.store.Event().Recent(ctx, limit, sinceID)
	if err != nil {
		return nil, store.Unavailable("list events", err)
	}
	return events, nil
}

func (l *Log) LastID(ctx context.Context) (int64, error) {
	id, err := l.store.Event().LastID(ctx)
	if err != nil {
		return 0, store.Unavailable("read last event id", err)
	}
	return id, nil
}

// Subscribe returns a coalescing wakeup channel that fires after every recorded event.
func (l *Log) Subscribe() (<-chan struct{}, func()) {
	return l.hub.Subscribe()
}
