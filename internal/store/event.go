package store

import (
	"context"
	"fmt"

	"github.com/ocrbench/pipeline/internal/store/model"
	"gorm.io/gorm"
)

// Event is the append-only storage behind the pipeline event log.
// There is intentionally no update or delete; only Store.Wipe removes rows.
type Event interface {
	Create(ctx context.Context, event model.Event) (*model.Event, error)
	Recent(ctx context.Context, limit int, sinceID int64) (model.EventList, error)
	LastID(ctx context.Context) (int64, error)
}

type EventStore struct {
	db *gorm.DB
}

var _ Event = (*EventStore)(nil)

func NewEventStore(db *gorm.DB) Event {
	return &EventStore{db: db}
}

// eventAppendLockKey names the postgres advisory lock that orders event appends.
const eventAppendLockKey int64 = 0x6f637270_6576

// appendLockStatement returns the statement that serializes appends for the dialect.
// Postgres hands out sequence values before commit, so without it a later id can
// become visible first and a reader paging by id would skip the earlier one.
// sqlite already serializes writers.
func appendLockStatement(dialect string) string {
	if dialect == "postgres" {
		return "SELECT pg_advisory_xact_lock(?)"
	}
	return ""
}

// Create appends one event. The id is assigned and committed in append order.
func (s *EventStore) Create(ctx context.Context, event model.Event) (*model.Event, error) {
	if event.Data == nil {
		event.Data = map[string]any{}
	}

	db := s.getDB(ctx)
	lock := appendLockStatement(db.Dialector.Name())
	err := db.Transaction(func(tx *gorm.DB) error {
		if lock != "" {
			if err := tx.Exec(lock, eventAppendLockKey).Error; err != nil {
				return err
			}
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, fmt.Errorf("recording event: %w", err)
	}
	return &event, nil
}

// Recent returns events in insertion order.
// With sinceID > 0 only events after the watermark are returned, oldest first,
// so a caller can page forward without gaps. Otherwise the newest limit events are returned.
func (s *EventStore) Recent(ctx context.Context, limit int, sinceID int64) (model.EventList, error) {
	var events model.EventList

	if sinceID > 0 {
		err := s.getDB(ctx).
			Where("id > ?", sinceID).
			Order("id ASC").
			Limit(limit).
			Find(&events).Error
		if err != nil {
			return nil, fmt.Errorf("listing events: %w", err)
		}
		return events, nil
	}

	if err := s.getDB(ctx).Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *EventStore) LastID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.getDB(ctx).Model(&model.Event{}).Select("COALESCE(MAX(id), 0)").Scan(&id).Error; err != nil {
		return 0, fmt.Errorf("reading last event id: %w", err)
	}
	return id, nil
}

func (s *EventStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
