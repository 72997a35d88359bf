package store

import (
	"context"
	"fmt"

	"github.com/ocrbench/pipeline/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Page() Page
	Layout() Layout
	Duplicate() Duplicate
	Job() Job
	Event() Event
	Stats(ctx context.Context) (model.Stats, error)
	Wipe(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db        *gorm.DB
	page      Page
	layout    Layout
	duplicate Duplicate
	job       Job
	event     Event
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		page:      NewPageStore(db),
		layout:    NewLayoutStore(db),
		duplicate: NewDuplicateStore(db),
		job:       NewJobStore(db),
		event:     NewEventStore(db),
		db:        db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Page() Page {
	return s.page
}

func (s *DataStore) Layout() Layout {
	return s.layout
}

func (s *DataStore) Duplicate() Duplicate {
	return s.duplicate
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Event() Event {
	return s.event
}

func (s *DataStore) Stats(ctx context.Context) (model.Stats, error) {
	total, err := s.Page().Count(ctx, nil)
	if err != nil {
		return model.Stats{}, err
	}
	missing, err := s.Page().Count(ctx, NewPageQueryFilter().ByMissing(true))
	if err != nil {
		return model.Stats{}, err
	}
	duplicates, err := s.Duplicate().CountActive(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	byStatus, err := s.Page().CountByStatus(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	return model.Stats{
		TotalPages:     total,
		MissingPages:   missing,
		DuplicateFiles: duplicates,
		PagesByStatus:  byStatus,
	}, nil
}

// Wipe clears jobs, events and every domain table in a single transaction.
func (s *DataStore) Wipe(ctx context.Context) error {
	db := FromContext(ctx)
	if db == nil {
		db = s.db.WithContext(ctx)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"pipeline_jobs", "pipeline_events", "layouts", "duplicate_files", "pages"} {
			if err := tx.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
				return fmt.Errorf("wiping %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
