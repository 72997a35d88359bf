package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ocrbench/pipeline/internal/store/model"
	"gorm.io/gorm"
)

// Duplicate tracks files whose content hash matches an already known page.
type Duplicate interface {
	DeactivateAll(ctx context.Context) error
	Upsert(ctx context.Context, relPath, hash string, canonicalPageID int64) error
	ListActive(ctx context.Context) ([]model.DuplicateView, error)
	CountActive(ctx context.Context) (int64, error)
}

type DuplicateStore struct {
	db *gorm.DB
}

var _ Duplicate = (*DuplicateStore)(nil)

func NewDuplicateStore(db *gorm.DB) Duplicate {
	return &DuplicateStore{db: db}
}

func (s *DuplicateStore) DeactivateAll(ctx context.Context) error {
	if err := s.getDB(ctx).Model(&model.DuplicateFile{}).Where("active = ?", true).Update("active", false).Error; err != nil {
		return fmt.Errorf("deactivating duplicates: %w", err)
	}
	return nil
}

func (s *DuplicateStore) Upsert(ctx context.Context, relPath, hash string, canonicalPageID int64) error {
	now := time.Now().UTC()
	db := s.getDB(ctx)

	var existing model.DuplicateFile
	err := db.Where("rel_path = ?", relPath).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		dup := model.DuplicateFile{
			RelPath:         relPath,
			FileHash:        hash,
			CanonicalPageID: canonicalPageID,
			Active:          true,
			FirstSeenAt:     now,
			LastSeenAt:      now,
		}
		if err := db.Create(&dup).Error; err != nil {
			return fmt.Errorf("creating duplicate: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("querying duplicate: %w", err)
	}

	err = db.Model(&model.DuplicateFile{}).Where("id = ?", existing.ID).Updates(map[string]any{
		"file_hash":         hash,
		"canonical_page_id": canonicalPageID,
		"active":            true,
		"last_seen_at":      now,
	}).Error
	if err != nil {
		return fmt.Errorf("updating duplicate: %w", err)
	}
	return nil
}

func (s *DuplicateStore) ListActive(ctx context.Context) ([]model.DuplicateView, error) {
	var rows []model.DuplicateView
	err := s.getDB(ctx).Table("duplicate_files d").
		Select("d.rel_path AS duplicate_rel_path, p.rel_path AS canonical_rel_path, d.file_hash, d.first_seen_at, d.last_seen_at").
		Joins("JOIN pages p ON p.id = d.canonical_page_id").
		Where("d.active = ?", true).
		Order("d.rel_path").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing duplicates: %w", err)
	}
	return rows, nil
}

func (s *DuplicateStore) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := s.getDB(ctx).Model(&model.DuplicateFile{}).Where("active = ?", true).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting duplicates: %w", err)
	}
	return count, nil
}

func (s *DuplicateStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
