package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ocrbench/pipeline/internal/store/model"
	"gorm.io/gorm"
)

type Layout interface {
	Get(ctx context.Context, id int64) (*model.Layout, error)
	List(ctx context.Context, pageID int64) (model.LayoutList, error)
	Create(ctx context.Context, layout model.Layout) (*model.Layout, error)
	CreateMany(ctx context.Context, layouts model.LayoutList) error
	Update(ctx context.Context, layout model.Layout) (*model.Layout, error)
	Delete(ctx context.Context, id int64) error
	DeleteByPage(ctx context.Context, pageID int64) error
	Count(ctx context.Context, pageID int64) (int64, error)
	MaxReadingOrder(ctx context.Context, pageID int64) (int, error)
	ListForExport(ctx context.Context) ([]model.LayoutExportRow, error)
}

type LayoutStore struct {
	db *gorm.DB
}

var _ Layout = (*LayoutStore)(nil)

func NewLayoutStore(db *gorm.DB) Layout {
	return &LayoutStore{db: db}
}

func (s *LayoutStore) Get(ctx context.Context, id int64) (*model.Layout, error) {
	var layout model.Layout
	result := s.getDB(ctx).First(&layout, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying layout: %w", result.Error)
	}
	return &layout, nil
}

func (s *LayoutStore) List(ctx context.Context, pageID int64) (model.LayoutList, error) {
	var layouts model.LayoutList
	err := s.getDB(ctx).
		Where("page_id = ?", pageID).
		Order("reading_order ASC").Order("id ASC").
		Find(&layouts).Error
	if err != nil {
		return nil, fmt.Errorf("listing layouts: %w", err)
	}
	return layouts, nil
}

func (s *LayoutStore) Create(ctx context.Context, layout model.Layout) (*model.Layout, error) {
	if err := s.getDB(ctx).Create(&layout).Error; err != nil {
		return nil, fmt.Errorf("creating layout: %w", err)
	}
	return &layout, nil
}

func (s *LayoutStore) CreateMany(ctx context.Context, layouts model.LayoutList) error {
	if len(layouts) == 0 {
		return nil
	}
	if err := s.getDB(ctx).Create(&layouts).Error; err != nil {
		return fmt.Errorf("creating layouts: %w", err)
	}
	return nil
}

func (s *LayoutStore) Update(ctx context.Context, layout model.Layout) (*model.Layout, error) {
	result := s.getDB(ctx).Model(&model.Layout{ID: layout.ID}).
		Select("class_name", "reading_order", "x1", "y1", "x2", "y2", "updated_at").
		Updates(&layout)
	if result.Error != nil {
		return nil, fmt.Errorf("updating layout: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, layout.ID)
}

func (s *LayoutStore) Delete(ctx context.Context, id int64) error {
	result := s.getDB(ctx).Delete(&model.Layout{}, id)
	if result.Error != nil {
		return fmt.Errorf("deleting layout: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *LayoutStore) DeleteByPage(ctx context.Context, pageID int64) error {
	if err := s.getDB(ctx).Where("page_id = ?", pageID).Delete(&model.Layout{}).Error; err != nil {
		return fmt.Errorf("deleting page layouts: %w", err)
	}
	return nil
}

func (s *LayoutStore) Count(ctx context.Context, pageID int64) (int64, error) {
	var count int64
	if err := s.getDB(ctx).Model(&model.Layout{}).Where("page_id = ?", pageID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting layouts: %w", err)
	}
	return count, nil
}

func (s *LayoutStore) MaxReadingOrder(ctx context.Context, pageID int64) (int, error) {
	var max int
	err := s.getDB(ctx).Model(&model.Layout{}).
		Select("COALESCE(MAX(reading_order), 0)").
		Where("page_id = ?", pageID).
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("reading max reading order: %w", err)
	}
	return max, nil
}

func (s *LayoutStore) ListForExport(ctx context.Context) ([]model.LayoutExportRow, error) {
	var rows []model.LayoutExportRow
	err := s.getDB(ctx).Table("layouts").
		Select("layouts.*, pages.rel_path AS rel_path").
		Joins("JOIN pages ON pages.id = layouts.page_id").
		Order("pages.rel_path").Order("layouts.reading_order").Order("layouts.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing layouts for export: %w", err)
	}
	return rows, nil
}

func (s *LayoutStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
