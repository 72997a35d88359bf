package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ocrbench/pipeline/internal/store/model"
	"gorm.io/gorm"
)

type Page interface {
	Get(ctx context.Context, id int64) (*model.Page, error)
	GetByHash(ctx context.Context, hash string) (*model.Page, error)
	GetByRelPath(ctx context.Context, relPath string) (*model.Page, error)
	List(ctx context.Context, filter *PageQueryFilter) (model.PageList, error)
	Create(ctx context.Context, page model.Page) (*model.Page, error)
	Update(ctx context.Context, page model.Page) (*model.Page, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	SwapStatus(ctx context.Context, id int64, from, to string) (bool, error)
	Touch(ctx context.Context, id int64) error
	MarkMissingExcept(ctx context.Context, seen []int64) (int64, error)
	Count(ctx context.Context, filter *PageQueryFilter) (int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type PageStore struct {
	db *gorm.DB
}

var _ Page = (*PageStore)(nil)

func NewPageStore(db *gorm.DB) Page {
	return &PageStore{db: db}
}

func (s *PageStore) Get(ctx context.Context, id int64) (*model.Page, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *PageStore) GetByHash(ctx context.Context, hash string) (*model.Page, error) {
	return s.first(ctx, "file_hash = ?", hash)
}

func (s *PageStore) GetByRelPath(ctx context.Context, relPath string) (*model.Page, error) {
	return s.first(ctx, "rel_path = ?", relPath)
}

func (s *PageStore) first(ctx context.Context, query string, args ...any) (*model.Page, error) {
	var page model.Page
	result := s.getDB(ctx).Where(query, args...).First(&page)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying page: %w", result.Error)
	}
	return &page, nil
}

func (s *PageStore) List(ctx context.Context, filter *PageQueryFilter) (model.PageList, error) {
	var pages model.PageList
	tx := s.getDB(ctx).Model(&pages)
	if filter != nil {
		tx = apply(tx, filter.QueryFn)
	}
	if err := tx.Order("rel_path").Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}
	return pages, nil
}

func (s *PageStore) Create(ctx context.Context, page model.Page) (*model.Page, error) {
	if page.LastSeenAt.IsZero() {
		page.LastSeenAt = time.Now().UTC()
	}
	if err := s.getDB(ctx).Create(&page).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating page: %w", err)
	}
	return &page, nil
}

func (s *PageStore) Update(ctx context.Context, page model.Page) (*model.Page, error) {
	result := s.getDB(ctx).Model(&model.Page{ID: page.ID}).
		Select("rel_path", "file_hash", "is_missing", "last_seen_at", "updated_at").
		Updates(&page)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("updating page: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, page.ID)
}

func (s *PageStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	result := s.getDB(ctx).Model(&model.Page{ID: id}).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("updating page status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SwapStatus sets status to `to` only while it is still `from`. It reports
// whether the row changed; an unknown page is ErrRecordNotFound.
func (s *PageStore) SwapStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	result := s.getDB(ctx).Model(&model.Page{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("swapping page status: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Touch bumps updated_at, used when a page's layouts change.
func (s *PageStore) Touch(ctx context.Context, id int64) error {
	return s.getDB(ctx).Model(&model.Page{ID: id}).Update("updated_at", time.Now().UTC()).Error
}

// MarkMissingExcept flags every present page that is not in seen as missing.
func (s *PageStore) MarkMissingExcept(ctx context.Context, seen []int64) (int64, error) {
	tx := s.getDB(ctx).Model(&model.Page{}).Where("is_missing = ?", false)
	if len(seen) > 0 {
		tx = tx.Where("id NOT IN ?", seen)
	}
	result := tx.Updates(map[string]any{"is_missing": true, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return 0, fmt.Errorf("marking missing pages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *PageStore) Count(ctx context.Context, filter *PageQueryFilter) (int64, error) {
	var count int64
	tx := s.getDB(ctx).Model(&model.Page{})
	if filter != nil {
		tx = apply(tx, filter.QueryFn)
	}
	if err := tx.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting pages: %w", err)
	}
	return count, nil
}

func (s *PageStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.getDB(ctx).Model(&model.Page{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting pages by status: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *PageStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
