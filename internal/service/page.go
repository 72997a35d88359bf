package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ocrbench/pipeline/internal/stages"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/model"
)

type PageService struct {
	store      store.Store
	sourceDir  string
	extensions []string
}

func NewPageService(s store.Store, sourceDir string, extensions []string) *PageService {
	return &PageService{store: s, sourceDir: sourceDir, extensions: extensions}
}

type PageFilter struct {
	Status  string
	Missing *bool
}

type PageListing struct {
	SourceDir         string         `json:"source_dir"`
	AllowedExtensions []string       `json:"allowed_extensions"`
	Count             int            `json:"count"`
	Pages             model.PageList `json:"pages"`
}

type PageDetails struct {
	Page        model.Page `json:"page"`
	ImageURL    string     `json:"image_url"`
	ImageExists bool       `json:"image_exists"`
}

func (s *PageService) ListPages(ctx context.Context, filter PageFilter) (PageListing, error) {
	storeFilter := store.NewPageQueryFilter()
	if filter.Status != "" {
		storeFilter = storeFilter.ByStatus(filter.Status)
	}
	if filter.Missing != nil {
		storeFilter = storeFilter.ByMissing(*filter.Missing)
	}

	pages, err := s.store.Page().List(ctx, storeFilter)
	if err != nil {
		return PageListing{}, err
	}
	if pages == nil {
		pages = model.PageList{}
	}

	return PageListing{
		SourceDir:         s.sourceDir,
		AllowedExtensions: s.extensions,
		Count:             len(pages),
		Pages:             pages,
	}, nil
}

func (s *PageService) GetPage(ctx context.Context, id int64) (*PageDetails, error) {
	page, err := s.getPage(ctx, id)
	if err != nil {
		return nil, err
	}

	exists := false
	if path, err := stages.ResolveImagePath(s.sourceDir, page.RelPath); err == nil {
		exists = stages.ImageExists(path)
	}

	return &PageDetails{
		Page:        *page,
		ImageURL:    fmt.Sprintf("/api/pages/%d/image", id),
		ImageExists: exists,
	}, nil
}

// ImagePath returns the absolute path of the page image, confined to the source folder.
func (s *PageService) ImagePath(ctx context.Context, id int64) (string, error) {
	page, err := s.getPage(ctx, id)
	if err != nil {
		return "", err
	}

	path, err := stages.ResolveImagePath(s.sourceDir, page.RelPath)
	if err != nil {
		return "", NewErrInvalidInput("invalid page image path")
	}
	if !stages.ImageExists(path) {
		return "", NewErrImageNotFound(id)
	}
	return path, nil
}

func (s *PageService) getPage(ctx context.Context, id int64) (*model.Page, error) {
	page, err := s.store.Page().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrPageNotFound(id)
		}
		return nil, err
	}
	return page, nil
}
