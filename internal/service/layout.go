package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ocrbench/pipeline/internal/events"
	"github.com/ocrbench/pipeline/internal/lifecycle"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/model"
	"go.uber.org/zap"
)

type LayoutService struct {
	store    store.Store
	tracker  *lifecycle.PageTracker
	eventLog *events.Log
	log      *zap.SugaredLogger
}

func NewLayoutService(s store.Store, tracker *lifecycle.PageTracker, eventLog *events.Log) *LayoutService {
	return &LayoutService{
		store:    s,
		tracker:  tracker,
		eventLog: eventLog,
		log:      zap.S().Named("layout_service"),
	}
}

type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Validate checks that the box lies within the page and has a positive area.
func (b BBox) Validate() error {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if v < 0 || v > 1 {
			return NewErrInvalidInput("bbox values must be between 0 and 1")
		}
	}
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return NewErrInvalidInput("bbox must satisfy x2 > x1 and y2 > y1")
	}
	return nil
}

type LayoutForm struct {
	ClassName    string
	BBox         BBox
	ReadingOrder *int
}

type LayoutUpdateForm struct {
	ClassName    *string
	BBox         *BBox
	ReadingOrder *int
}

type PageLayouts struct {
	PageID  int64            `json:"page_id"`
	Count   int              `json:"count"`
	Layouts model.LayoutList `json:"layouts"`
}

type ReviewResult struct {
	PageID      int64  `json:"page_id"`
	Status      string `json:"status"`
	LayoutCount int64  `json:"layout_count"`
}

func (s *LayoutService) ListLayouts(ctx context.Context, pageID int64) (PageLayouts, error) {
	if _, err := s.getPage(ctx, pageID); err != nil {
		return PageLayouts{}, err
	}

	layouts, err := s.store.Layout().List(ctx, pageID)
	if err != nil {
		return PageLayouts{}, err
	}
	if layouts == nil {
		layouts = model.LayoutList{}
	}
	return PageLayouts{PageID: pageID, Count: len(layouts), Layouts: layouts}, nil
}

// CreateLayout adds a manual region. The page moves through the layout_edited event.
func (s *LayoutService) CreateLayout(ctx context.Context, pageID int64, form LayoutForm) (*model.Layout, error) {
	if err := form.BBox.Validate(); err != nil {
		return nil, err
	}

	var layout *model.Layout
	err := store.Atomic(ctx, s.store, func(ctx context.Context) error {
		var err error
		layout, err = s.createLayout(ctx, pageID, form)
		return err
	})
	if err != nil {
		return nil, err
	}
	return layout, nil
}

func (s *LayoutService) createLayout(ctx context.Context, pageID int64, form LayoutForm) (*model.Layout, error) {
	page, err := s.getEditablePage(ctx, pageID, "edited")
	if err != nil {
		return nil, err
	}

	readingOrder := 0
	if form.ReadingOrder != nil {
		readingOrder = *form.ReadingOrder
	} else {
		max, err := s.store.Layout().MaxReadingOrder(ctx, page.ID)
		if err != nil {
			return nil, err
		}
		readingOrder = max + 1
	}

	layout, err := s.store.Layout().Create(ctx, model.Layout{
		PageID:       page.ID,
		ClassName:    form.ClassName,
		X1:           form.BBox.X1,
		Y1:           form.BBox.Y1,
		X2:           form.BBox.X2,
		Y2:           form.BBox.Y2,
		ReadingOrder: readingOrder,
		Source:       model.LayoutSourceManual,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.tracker.Apply(ctx, page.ID, lifecycle.EventLayoutEdited); err != nil {
		return nil, s.translateLifecycleError(page.ID, err)
	}
	if err := s.store.Page().Touch(ctx, page.ID); err != nil {
		return nil, err
	}

	return layout, nil
}

// UpdateLayout merges the provided fields into the layout and validates the result.
func (s *LayoutService) UpdateLayout(ctx context.Context, id int64, form LayoutUpdateForm) (*model.Layout, error) {
	layout, err := s.getLayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.getEditablePage(ctx, layout.PageID, "edited"); err != nil {
		return nil, err
	}

	if form.ClassName != nil {
		layout.ClassName = *form.ClassName
	}
	if form.ReadingOrder != nil {
		layout.ReadingOrder = *form.ReadingOrder
	}
	if form.BBox != nil {
		layout.X1, layout.Y1, layout.X2, layout.Y2 = form.BBox.X1, form.BBox.Y1, form.BBox.X2, form.BBox.Y2
	}
	if err := (BBox{X1: layout.X1, Y1: layout.Y1, X2: layout.X2, Y2: layout.Y2}).Validate(); err != nil {
		return nil, err
	}

	updated, err := s.store.Layout().Update(ctx, *layout)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrLayoutNotFound(id)
		}
		return nil, err
	}
	if err := s.store.Page().Touch(ctx, layout.PageID); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *LayoutService) DeleteLayout(ctx context.Context, id int64) error {
	layout, err := s.getLayout(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Layout().Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrLayoutNotFound(id)
		}
		return err
	}
	return s.store.Page().Touch(ctx, layout.PageID)
}

// MarkLayoutReviewed records the reviewer's approval of the page layouts.
// It does not go through the job store.
func (s *LayoutService) MarkLayoutReviewed(ctx context.Context, pageID int64) (ReviewResult, error) {
	page, err := s.getEditablePage(ctx, pageID, "reviewed")
	if err != nil {
		return ReviewResult{}, err
	}

	count, err := s.store.Layout().Count(ctx, pageID)
	if err != nil {
		return ReviewResult{}, err
	}
	if count == 0 {
		return ReviewResult{}, NewErrInvalidInput("no layouts found for this page")
	}

	status, err := s.tracker.Apply(ctx, pageID, lifecycle.EventLayoutReviewed)
	if err != nil {
		return ReviewResult{}, s.translateLifecycleError(pageID, err)
	}

	if _, err := s.eventLog.RecordFor(ctx, events.StageReview, events.KindReviewCompleted, pageID,
		fmt.Sprintf("Reviewed layouts of %s.", page.RelPath),
		map[string]any{"page_id": pageID, "layout_count": count}); err != nil {
		s.log.Errorw("failed to record review event", "page_id", pageID, "error", err)
	}

	return ReviewResult{PageID: pageID, Status: status.String(), LayoutCount: count}, nil
}

func (s *LayoutService) getPage(ctx context.Context, id int64) (*model.Page, error) {
	page, err := s.store.Page().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrPageNotFound(id)
		}
		return nil, err
	}
	return page, nil
}

func (s *LayoutService) getEditablePage(ctx context.Context, id int64, action string) (*model.Page, error) {
	page, err := s.getPage(ctx, id)
	if err != nil {
		return nil, err
	}
	if page.IsMissing {
		return nil, NewErrPageMissing(id, action)
	}
	return page, nil
}

func (s *LayoutService) getLayout(ctx context.Context, id int64) (*model.Layout, error) {
	layout, err := s.store.Layout().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrLayoutNotFound(id)
		}
		return nil, err
	}
	return layout, nil
}

func (s *LayoutService) translateLifecycleError(pageID int64, err error) error {
	if errors.Is(err, lifecycle.ErrIllegalTransition) {
		return NewErrStatusConflict(pageID, err)
	}
	return err
}
