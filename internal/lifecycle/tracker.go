package lifecycle

import (
	"context"
	"fmt"

	"github.com/ocrbench/pipeline/internal/runtime"
	"github.com/ocrbench/pipeline/internal/store"
	"go.uber.org/zap"
)

// PageTracker applies stage events to page statuses for the scheduler.
type PageTracker struct {
	store store.Store
}

var _ runtime.EntityTracker = (*PageTracker)(nil)

func NewPageTracker(s store.Store) *PageTracker {
	return &PageTracker{store: s}
}

func (t *PageTracker) Begin(ctx context.Context, pageID int64, event string) (string, error) {
	page, err := t.store.Page().Get(ctx, pageID)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", pageID, err)
	}
	if _, err := t.apply(ctx, pageID, Status(page.Status), Event(event)); err != nil {
		return "", err
	}
	return page.Status, nil
}

func (t *PageTracker) Succeed(ctx context.Context, pageID int64, event string) error {
	page, err := t.store.Page().Get(ctx, pageID)
	if err != nil {
		return fmt.Errorf("page %d: %w", pageID, err)
	}
	_, err = t.apply(ctx, pageID, Status(page.Status), Event(event))
	return err
}

// Rollback writes prior back while the page still holds the status the start
// event produced. It is not a table transition. A page a reviewer moved on
// during the job, e.g. with a manual layout, keeps its newer status.
func (t *PageTracker) Rollback(ctx context.Context, pageID int64, prior, startEvent string) error {
	from, err := ParseStatus(prior)
	if err != nil {
		return err
	}
	inProgress, err := Next(from, Event(startEvent))
	if err != nil {
		return err
	}
	if inProgress == from {
		return nil
	}

	restored, err := t.store.Page().SwapStatus(ctx, pageID, string(inProgress), prior)
	if err != nil {
		return fmt.Errorf("restoring page %d to %s: %w", pageID, prior, err)
	}
	if !restored {
		zap.S().Named("page_tracker").Infow("page status changed during the job, keeping it",
			"page_id", pageID, "prior", prior)
	}
	return nil
}

// Apply moves a page through event outside of any job, e.g. a reviewer action.
func (t *PageTracker) Apply(ctx context.Context, pageID int64, event Event) (Status, error) {
	page, err := t.store.Page().Get(ctx, pageID)
	if err != nil {
		return "", err
	}
	return t.apply(ctx, pageID, Status(page.Status), event)
}

func (t *PageTracker) apply(ctx context.Context, pageID int64, from Status, event Event) (Status, error) {
	to, err := Next(from, event)
	if err != nil {
		return from, err
	}
	if to == from {
		return to, nil
	}
	if err := t.store.Page().UpdateStatus(ctx, pageID, string(to)); err != nil {
		return from, fmt.Errorf("updating page %d status: %w", pageID, err)
	}
	return to, nil
}
