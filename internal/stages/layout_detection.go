package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ocrbench/pipeline/internal/detector"
	"github.com/ocrbench/pipeline/internal/runtime"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/model"
	"go.uber.org/zap"
)

type LayoutDetectionParams struct {
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	IoUThreshold        *float64 `json:"iou_threshold,omitempty"`
	ReplaceExisting     *bool    `json:"replace_existing,omitempty"`
	Trigger             string   `json:"trigger,omitempty"`
}

func (p LayoutDetectionParams) replace() bool {
	return p.ReplaceExisting == nil || *p.ReplaceExisting
}

// LayoutDetectionHandler runs the layout detector on a page and stores the regions.
type LayoutDetectionHandler struct {
	store     store.Store
	detector  detector.Detector
	sourceDir string
	defaults  detector.Thresholds
	log       *zap.SugaredLogger
}

var _ runtime.Handler = (*LayoutDetectionHandler)(nil)

func NewLayoutDetectionHandler(s store.Store, d detector.Detector, sourceDir string, defaults detector.Thresholds) *LayoutDetectionHandler {
	return &LayoutDetectionHandler{
		store:     s,
		detector:  d,
		sourceDir: sourceDir,
		defaults:  defaults.WithDefaults(),
		log:       zap.S().Named("layout_detection"),
	}
}

func (h *LayoutDetectionHandler) Handle(ctx context.Context, pageID int64, raw json.RawMessage) (runtime.Result, error) {
	var params LayoutDetectionParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("invalid layout detection params: %w", err)
		}
	}

	page, err := h.store.Page().Get(ctx, pageID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	if page.IsMissing {
		return runtime.Skipped("page is missing"), nil
	}

	imagePath, err := ResolveImagePath(h.sourceDir, page.RelPath)
	if err != nil {
		return nil, err
	}
	if !ImageExists(imagePath) {
		return nil, ErrImageNotFound
	}

	thresholds := h.defaults
	if params.ConfidenceThreshold != nil {
		thresholds.Confidence = *params.ConfidenceThreshold
	}
	if params.IoUThreshold != nil {
		thresholds.IoU = *params.IoUThreshold
	}

	detection, err := h.detector.Detect(ctx, imagePath, thresholds)
	if err != nil {
		return nil, err
	}

	created, err := h.storeRegions(ctx, page.ID, detection, params.replace())
	if err != nil {
		return nil, err
	}

	h.log.Infow("layouts detected", "page_id", page.ID, "created", created, "replace_existing", params.replace())

	return runtime.Result{
		"created":  created,
		"detector": detection.Name(),
		"thresholds": map[string]any{
			"confidence_threshold": detection.Thresholds.Confidence,
			"iou_threshold":        detection.Thresholds.IoU,
		},
		"class_counts": detection.ClassCounts(),
	}, nil
}

// storeRegions replaces or appends the page layouts in one transaction.
func (h *LayoutDetectionHandler) storeRegions(ctx context.Context, pageID int64, detection *detector.Detection, replace bool) (int, error) {
	var created int
	err := store.Atomic(ctx, h.store, func(ctx context.Context) error {
		var err error
		created, err = h.writeRegions(ctx, pageID, detection, replace)
		return err
	})
	return created, err
}

func (h *LayoutDetectionHandler) writeRegions(ctx context.Context, pageID int64, detection *detector.Detection, replace bool) (int, error) {
	if replace {
		if err := h.store.Layout().DeleteByPage(ctx, pageID); err != nil {
			return 0, err
		}
	}

	start, err := h.store.Layout().MaxReadingOrder(ctx, pageID)
	if err != nil {
		return 0, err
	}

	source := detection.Source()
	layouts := make(model.LayoutList, 0, len(detection.Regions))
	for i, r := range detection.Regions {
		confidence := r.Confidence
		layouts = append(layouts, model.Layout{
			PageID:       pageID,
			ClassName:    r.ClassName,
			X1:           r.X1,
			Y1:           r.Y1,
			X2:           r.X2,
			Y2:           r.Y2,
			ReadingOrder: start + i + 1,
			Confidence:   &confidence,
			Source:       source,
		})
	}
	if err := h.store.Layout().CreateMany(ctx, layouts); err != nil {
		return 0, err
	}
	if err := h.store.Page().Touch(ctx, pageID); err != nil {
		return 0, err
	}
	return len(layouts), nil
}
