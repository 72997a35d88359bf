// Package v1alpha1 holds the request and response bodies of the pipeline HTTP API.
package v1alpha1

import "time"

// BBox is a region in page-relative coordinates.
type BBox struct {
	X1 float64 `json:"x1" validate:"gte=0,lte=1"`
	Y1 float64 `json:"y1" validate:"gte=0,lte=1"`
	X2 float64 `json:"x2" validate:"gte=0,lte=1"`
	Y2 float64 `json:"y2" validate:"gte=0,lte=1"`
}

type LayoutCreate struct {
	ClassName    string `json:"class_name" validate:"required,class_name"`
	BBox         *BBox  `json:"bbox" validate:"required"`
	ReadingOrder *int   `json:"reading_order,omitempty" validate:"omitempty,min=1"`
}

type LayoutUpdate struct {
	ClassName    *string `json:"class_name,omitempty" validate:"omitempty,class_name"`
	BBox         *BBox   `json:"bbox,omitempty"`
	ReadingOrder *int    `json:"reading_order,omitempty" validate:"omitempty,min=1"`
}

type LayoutDetect struct {
	ReplaceExisting     *bool    `json:"replace_existing,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	IoUThreshold        *float64 `json:"iou_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
}

type JobSubmit struct {
	Stage    string         `json:"stage" validate:"required,stage_name"`
	EntityID int64          `json:"entity_id" validate:"gte=0"`
	Params   map[string]any `json:"params,omitempty"`
}

type ExecutionUpdate struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type Layout struct {
	ID           int64     `json:"id"`
	PageID       int64     `json:"page_id"`
	ClassName    string    `json:"class_name"`
	BBox         BBox      `json:"bbox"`
	ReadingOrder int       `json:"reading_order"`
	Confidence   *float64  `json:"confidence"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type LayoutList struct {
	PageID  int64    `json:"page_id"`
	Count   int      `json:"count"`
	Layouts []Layout `json:"layouts"`
}

type LayoutDeleted struct {
	Deleted  bool  `json:"deleted"`
	LayoutID int64 `json:"layout_id"`
}

type WipeResult struct {
	Wiped bool `json:"wiped"`
}

type Error struct {
	Message string `json:"message"`
}
