package model

import (
	"encoding/json"
	"time"
)

const LayoutSourceManual = "manual"

type Layout struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	PageID       int64     `json:"page_id" gorm:"column:page_id;not null"`
	ClassName    string    `json:"class_name" gorm:"column:class_name;not null"`
	X1           float64   `json:"x1" gorm:"column:x1;not null"`
	Y1           float64   `json:"y1" gorm:"column:y1;not null"`
	X2           float64   `json:"x2" gorm:"column:x2;not null"`
	Y2           float64   `json:"y2" gorm:"column:y2;not null"`
	ReadingOrder int       `json:"reading_order" gorm:"column:reading_order;not null"`
	Confidence   *float64  `json:"confidence"`
	Source       string    `json:"source" gorm:"not null;default:manual"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type LayoutList []Layout

func (l Layout) String() string {
	val, _ := json.Marshal(l)
	return string(val)
}

// LayoutExportRow is a layout joined with its page path.
type LayoutExportRow struct {
	Layout
	RelPath string `json:"rel_path" gorm:"column:rel_path"`
}
