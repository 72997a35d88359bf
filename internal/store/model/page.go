package model

import (
	"encoding/json"
	"time"
)

type Page struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RelPath    string    `json:"rel_path" gorm:"column:rel_path;not null;unique"`
	FileHash   string    `json:"file_hash" gorm:"column:file_hash;not null;unique"`
	Status     string    `json:"status" gorm:"not null;default:new"`
	IsMissing  bool      `json:"is_missing" gorm:"column:is_missing;not null;default:false"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastSeenAt time.Time `json:"last_seen_at" gorm:"column:last_seen_at"`
}

type PageList []Page

func (p Page) String() string {
	val, _ := json.Marshal(p)
	return string(val)
}

type DuplicateFile struct {
	ID              int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RelPath         string    `json:"rel_path" gorm:"column:rel_path;not null;unique"`
	FileHash        string    `json:"file_hash" gorm:"column:file_hash;not null"`
	CanonicalPageID int64     `json:"canonical_page_id" gorm:"column:canonical_page_id;not null"`
	Active          bool      `json:"active" gorm:"not null;default:true"`
	FirstSeenAt     time.Time `json:"first_seen_at" gorm:"column:first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at" gorm:"column:last_seen_at"`
}

// DuplicateView joins an active duplicate with the path of its canonical page.
type DuplicateView struct {
	DuplicateRelPath string    `json:"duplicate_rel_path"`
	CanonicalRelPath string    `json:"canonical_rel_path"`
	FileHash         string    `json:"file_hash"`
	FirstSeenAt      time.Time `json:"first_seen_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
}
