package model

import (
	"encoding/json"
	"time"
)

// Event is one immutable row of the pipeline audit trail.
type Event struct {
	ID        int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	Stage     string         `json:"stage" gorm:"not null"`
	Kind      string         `json:"kind" gorm:"not null"`
	EntityID  *int64         `json:"entity_id,omitempty" gorm:"column:entity_id"`
	Message   string         `json:"message" gorm:"not null"`
	Data      map[string]any `json:"data" gorm:"serializer:json"`
	CreatedAt time.Time      `json:"created_at"`
}

func (Event) TableName() string {
	return "pipeline_events"
}

type EventList []Event

func (e Event) String() string {
	val, _ := json.Marshal(e)
	return string(val)
}
