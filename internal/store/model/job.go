package model

import (
	"encoding/json"
	"time"
)

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Active reports whether the state still counts against the one-active-job-per-entity rule.
func (s JobState) Active() bool {
	return s == JobStateQueued || s == JobStateRunning
}

func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

type Job struct {
	ID          int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	Stage       string         `json:"stage" gorm:"not null"`
	EntityID    int64          `json:"entity_id" gorm:"column:entity_id;not null"`
	Params      map[string]any `json:"params" gorm:"serializer:json"`
	State       JobState       `json:"state" gorm:"not null"`
	Result      map[string]any `json:"result,omitempty" gorm:"serializer:json"`
	Error       *string        `json:"error,omitempty"`
	Attempts    int            `json:"attempts" gorm:"not null;default:0"`
	PriorStatus *string        `json:"prior_status,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Job) TableName() string {
	return "pipeline_jobs"
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}
