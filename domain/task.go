package domain

import (
	"strings"
	"time"
)

const (
	MinTaskPoints = 1
	MaxTaskPoints = 100
)

// Task represents a unit of assignable work carrying a point value.
type Task struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Points           int             `json:"points"`
	DueAt            time.Time       `json:"due_at"`
	Required         bool            `json:"required"`
	AssigneeID       string          `json:"assignee_id"`
	OwnerID          string          `json:"owner_id"`
	Completed        bool            `json:"completed"`
	EvidenceRequired bool            `json:"evidence_required"`
	EvidenceStatus   *EvidenceStatus `json:"evidence_status"`
	Feedback         string          `json:"feedback"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (t *Task) IsCompleted() bool {
	return t != nil && t.Completed
}

// Touch stamps the modification time and backfills creation time.
func (t *Task) Touch(now time.Time) {
	if t == nil {
		return
	}
	t.UpdatedAt = now
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
}

// Validate checks the fields an adjudicator controls plus the completion invariant.
func (t *Task) Validate() error {
	if t == nil {
		return ErrInvalidPayload
	}
	if strings.TrimSpace(t.Title) == "" {
		return Validation("task title is required")
	}
	if strings.TrimSpace(t.Description) == "" {
		return Validation("task description is required")
	}
	if t.Points < MinTaskPoints || t.Points > MaxTaskPoints {
		return Validation("task points must be between %d and %d, got %d", MinTaskPoints, MaxTaskPoints, t.Points)
	}
	if t.Completed && t.EvidenceRequired && (t.EvidenceStatus == nil || *t.EvidenceStatus != EvidenceApproved) {
		return Validation("task requiring evidence cannot be completed before approval")
	}
	return nil
}

// Clone returns a deep copy safe to hand out of a cache.
func (t Task) Clone() Task {
	if t.EvidenceStatus != nil {
		status := *t.EvidenceStatus
		t.EvidenceStatus = &status
	}
	return t
}
