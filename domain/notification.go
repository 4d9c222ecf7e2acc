package domain

import "time"

// NotificationCategory classifies a notification event.
type NotificationCategory string

const (
	CategoryTaskAssigned      NotificationCategory = "task-assigned"
	CategoryEvidenceSubmitted NotificationCategory = "evidence-submitted"
	CategoryEvidenceApproved  NotificationCategory = "evidence-approved"
	CategoryEvidenceRejected  NotificationCategory = "evidence-rejected"
	CategoryPointsDeducted    NotificationCategory = "points-deducted"
)

// Notification is a one-way message to an actor.
type Notification struct {
	ID          string               `json:"id"`
	RecipientID string               `json:"recipient_id"`
	Category    NotificationCategory `json:"category"`
	Title       string               `json:"title"`
	Body        string               `json:"body"`
	TaskID      string               `json:"task_id"`
	Read        bool                 `json:"read"`
	CreatedAt   time.Time            `json:"created_at"`
}

// DedupKey identifies notifications that suppress each other inside the window.
func (n *Notification) DedupKey() string {
	return DedupKey(n.RecipientID, n.Category, n.TaskID)
}

func DedupKey(recipientID string, category NotificationCategory, taskID string) string {
	return recipientID + "|" + string(category) + "|" + taskID
}
