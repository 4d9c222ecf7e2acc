package transport

import (
	"time"

	"github.com/fastygo/taskledger/domain"
)

// EvidenceView is an Evidence without its payload, which is served separately.
type EvidenceView struct {
	ID            string                `json:"id"`
	TaskID        string                `json:"task_id"`
	PerformerID   string                `json:"performer_id"`
	PayloadSize   int                   `json:"payload_size"`
	Status        domain.EvidenceStatus `json:"status"`
	AdjudicatorID string                `json:"adjudicator_id,omitempty"`
	Feedback      string                `json:"feedback,omitempty"`
	SupersededBy  string                `json:"superseded_by,omitempty"`
	SubmittedAt   time.Time             `json:"submitted_at"`
	ResolvedAt    *time.Time            `json:"resolved_at,omitempty"`
}

func NewEvidenceView(ev domain.Evidence) EvidenceView {
	return EvidenceView{
		ID:            ev.ID,
		TaskID:        ev.TaskID,
		PerformerID:   ev.PerformerID,
		PayloadSize:   ev.PayloadSize,
		Status:        ev.Status,
		AdjudicatorID: ev.AdjudicatorID,
		Feedback:      ev.Feedback,
		SupersededBy:  ev.SupersededBy,
		SubmittedAt:   ev.SubmittedAt,
		ResolvedAt:    ev.ResolvedAt,
	}
}

type BalanceView struct {
	ActorID string `json:"actor_id"`
	Balance int    `json:"balance"`
}

type NotificationsView struct {
	Unread int                   `json:"unread"`
	Items  []domain.Notification `json:"items"`
}

// SyncMeta flags a response whose remote write is still pending.
type SyncMeta struct {
	Unsynced bool `json:"unsynced"`
}
