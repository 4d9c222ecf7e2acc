package domain

import "time"

// LedgerReason is the business reason for a balance change.
type LedgerReason string

const (
	ReasonTaskSettlement  LedgerReason = "task-settlement"
	ReasonManualDeduction LedgerReason = "manual-deduction"
)

// LedgerEntry is an immutable record of a point-balance change.
type LedgerEntry struct {
	ID        string       `json:"id"`
	ActorID   string       `json:"actor_id"`
	Delta     int          `json:"delta"`
	Reason    LedgerReason `json:"reason"`
	TaskID    string       `json:"task_id"`
	Note      string       `json:"note"`
	CreatedAt time.Time    `json:"created_at"`
}

// SettlementID is the stable identifier of the single settlement entry a
// performer may receive for a task.
func SettlementID(actorID, taskID string) string {
	return "settlement:" + actorID + ":" + taskID
}
