package domain

import "time"

// EvidenceStatus is the adjudication state of a submission.
type EvidenceStatus string

const (
	EvidencePending  EvidenceStatus = "pending"
	EvidenceApproved EvidenceStatus = "approved"
	EvidenceRejected EvidenceStatus = "rejected"
)

func (s EvidenceStatus) Ptr() *EvidenceStatus { return &s }

// Outcome is an adjudicator decision.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
)

// Evidence is one submission of proof for a task.
type Evidence struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"task_id"`
	PerformerID   string         `json:"performer_id"`
	Payload       []byte         `json:"payload"`
	PayloadSize   int            `json:"payload_size"`
	Status        EvidenceStatus `json:"status"`
	AdjudicatorID string         `json:"adjudicator_id"`
	Feedback      string         `json:"feedback"`
	SupersededBy  string         `json:"superseded_by"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	ResolvedAt    *time.Time     `json:"resolved_at"`
}

func (e *Evidence) IsPending() bool {
	return e != nil && e.Status == EvidencePending
}

// Resolve moves a pending submission to its terminal treatment.
func (e *Evidence) Resolve(status EvidenceStatus, adjudicatorID, feedback string, at time.Time) error {
	if !e.IsPending() {
		return ErrAlreadyResolved
	}
	e.Status = status
	e.AdjudicatorID = adjudicatorID
	e.Feedback = feedback
	e.ResolvedAt = &at
	return nil
}

func (e Evidence) Clone() Evidence {
	if e.Payload != nil {
		e.Payload = append([]byte(nil), e.Payload...)
	}
	if e.ResolvedAt != nil {
		at := *e.ResolvedAt
		e.ResolvedAt = &at
	}
	return e
}
