package transport

type TaskRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Points           int    `json:"points"`
	DueAt            string `json:"due_at"`
	Required         bool   `json:"required"`
	AssigneeID       string `json:"assignee_id"`
	EvidenceRequired bool   `json:"evidence_required"`
}

type CompletionRequest struct {
	Completed bool `json:"completed"`
}

// EvidenceRequest carries the raw proof; JSON encodes Payload as base64.
type EvidenceRequest struct {
	Payload []byte `json:"payload"`
}

type AdjudicationRequest struct {
	Outcome  string `json:"outcome"`
	Feedback string `json:"feedback"`
}

type DeductionRequest struct {
	ActorID string `json:"actor_id"`
	Amount  int    `json:"amount"`
	Note    string `json:"note"`
}
