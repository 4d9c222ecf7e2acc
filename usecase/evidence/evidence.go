package evidence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/usecase"
)

// DefaultMaxPayloadBytes bounds a compressed evidence payload.
const DefaultMaxPayloadBytes = 512 << 10

// Tasks is the slice of the task repository the pipeline needs.
type Tasks interface {
	Get(id string) (domain.Task, error)
	ApplyEvidence(ctx context.Context, id string, status domain.EvidenceStatus, feedback string) (domain.Task, error)
}

// Settler pays a performer for an approved task.
type Settler interface {
	Settle(ctx context.Context, performerID, taskID string, amount int) (domain.LedgerEntry, bool, error)
}

// Option customizes a UseCase.
type Option func(*UseCase)

func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		if now != nil {
			uc.now = now
		}
	}
}

// WithMaxPayloadBytes bounds the compressed payload size.
func WithMaxPayloadBytes(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.maxPayload = n
		}
	}
}

// UseCase runs evidence through pending → approved | rejected. All
// transitions of one task are serialized; concurrent adjudications of the
// same submission resolve first-writer-wins.
type UseCase struct {
	replica    *usecase.Replica[domain.Evidence]
	tasks      Tasks
	settler    Settler
	notifier   usecase.Notifier
	locks      *usecase.KeyedMutex
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
	maxPayload int
	now        func() time.Time
	logger     *zap.Logger
}

func New(
	remote usecase.RemoteWriter,
	events *usecase.EventBus,
	tasks Tasks,
	settler Settler,
	notifier usecase.Notifier,
	logger *zap.Logger,
	opts ...Option,
) (*UseCase, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	uc := &UseCase{
		replica:    usecase.NewReplica[domain.Evidence](repository.CollectionEvidence, remote, events, logger),
		tasks:      tasks,
		settler:    settler,
		notifier:   notifier,
		locks:      usecase.NewKeyedMutex(),
		encoder:    encoder,
		decoder:    decoder,
		maxPayload: DefaultMaxPayloadBytes,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc, nil
}

// Submit records a new pending submission for taskID. A pending submission
// already waiting for the task is superseded: it becomes rejected with
// SupersededBy pointing at the new one.
func (uc *UseCase) Submit(ctx context.Context, taskID, performerID string, payload []byte) (domain.Evidence, error) {
	ev, err := uc.submit(ctx, taskID, performerID, payload)
	return ev, domain.WithOp(domain.OpSubmit, err)
}

func (uc *UseCase) submit(ctx context.Context, taskID, performerID string, payload []byte) (domain.Evidence, error) {
	if strings.TrimSpace(taskID) == "" || strings.TrimSpace(performerID) == "" {
		return domain.Evidence{}, domain.Validation("evidence requires task and performer")
	}
	if len(payload) == 0 {
		return domain.Evidence{}, domain.Validation("evidence payload is empty")
	}
	compressed := uc.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	if len(compressed) > uc.maxPayload {
		return domain.Evidence{}, domain.Validation("evidence payload is %d bytes compressed, limit is %d", len(compressed), uc.maxPayload)
	}

	unlock := uc.locks.Lock(taskID)
	task, ev, err := uc.createLocked(ctx, taskID, performerID, payload, compressed)
	unlock()
	if err != nil {
		return domain.Evidence{}, err
	}

	if task.OwnerID != "" {
		uc.notify(ctx, task.OwnerID, domain.CategoryEvidenceSubmitted,
			"Evidence submitted", fmt.Sprintf("New evidence for %q is waiting for review", task.Title), task.ID)
	}
	return ev, nil
}

func (uc *UseCase) createLocked(ctx context.Context, taskID, performerID string, raw, compressed []byte) (domain.Task, domain.Evidence, error) {
	task, err := uc.tasks.Get(taskID)
	if err != nil {
		return domain.Task{}, domain.Evidence{}, err
	}
	if task.AssigneeID != "" && task.AssigneeID != performerID {
		return domain.Task{}, domain.Evidence{}, domain.ErrNotAssignee
	}
	if (task.EvidenceStatus != nil && *task.EvidenceStatus == domain.EvidenceApproved) || uc.hasApproved(taskID) {
		return domain.Task{}, domain.Evidence{}, domain.ErrAlreadyResolved
	}

	now := uc.now().UTC()
	ev := domain.Evidence{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		PerformerID: performerID,
		Payload:     compressed,
		PayloadSize: len(raw),
		Status:      domain.EvidencePending,
		SubmittedAt: now,
	}

	for _, stale := range uc.pending(taskID) {
		_, err := uc.replica.Write(stale.ID, func(cur domain.Evidence, exists bool) (domain.Evidence, error) {
			if !exists || !cur.IsPending() {
				return cur, domain.ErrAlreadyResolved
			}
			next := cur.Clone()
			next.Status = domain.EvidenceRejected
			next.SupersededBy = ev.ID
			next.ResolvedAt = &now
			return next, nil
		})
		if err != nil && !domain.IsDomainError(err, domain.ErrCodeAlreadyResolved) {
			return domain.Task{}, domain.Evidence{}, err
		}
		uc.logger.Info("pending evidence superseded",
			zap.String("task_id", taskID),
			zap.String("evidence_id", stale.ID),
			zap.String("superseded_by", ev.ID))
	}

	created, err := uc.replica.Write(ev.ID, func(domain.Evidence, bool) (domain.Evidence, error) {
		return ev, nil
	})
	if err != nil {
		return domain.Task{}, domain.Evidence{}, err
	}
	if _, err := uc.tasks.ApplyEvidence(ctx, taskID, domain.EvidencePending, ""); err != nil {
		return domain.Task{}, domain.Evidence{}, err
	}
	return task, created.Clone(), nil
}

// Adjudicate resolves a pending submission. Argument errors are reported
// before any lookup and leave every record untouched.
func (uc *UseCase) Adjudicate(ctx context.Context, evidenceID, adjudicatorID string, outcome domain.Outcome, feedback string) (domain.Evidence, error) {
	ev, err := uc.adjudicate(ctx, evidenceID, adjudicatorID, outcome, feedback)
	return ev, domain.WithOp(domain.OpAdjudicate, err)
}

func (uc *UseCase) adjudicate(ctx context.Context, evidenceID, adjudicatorID string, outcome domain.Outcome, feedback string) (domain.Evidence, error) {
	var status domain.EvidenceStatus
	switch outcome {
	case domain.OutcomeApprove:
		status = domain.EvidenceApproved
	case domain.OutcomeReject:
		status = domain.EvidenceRejected
		if strings.TrimSpace(feedback) == "" {
			return domain.Evidence{}, domain.ErrFeedbackRequired
		}
	default:
		return domain.Evidence{}, domain.ErrUnknownOutcome
	}
	if strings.TrimSpace(adjudicatorID) == "" {
		return domain.Evidence{}, domain.NewError(domain.ErrCodeInvalidArgument, "adjudicator is required")
	}

	current, ok := uc.replica.Get(evidenceID)
	if !ok {
		return domain.Evidence{}, domain.ErrEvidenceNotFound
	}

	unlock := uc.locks.Lock(current.TaskID)
	resolved, task, err := uc.resolveLocked(ctx, evidenceID, adjudicatorID, status, feedback)
	unlock()
	if err != nil {
		return domain.Evidence{}, err
	}

	switch status {
	case domain.EvidenceApproved:
		uc.notify(ctx, resolved.PerformerID, domain.CategoryEvidenceApproved,
			"Evidence approved", approvedBody(task, feedback), task.ID)
	case domain.EvidenceRejected:
		uc.notify(ctx, resolved.PerformerID, domain.CategoryEvidenceRejected,
			"Evidence rejected", feedback, task.ID)
	}
	return resolved, nil
}

func (uc *UseCase) resolveLocked(ctx context.Context, evidenceID, adjudicatorID string, status domain.EvidenceStatus, feedback string) (domain.Evidence, domain.Task, error) {
	ev, ok := uc.replica.Get(evidenceID)
	if !ok {
		return domain.Evidence{}, domain.Task{}, domain.ErrEvidenceNotFound
	}
	if !ev.IsPending() {
		return domain.Evidence{}, domain.Task{}, domain.ErrAlreadyResolved
	}
	task, err := uc.tasks.Get(ev.TaskID)
	if err != nil {
		return domain.Evidence{}, domain.Task{}, err
	}
	if task.OwnerID != "" && task.OwnerID != adjudicatorID {
		return domain.Evidence{}, domain.Task{}, domain.ErrNotOwner
	}

	// Evidence is committed last: it stays pending until the task update and
	// the settlement have both gone through.
	check := ev.Clone()
	if err := check.Resolve(status, adjudicatorID, feedback, uc.now().UTC()); err != nil {
		return domain.Evidence{}, domain.Task{}, err
	}
	if _, err := uc.tasks.ApplyEvidence(ctx, task.ID, status, feedback); err != nil {
		return domain.Evidence{}, domain.Task{}, err
	}
	if status == domain.EvidenceApproved {
		if _, _, err := uc.settler.Settle(ctx, ev.PerformerID, task.ID, task.Points); err != nil {
			uc.logger.Error("settlement after approval failed",
				zap.String("task_id", task.ID),
				zap.String("performer_id", ev.PerformerID),
				zap.Error(err))
			return domain.Evidence{}, domain.Task{}, err
		}
	}

	resolved, err := uc.replica.Write(evidenceID, func(cur domain.Evidence, exists bool) (domain.Evidence, error) {
		if !exists {
			return cur, domain.ErrEvidenceNotFound
		}
		next := cur.Clone()
		if err := next.Resolve(status, adjudicatorID, feedback, uc.now().UTC()); err != nil {
			return cur, err
		}
		return next, nil
	})
	if err != nil {
		return domain.Evidence{}, domain.Task{}, err
	}
	return resolved.Clone(), task, nil
}

// Get returns one submission.
func (uc *UseCase) Get(id string) (domain.Evidence, error) {
	ev, ok := uc.replica.Get(id)
	if !ok {
		return domain.Evidence{}, domain.ErrEvidenceNotFound
	}
	return ev.Clone(), nil
}

// ListByTask returns the submissions of taskID, newest first.
func (uc *UseCase) ListByTask(taskID string) []domain.Evidence {
	out := uc.replica.Cache().List(func(ev domain.Evidence) bool {
		return ev.TaskID == taskID
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Payload returns the decompressed payload of a submission.
func (uc *UseCase) Payload(id string) ([]byte, error) {
	ev, ok := uc.replica.Get(id)
	if !ok {
		return nil, domain.ErrEvidenceNotFound
	}
	raw, err := uc.decoder.DecodeAll(ev.Payload, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeDecode, "evidence payload is corrupt", err)
	}
	return raw, nil
}

// Reconcile replaces local submissions from a remote snapshot.
func (uc *UseCase) Reconcile(snap repository.Snapshot) error {
	return uc.replica.Reconcile(snap)
}

// Restore reloads parked submissions after a restart.
func (uc *UseCase) Restore() error {
	return uc.replica.Restore()
}

// Unsynced lists submissions waiting for the next sync.
func (uc *UseCase) Unsynced() []string {
	return uc.replica.Unsynced()
}

// Close releases the codec resources.
func (uc *UseCase) Close() {
	_ = uc.encoder.Close()
	uc.decoder.Close()
}

func (uc *UseCase) pending(taskID string) []domain.Evidence {
	return uc.replica.Cache().List(func(ev domain.Evidence) bool {
		return ev.TaskID == taskID && ev.IsPending()
	})
}

func (uc *UseCase) hasApproved(taskID string) bool {
	return len(uc.replica.Cache().List(func(ev domain.Evidence) bool {
		return ev.TaskID == taskID && ev.Status == domain.EvidenceApproved
	})) > 0
}

func (uc *UseCase) notify(ctx context.Context, recipient string, category domain.NotificationCategory, title, body, taskID string) {
	if uc.notifier == nil || recipient == "" {
		return
	}
	if _, _, err := uc.notifier.Emit(ctx, recipient, category, title, body, taskID); err != nil {
		uc.logger.Warn("notification failed",
			zap.String("recipient_id", recipient),
			zap.String("category", string(category)),
			zap.Error(err))
	}
}

func approvedBody(task domain.Task, feedback string) string {
	body := fmt.Sprintf("You earned %d points for %q", task.Points, task.Title)
	if feedback != "" {
		body += ": " + feedback
	}
	return body
}
