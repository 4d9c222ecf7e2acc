package task

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/usecase"
)

// Filter narrows Query results. Zero fields match everything.
type Filter struct {
	AssigneeID string
	OwnerID    string
	Completed  *bool
	DueAfter   time.Time
	DueBefore  time.Time
}

func (f Filter) match(t domain.Task) bool {
	if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
		return false
	}
	if f.OwnerID != "" && t.OwnerID != f.OwnerID {
		return false
	}
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if !f.DueAfter.IsZero() && t.DueAt.Before(f.DueAfter) {
		return false
	}
	if !f.DueBefore.IsZero() && !t.DueAt.Before(f.DueBefore) {
		return false
	}
	return true
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

// UseCase is the local-first task repository: writes land in the local cache
// and reach the record store in the background.
type UseCase struct {
	replica  *usecase.Replica[domain.Task]
	remote   usecase.RemoteWriter
	events   *usecase.EventBus
	notifier usecase.Notifier
	now      func() time.Time
	logger   *zap.Logger
}

func New(remote usecase.RemoteWriter, events *usecase.EventBus, notifier usecase.Notifier, logger *zap.Logger, opts ...Option) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = usecase.NewEventBus(0, logger)
	}
	uc := &UseCase{
		replica:  usecase.NewReplica[domain.Task](repository.CollectionTasks, remote, events, logger),
		remote:   remote,
		events:   events,
		notifier: notifier,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Upsert validates and stores task, returning the optimistic value. Evidence
// status and feedback are owned by the evidence pipeline and survive edits.
func (uc *UseCase) Upsert(ctx context.Context, task domain.Task) (domain.Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := uc.now().UTC()

	var previousAssignee string
	stored, err := uc.replica.Write(task.ID, func(cur domain.Task, exists bool) (domain.Task, error) {
		next := task.Clone()
		next.CreatedAt = time.Time{}
		if exists {
			previousAssignee = cur.AssigneeID
			next.CreatedAt = cur.CreatedAt
			next.EvidenceStatus = cur.Clone().EvidenceStatus
			next.Feedback = cur.Feedback
		} else {
			next.EvidenceStatus = nil
			next.Feedback = ""
		}
		next.Touch(now)
		if err := next.Validate(); err != nil {
			return cur, err
		}
		return next, nil
	})
	if err != nil {
		return domain.Task{}, domain.WithOp(domain.OpUpsert, err)
	}

	if stored.AssigneeID != "" && stored.AssigneeID != previousAssignee {
		uc.notify(ctx, stored.AssigneeID, domain.CategoryTaskAssigned, "New task assigned", stored.Title, stored.ID)
	}
	return stored.Clone(), nil
}

// SetCompleted toggles completion. Tasks requiring evidence complete only
// through an approved submission.
func (uc *UseCase) SetCompleted(ctx context.Context, id string, completed bool) (domain.Task, error) {
	stored, err := uc.replica.Write(id, func(cur domain.Task, exists bool) (domain.Task, error) {
		if !exists {
			return cur, domain.ErrTaskNotFound
		}
		next := cur.Clone()
		next.Completed = completed
		next.Touch(uc.now().UTC())
		if err := next.Validate(); err != nil {
			return cur, err
		}
		return next, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return stored.Clone(), nil
}

// ApplyEvidence records an evidence transition on the task.
func (uc *UseCase) ApplyEvidence(ctx context.Context, id string, status domain.EvidenceStatus, feedback string) (domain.Task, error) {
	stored, err := uc.replica.Write(id, func(cur domain.Task, exists bool) (domain.Task, error) {
		if !exists {
			return cur, domain.ErrTaskNotFound
		}
		next := cur.Clone()
		next.EvidenceStatus = status.Ptr()
		next.Feedback = feedback
		next.Completed = status == domain.EvidenceApproved
		next.Touch(uc.now().UTC())
		return next, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return stored.Clone(), nil
}

// Delete removes the task. Its evidence and ledger history are kept for audit.
func (uc *UseCase) Delete(ctx context.Context, id string) error {
	found, err := uc.replica.Delete(id, nil)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrTaskNotFound
	}
	return nil
}

// Get returns the cached task.
func (uc *UseCase) Get(id string) (domain.Task, error) {
	t, ok := uc.replica.Get(id)
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Query filters the local cache without I/O, ordered by due date.
func (uc *UseCase) Query(filter Filter) []domain.Task {
	out := uc.replica.Cache().List(filter.match)
	for i := range out {
		out[i] = out[i].Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reconcile replaces the cache from a remote snapshot, sparing records with
// local writes that have not completed.
func (uc *UseCase) Reconcile(snap repository.Snapshot) error {
	return uc.replica.Reconcile(snap)
}

// Restore reloads parked tasks after a restart.
func (uc *UseCase) Restore() error {
	return uc.replica.Restore()
}

// Sync replays parked writes now instead of waiting for the schedule.
func (uc *UseCase) Sync(ctx context.Context) (usecase.SyncSummary, error) {
	if uc.remote == nil {
		return usecase.SyncSummary{}, nil
	}
	return uc.remote.Sync(ctx)
}

// Events reports remote writes that failed after the retry ceiling.
func (uc *UseCase) Events() <-chan usecase.SyncEvent {
	return uc.events.Events()
}

// Unsynced lists tasks whose last write is waiting for the next sync.
func (uc *UseCase) Unsynced() []string {
	return uc.replica.Unsynced()
}

// IsUnsynced reports whether id is waiting for the next sync.
func (uc *UseCase) IsUnsynced(id string) bool {
	for _, u := range uc.replica.Unsynced() {
		if u == id {
			return true
		}
	}
	return false
}

func (uc *UseCase) notify(ctx context.Context, recipient string, category domain.NotificationCategory, title, body, taskID string) {
	if uc.notifier == nil || strings.TrimSpace(recipient) == "" {
		return
	}
	if _, _, err := uc.notifier.Emit(ctx, recipient, category, title, body, taskID); err != nil {
		uc.logger.Warn("notification failed",
			zap.String("recipient_id", recipient),
			zap.String("category", string(category)),
			zap.Error(err))
	}
}
