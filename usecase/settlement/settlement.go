package settlement

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/metrics"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/usecase"
)

// Option customizes a UseCase.
type Option func(*UseCase)

func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		if now != nil {
			uc.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(uc *UseCase) { uc.metrics = m }
}

// UseCase owns the append-only point ledger. Balances are maintained
// incrementally and always equal the sum of the actor's entries.
type UseCase struct {
	replica  *usecase.Replica[domain.LedgerEntry]
	notifier usecase.Notifier
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	balances map[string]int
	settled  map[string]string
	counted  map[string]bool
}

func New(remote usecase.RemoteWriter, events *usecase.EventBus, notifier usecase.Notifier, logger *zap.Logger, opts ...Option) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	uc := &UseCase{
		replica:  usecase.NewReplica[domain.LedgerEntry](repository.CollectionLedgerEntries, remote, events, logger),
		notifier: notifier,
		now:      time.Now,
		logger:   logger,
		balances: make(map[string]int),
		settled:  make(map[string]string),
		counted:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Settle pays amount to performerID for taskID. A second settlement of the
// same (performer, task) pair returns the original entry with created=false.
func (uc *UseCase) Settle(ctx context.Context, performerID, taskID string, amount int) (domain.LedgerEntry, bool, error) {
	if strings.TrimSpace(performerID) == "" || strings.TrimSpace(taskID) == "" {
		return domain.LedgerEntry{}, false, domain.WithOp(domain.OpSettle, domain.Validation("settlement requires performer and task"))
	}
	if amount < domain.MinTaskPoints || amount > domain.MaxTaskPoints {
		return domain.LedgerEntry{}, false, domain.WithOp(domain.OpSettle,
			domain.Validation("settlement amount must be between %d and %d, got %d", domain.MinTaskPoints, domain.MaxTaskPoints, amount))
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	key := settlementKey(performerID, taskID)
	if id, ok := uc.settled[key]; ok {
		uc.metrics.IncSettlement("duplicate")
		existing, _ := uc.replica.Get(id)
		return existing, false, nil
	}

	entry := domain.LedgerEntry{
		ID:        domain.SettlementID(performerID, taskID),
		ActorID:   performerID,
		Delta:     amount,
		Reason:    domain.ReasonTaskSettlement,
		TaskID:    taskID,
		CreatedAt: uc.now().UTC(),
	}
	duplicate := false
	stored, err := uc.replica.Write(entry.ID, func(cur domain.LedgerEntry, exists bool) (domain.LedgerEntry, error) {
		if exists {
			duplicate = true
			return cur, errDuplicate
		}
		return entry, nil
	})
	if duplicate {
		uc.metrics.IncSettlement("duplicate")
		existing, _ := uc.replica.Get(entry.ID)
		uc.account(existing)
		return existing, false, nil
	}
	if err != nil {
		return domain.LedgerEntry{}, false, domain.WithOp(domain.OpSettle, err)
	}

	uc.account(stored)
	uc.metrics.IncSettlement("created")
	uc.logger.Info("task settled",
		zap.String("actor_id", performerID),
		zap.String("task_id", taskID),
		zap.Int("delta", amount))
	return stored, true, nil
}

// Deduct removes amount from actorID's balance. The balance never goes below zero.
func (uc *UseCase) Deduct(ctx context.Context, actorID string, amount int, note string) (domain.LedgerEntry, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.LedgerEntry{}, domain.WithOp(domain.OpDeduct, domain.Validation("deduction requires an actor"))
	}
	if amount <= 0 {
		return domain.LedgerEntry{}, domain.WithOp(domain.OpDeduct, domain.Validation("deduction amount must be positive, got %d", amount))
	}

	uc.mu.Lock()
	if uc.balances[actorID] < amount {
		balance := uc.balances[actorID]
		uc.mu.Unlock()
		return domain.LedgerEntry{}, domain.WithOp(domain.OpDeduct,
			domain.WrapError(domain.ErrCodeInsufficientBalance, domain.ErrInsufficientBalance.Message,
				fmt.Errorf("balance %d, requested %d", balance, amount)))
	}
	entry := domain.LedgerEntry{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Delta:     -amount,
		Reason:    domain.ReasonManualDeduction,
		Note:      note,
		CreatedAt: uc.now().UTC(),
	}
	stored, err := uc.replica.Write(entry.ID, func(domain.LedgerEntry, bool) (domain.LedgerEntry, error) {
		return entry, nil
	})
	if err != nil {
		uc.mu.Unlock()
		return domain.LedgerEntry{}, domain.WithOp(domain.OpDeduct, err)
	}
	uc.account(stored)
	uc.mu.Unlock()

	if uc.notifier != nil {
		body := fmt.Sprintf("%d points were deducted", amount)
		if note != "" {
			body += ": " + note
		}
		if _, _, err := uc.notifier.Emit(ctx, actorID, domain.CategoryPointsDeducted, "Points deducted", body, ""); err != nil {
			uc.logger.Warn("deduction notification failed", zap.String("actor_id", actorID), zap.Error(err))
		}
	}
	return stored, nil
}

// BalanceOf returns the running balance of actorID.
func (uc *UseCase) BalanceOf(actorID string) int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.balances[actorID]
}

// Entries returns the ledger of actorID, oldest first.
func (uc *UseCase) Entries(actorID string) []domain.LedgerEntry {
	out := uc.replica.Cache().List(func(e domain.LedgerEntry) bool {
		return e.ActorID == actorID
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Settled reports whether performerID was already paid for taskID.
func (uc *UseCase) Settled(performerID, taskID string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	_, ok := uc.settled[settlementKey(performerID, taskID)]
	return ok
}

// Reconcile merges remote entries unknown locally. Entries are immutable, so
// known ones are never replaced and none are removed.
func (uc *UseCase) Reconcile(snap repository.Snapshot) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	added, err := uc.replica.Merge(snap)
	for _, e := range added {
		uc.account(e)
	}
	return err
}

// Restore reloads parked entries after a restart and counts them.
func (uc *UseCase) Restore() error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if err := uc.replica.Restore(); err != nil {
		return err
	}
	for _, e := range uc.replica.Cache().List(nil) {
		uc.account(e)
	}
	return nil
}

// Unsynced lists entries waiting for the next sync.
func (uc *UseCase) Unsynced() []string {
	return uc.replica.Unsynced()
}

// account applies e to the balance index once. Callers hold uc.mu.
func (uc *UseCase) account(e domain.LedgerEntry) {
	if e.ID == "" || uc.counted[e.ID] {
		return
	}
	uc.counted[e.ID] = true
	uc.balances[e.ActorID] += e.Delta
	if e.Reason == domain.ReasonTaskSettlement && e.TaskID != "" {
		uc.settled[settlementKey(e.ActorID, e.TaskID)] = e.ID
	}
}

func settlementKey(actorID, taskID string) string {
	return actorID + "|" + taskID
}

var errDuplicate = domain.NewError(domain.ErrCodeConflict, "settlement already recorded")
