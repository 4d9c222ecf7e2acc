package notification

import (
	"context"
	"errors"
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

// DefaultWindow is the default suppression window for duplicate notifications.
const DefaultWindow = time.Hour

var categories = map[domain.NotificationCategory]bool{
	domain.CategoryTaskAssigned:      true,
	domain.CategoryEvidenceSubmitted: true,
	domain.CategoryEvidenceApproved:  true,
	domain.CategoryEvidenceRejected:  true,
	domain.CategoryPointsDeducted:    true,
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithSuppressor shares suppression across engine instances.
func WithSuppressor(s usecase.Suppressor) Option {
	return func(d *Dispatcher) { d.suppressor = s }
}

// WithMetrics records emissions and suppressions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

type subscriber struct {
	recipient string
	ch        chan []domain.Notification
}

// Dispatcher creates notification events and drops duplicates of the same
// (recipient, category, task) inside the suppression window.
type Dispatcher struct {
	replica    *usecase.Replica[domain.Notification]
	suppressor usecase.Suppressor
	window     time.Duration
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics

	// emitMu makes the window check and the create a single step.
	emitMu sync.Mutex

	subMu sync.Mutex
	subs  map[*subscriber]struct{}
}

func New(remote usecase.RemoteWriter, events *usecase.EventBus, window time.Duration, logger *zap.Logger, opts ...Option) *Dispatcher {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		replica: usecase.NewReplica[domain.Notification](repository.CollectionNotifications, remote, events, logger),
		window:  window,
		now:     time.Now,
		logger:  logger,
		subs:    make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Emit persists a new notification unless an equivalent one was emitted
// inside the window, in which case it is a silent no-op returning created=false.
func (d *Dispatcher) Emit(ctx context.Context, recipientID string, category domain.NotificationCategory, title, body, taskID string) (domain.Notification, bool, error) {
	if strings.TrimSpace(recipientID) == "" {
		return domain.Notification{}, false, domain.Validation("notification recipient is required")
	}
	if !categories[category] {
		return domain.Notification{}, false, domain.Validation("unknown notification category %q", category)
	}

	d.emitMu.Lock()
	now := d.now()
	key := domain.DedupKey(recipientID, category, taskID)
	if d.seenWithin(key, now) {
		d.emitMu.Unlock()
		d.suppressed(category, key)
		return domain.Notification{}, false, nil
	}

	claimed := false
	if d.suppressor != nil {
		ok, err := d.suppressor.Claim(ctx, key, d.window)
		switch {
		case err != nil:
			d.logger.Warn("shared suppression unavailable, using local window only", zap.Error(err))
		case !ok:
			d.emitMu.Unlock()
			d.suppressed(category, key)
			return domain.Notification{}, false, nil
		default:
			claimed = true
		}
	}

	n := domain.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Category:    category,
		Title:       title,
		Body:        body,
		TaskID:      taskID,
		CreatedAt:   now.UTC(),
	}
	created, err := d.replica.Write(n.ID, func(domain.Notification, bool) (domain.Notification, error) {
		return n, nil
	})
	d.emitMu.Unlock()
	if err != nil {
		if claimed {
			if relErr := d.suppressor.Release(ctx, key); relErr != nil {
				d.logger.Warn("failed to release suppression key", zap.String("key", key), zap.Error(relErr))
			}
		}
		return domain.Notification{}, false, err
	}

	d.metrics.IncNotification(string(category), "emitted")
	d.logger.Debug("notification emitted",
		zap.String("recipient_id", recipientID),
		zap.String("category", string(category)),
		zap.String("task_id", taskID))
	d.broadcast(recipientID)
	return created, true, nil
}

// MarkRead flips the read flag of one event. Marking a read event again is a no-op.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) error {
	n, ok := d.replica.Get(id)
	if !ok {
		return domain.ErrNotificationNotFound
	}
	if n.Read {
		return nil
	}
	_, err := d.replica.Write(id, func(cur domain.Notification, exists bool) (domain.Notification, error) {
		if !exists {
			return cur, domain.ErrNotificationNotFound
		}
		cur.Read = true
		return cur, nil
	})
	if err != nil {
		return err
	}
	d.broadcast(n.RecipientID)
	return nil
}

// MarkAllRead flips every unread event of recipientID and returns how many changed.
func (d *Dispatcher) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	unread := d.replica.Cache().List(func(n domain.Notification) bool {
		return n.RecipientID == recipientID && !n.Read
	})
	changed := 0
	for _, n := range unread {
		_, err := d.replica.Write(n.ID, func(cur domain.Notification, exists bool) (domain.Notification, error) {
			if !exists || cur.Read {
				return cur, errSkip
			}
			cur.Read = true
			return cur, nil
		})
		switch {
		case errors.Is(err, errSkip):
		case err != nil:
			return changed, err
		default:
			changed++
		}
	}
	if changed > 0 {
		d.broadcast(recipientID)
	}
	return changed, nil
}

// Delete removes an event on explicit user action.
func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	n, ok := d.replica.Get(id)
	if !ok {
		return domain.ErrNotificationNotFound
	}
	found, err := d.replica.Delete(id, nil)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotificationNotFound
	}
	d.broadcast(n.RecipientID)
	return nil
}

// Get returns one event.
func (d *Dispatcher) Get(id string) (domain.Notification, error) {
	n, ok := d.replica.Get(id)
	if !ok {
		return domain.Notification{}, domain.ErrNotificationNotFound
	}
	return n, nil
}

// List returns the events of recipientID, newest first.
func (d *Dispatcher) List(recipientID string) []domain.Notification {
	out := d.replica.Cache().List(func(n domain.Notification) bool {
		return n.RecipientID == recipientID
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Unread counts unread events of recipientID.
func (d *Dispatcher) Unread(recipientID string) int {
	return len(d.replica.Cache().List(func(n domain.Notification) bool {
		return n.RecipientID == recipientID && !n.Read
	}))
}

// Subscribe delivers the recipient's events, newest first, now and after
// every change. A slow consumer only ever sees the latest list.
func (d *Dispatcher) Subscribe(ctx context.Context, recipientID string) <-chan []domain.Notification {
	sub := &subscriber{recipient: recipientID, ch: make(chan []domain.Notification, 1)}
	sub.ch <- d.List(recipientID)

	d.subMu.Lock()
	d.subs[sub] = struct{}{}
	d.subMu.Unlock()

	go func() {
		<-ctx.Done()
		d.subMu.Lock()
		delete(d.subs, sub)
		close(sub.ch)
		d.subMu.Unlock()
	}()
	return sub.ch
}

// Reconcile replaces local events from a remote snapshot.
func (d *Dispatcher) Reconcile(snap repository.Snapshot) error {
	err := d.replica.Reconcile(snap)
	d.broadcast("")
	return err
}

// Restore reloads parked events after a restart.
func (d *Dispatcher) Restore() error {
	return d.replica.Restore()
}

// Unsynced lists events waiting for the next sync.
func (d *Dispatcher) Unsynced() []string {
	return d.replica.Unsynced()
}

func (d *Dispatcher) seenWithin(key string, now time.Time) bool {
	matches := d.replica.Cache().List(func(n domain.Notification) bool {
		return n.DedupKey() == key
	})
	for _, n := range matches {
		if now.Sub(n.CreatedAt) < d.window {
			return true
		}
	}
	return false
}

func (d *Dispatcher) suppressed(category domain.NotificationCategory, key string) {
	d.metrics.IncNotification(string(category), "suppressed")
	d.logger.Debug("duplicate notification suppressed", zap.String("key", key))
}

// broadcast pushes fresh lists to subscribers of recipientID, or to all
// subscribers when recipientID is empty.
func (d *Dispatcher) broadcast(recipientID string) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for sub := range d.subs {
		if recipientID != "" && sub.recipient != recipientID {
			continue
		}
		list := d.List(sub.recipient)
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- list
	}
}

var errSkip = errors.New("already read")
