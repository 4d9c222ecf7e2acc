package services

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/infrastructure/buffer"
	"github.com/fastygo/taskledger/internal/metrics"
	"github.com/fastygo/taskledger/internal/retry"
	"github.com/fastygo/taskledger/repository"
)

// ErrWriterClosed is returned for mutations submitted after Close.
var ErrWriterClosed = errors.New("writer closed")

// Mutation is a single remote write of one record.
type Mutation struct {
	Collection string
	ID         string
	Operation  string
	Fields     repository.Fields

	parked *buffer.Item
}

// WriteResult reports how a mutation ended.
type WriteResult struct {
	Collection string
	ID         string
	Operation  string
	Attempts   int
	Superseded bool
	Replayed   bool
	Parked     bool
	Err        error
}

// Observer receives every WriteResult of one collection.
type Observer func(WriteResult)

type slot struct {
	mu      sync.Mutex
	seq     uint64
	pending int
	cancel  context.CancelFunc
}

// Writer persists mutations asynchronously. Writes of one record run in
// submission order; a newer mutation cancels the retry sequence of an older
// one. Mutations that exhaust their retries are parked in the sync buffer.
type Writer struct {
	store   repository.RecordStore
	retry   *retry.Controller
	parking *buffer.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	slots     map[string]*slot
	observers map[string][]Observer
}

// NewWriter creates a Writer. parking may be nil, in which case exhausted
// mutations are reported but not kept across restarts.
func NewWriter(store repository.RecordStore, rc *retry.Controller, parking *buffer.Store, logger *zap.Logger, m *metrics.Metrics) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Writer{
		store:     store,
		retry:     rc,
		parking:   parking,
		logger:    logger,
		metrics:   m,
		base:      base,
		cancel:    cancel,
		slots:     make(map[string]*slot),
		observers: make(map[string][]Observer),
	}
}

// Observe registers fn for results of collection.
func (w *Writer) Observe(collection string, fn Observer) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers[collection] = append(w.observers[collection], fn)
}

// Submit schedules m and returns immediately.
func (w *Writer) Submit(m Mutation) error {
	if m.Collection == "" || m.ID == "" {
		return domain.ErrInvalidPayload
	}
	if m.Operation == "" {
		m.Operation = buffer.OperationPut
	}
	ctx, s, seq, err := w.begin(m)
	if err != nil {
		return err
	}
	go func() {
		defer w.wg.Done()
		w.execute(ctx, s, seq, m)
	}()
	return nil
}

// Replay runs a parked mutation synchronously. When a newer write of the same
// record is in flight the parked copy is obsolete and is discarded.
func (w *Writer) Replay(ctx context.Context, item buffer.Item) WriteResult {
	m := Mutation{
		Collection: item.Collection,
		ID:         item.RecordID,
		Operation:  item.Operation,
		Fields:     item.Fields,
		parked:     &item,
	}
	if w.Pending(item.Collection, item.RecordID) {
		if w.parking != nil {
			if err := w.parking.RemoveIfUnchanged(item); err != nil {
				w.logger.Warn("failed to discard superseded parked mutation", zap.String("key", item.Key()), zap.Error(err))
			}
		}
		res := WriteResult{Collection: m.Collection, ID: m.ID, Operation: m.Operation, Superseded: true, Replayed: true}
		w.notify(res)
		return res
	}

	runCtx, s, seq, err := w.begin(m)
	if err != nil {
		return WriteResult{Collection: m.Collection, ID: m.ID, Operation: m.Operation, Replayed: true, Err: err}
	}
	defer w.wg.Done()

	stop := context.AfterFunc(ctx, func() { w.cancelSlot(m, seq) })
	defer stop()
	return w.execute(runCtx, s, seq, m)
}

// Pending reports whether a write of collection/id is in flight.
func (w *Writer) Pending(collection, id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.slots[buffer.Key(collection, id)]
	return ok && s.pending > 0
}

// Wait blocks until every submitted mutation has finished.
func (w *Writer) Wait() {
	w.wg.Wait()
}

// Close cancels in-flight retry sequences and waits for them to park.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) begin(m Mutation) (context.Context, *slot, uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, nil, 0, ErrWriterClosed
	}
	key := buffer.Key(m.Collection, m.ID)
	s, ok := w.slots[key]
	if !ok {
		s = &slot{}
		w.slots[key] = s
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	s.pending++
	ctx, cancel := context.WithCancel(w.base)
	s.cancel = cancel
	w.wg.Add(1)
	return ctx, s, s.seq, nil
}

func (w *Writer) cancelSlot(m Mutation, seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.slots[buffer.Key(m.Collection, m.ID)]; ok && s.seq == seq && s.cancel != nil {
		s.cancel()
	}
}

func (w *Writer) execute(ctx context.Context, s *slot, seq uint64, m Mutation) WriteResult {
	s.mu.Lock()
	res := w.write(ctx, seq, m)
	s.mu.Unlock()

	w.finish(m, seq)
	w.notify(res)
	return res
}

// write runs under the record's slot lock.
func (w *Writer) write(ctx context.Context, seq uint64, m Mutation) WriteResult {
	res := WriteResult{Collection: m.Collection, ID: m.ID, Operation: m.Operation, Replayed: m.parked != nil}

	if !w.latest(m, seq) {
		res.Superseded = true
		w.metrics.IncRemoteWrite(m.Collection, "superseded")
		return res
	}

	attempts, err := w.retry.Do(ctx, m.Collection+"."+m.Operation, func(ctx context.Context) error {
		if m.Operation == buffer.OperationDelete {
			return w.store.Delete(ctx, m.Collection, m.ID)
		}
		return w.store.Put(ctx, m.Collection, m.ID, m.Fields)
	})
	res.Attempts = attempts

	switch {
	case err == nil:
		w.unpark(m)
		if res.Replayed {
			w.metrics.IncRemoteWrite(m.Collection, "replayed")
		} else {
			w.metrics.IncRemoteWrite(m.Collection, "ok")
		}
	case ctx.Err() != nil && !w.latest(m, seq):
		res.Superseded = true
		w.metrics.IncRemoteWrite(m.Collection, "superseded")
	case ctx.Err() != nil || domain.IsDomainError(err, domain.ErrCodeExhaustedRetries):
		res.Parked = w.park(m, err)
		res.Err = &domain.SyncFailedError{Collection: m.Collection, ID: m.ID, Attempts: attempts, Err: err}
		w.metrics.IncRemoteWrite(m.Collection, "failed")
	default:
		// Rejected by the store for a non-transient reason; replaying would fail the same way.
		w.unpark(m)
		res.Err = err
		w.metrics.IncRemoteWrite(m.Collection, "failed")
		w.logger.Error("remote write rejected",
			zap.String("collection", m.Collection),
			zap.String("id", m.ID),
			zap.Error(err))
	}
	return res
}

func (w *Writer) latest(m Mutation, seq uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.slots[buffer.Key(m.Collection, m.ID)]
	return ok && s.seq == seq
}

func (w *Writer) finish(m Mutation, seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := buffer.Key(m.Collection, m.ID)
	s, ok := w.slots[key]
	if !ok {
		return
	}
	s.pending--
	if s.seq == seq && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.pending == 0 {
		delete(w.slots, key)
	}
}

func (w *Writer) park(m Mutation, cause error) bool {
	if w.parking == nil {
		return false
	}
	var err error
	if m.parked != nil {
		err = w.parking.Requeue(*m.parked, cause)
	} else {
		item := buffer.Item{
			Collection: m.Collection,
			RecordID:   m.ID,
			Operation:  m.Operation,
			Fields:     m.Fields,
		}
		if cause != nil {
			item.LastError = cause.Error()
		}
		err = w.parking.Enqueue(item)
	}
	if err != nil {
		w.logger.Error("failed to park mutation",
			zap.String("collection", m.Collection),
			zap.String("id", m.ID),
			zap.Error(err))
		return false
	}
	w.logger.Warn("mutation parked for next sync",
		zap.String("collection", m.Collection),
		zap.String("id", m.ID),
		zap.NamedError("cause", cause))
	return true
}

func (w *Writer) unpark(m Mutation) {
	if w.parking == nil {
		return
	}
	var err error
	if m.parked != nil {
		err = w.parking.RemoveIfUnchanged(*m.parked)
	} else {
		err = w.parking.Remove(m.Collection, m.ID)
	}
	if err != nil {
		w.logger.Warn("failed to clear parked mutation",
			zap.String("collection", m.Collection),
			zap.String("id", m.ID),
			zap.Error(err))
	}
}

func (w *Writer) notify(res WriteResult) {
	w.mu.Lock()
	observers := append([]Observer(nil), w.observers[res.Collection]...)
	w.mu.Unlock()
	for _, fn := range observers {
		fn(res)
	}
}
