package usecase

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
)

type entry[T any] struct {
	mu       sync.Mutex
	value    T
	present  bool
	inflight int
	unsynced bool
	dead     bool
}

// RecordCache is a local replica of one collection. Each record has its own
// mutex; the map lock is always taken before a record lock, never after.
type RecordCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[T]
}

func NewRecordCache[T any]() *RecordCache[T] {
	return &RecordCache[T]{entries: make(map[string]*entry[T])}
}

// lock returns the record's entry with its mutex held, creating it when
// create is set. It returns nil for unknown records otherwise.
func (c *RecordCache[T]) lock(id string, create bool) *entry[T] {
	for {
		c.mu.RLock()
		e := c.entries[id]
		c.mu.RUnlock()

		if e == nil {
			if !create {
				return nil
			}
			c.mu.Lock()
			if e = c.entries[id]; e == nil {
				e = &entry[T]{}
				c.entries[id] = e
			}
			c.mu.Unlock()
		}

		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// Get returns the cached record.
func (c *RecordCache[T]) Get(id string) (T, bool) {
	var zero T
	e := c.lock(id, false)
	if e == nil {
		return zero, false
	}
	defer e.mu.Unlock()
	if !e.present {
		return zero, false
	}
	return e.value, true
}

// List returns the records accepted by keep, in ID order.
func (c *RecordCache[T]) List(keep func(T) bool) []T {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	entries := make(map[string]*entry[T], len(c.entries))
	for id, e := range c.entries {
		ids = append(ids, id)
		entries[id] = e
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		e := entries[id]
		e.mu.Lock()
		if e.present && !e.dead && (keep == nil || keep(e.value)) {
			out = append(out, e.value)
		}
		e.mu.Unlock()
	}
	return out
}

// Protected reports whether id has a local write that a remote snapshot must not overwrite.
func (c *RecordCache[T]) Protected(id string) bool {
	e := c.lock(id, false)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()
	return e.inflight > 0 || e.unsynced
}

// Unsynced returns the IDs whose last write is parked for the next sync.
func (c *RecordCache[T]) Unsynced() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, e := range c.entries {
		e.mu.Lock()
		if e.unsynced {
			ids = append(ids, id)
		}
		e.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// Replace swaps in a remote snapshot wholesale. Records with in-flight or
// parked local writes keep their local value, as do records listed in keep.
func (c *RecordCache[T]) Replace(remote map[string]T, keep map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.entries {
		e.mu.Lock()
		switch {
		case e.inflight > 0 || e.unsynced || keep[id]:
		case hasKey(remote, id):
			e.value = remote[id]
			e.present = true
		default:
			e.dead = true
			delete(c.entries, id)
		}
		e.mu.Unlock()
	}
	for id, v := range remote {
		if _, ok := c.entries[id]; !ok {
			c.entries[id] = &entry[T]{value: v, present: true}
		}
	}
}

// Merge adds remote records unknown locally and leaves known ones untouched.
func (c *RecordCache[T]) Merge(remote map[string]T) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added []T
	for id, v := range remote {
		if _, ok := c.entries[id]; ok {
			continue
		}
		c.entries[id] = &entry[T]{value: v, present: true}
		added = append(added, v)
	}
	return added
}

func hasKey[T any](m map[string]T, id string) bool {
	_, ok := m[id]
	return ok
}

// Replica couples a RecordCache with the asynchronous remote write path.
// Local writes are applied first and persisted in the background.
type Replica[T any] struct {
	collection string
	cache      *RecordCache[T]
	remote     RemoteWriter
	events     *EventBus
	logger     *zap.Logger
}

// NewReplica creates a Replica of collection. remote may be nil for a purely local cache.
func NewReplica[T any](collection string, remote RemoteWriter, events *EventBus, logger *zap.Logger) *Replica[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Replica[T]{
		collection: collection,
		cache:      NewRecordCache[T](),
		remote:     remote,
		events:     events,
		logger:     logger.With(zap.String("collection", collection)),
	}
	if remote != nil {
		remote.Observe(collection, r.settle)
	}
	return r
}

// Cache exposes the local replica for queries.
func (r *Replica[T]) Cache() *RecordCache[T] {
	return r.cache
}

// Get returns the cached record.
func (r *Replica[T]) Get(id string) (T, bool) {
	return r.cache.Get(id)
}

// Write applies fn to the record under its lock, stores the result locally and
// schedules the remote write before the lock is released, so remote writes of
// one record are issued in local order. fn must not touch the same record.
func (r *Replica[T]) Write(id string, fn func(cur T, exists bool) (T, error)) (T, error) {
	var zero T
	e := r.cache.lock(id, true)
	defer e.mu.Unlock()

	next, err := fn(e.value, e.present)
	if err != nil {
		return zero, err
	}
	fields, err := repository.Encode(next)
	if err != nil {
		return zero, domain.WrapError(domain.ErrCodeInternal, "encode record", err)
	}
	if r.remote != nil {
		if err := r.remote.Put(r.collection, id, fields); err != nil {
			return zero, err
		}
		e.inflight++
	}
	e.value = next
	e.present = true
	return next, nil
}

// Delete removes the record locally and schedules the remote delete. check
// may veto the deletion. It returns false when the record is unknown.
func (r *Replica[T]) Delete(id string, check func(cur T) error) (bool, error) {
	e := r.cache.lock(id, false)
	if e == nil {
		return false, nil
	}
	defer e.mu.Unlock()
	if !e.present {
		return false, nil
	}
	if check != nil {
		if err := check(e.value); err != nil {
			return true, err
		}
	}
	if r.remote != nil {
		if err := r.remote.Delete(r.collection, id); err != nil {
			return true, err
		}
		e.inflight++
	}
	var zero T
	e.value = zero
	e.present = false
	return true, nil
}

// Reconcile replaces the cache from a remote snapshot. Malformed remote
// records fail closed: they are reported in the returned error and the local
// version is kept.
func (r *Replica[T]) Reconcile(snap repository.Snapshot) error {
	remote, failed, err := repository.DecodeSnapshot[T](snap)
	keep := make(map[string]bool, len(failed))
	for _, id := range failed {
		keep[id] = true
	}
	r.cache.Replace(remote, keep)
	return err
}

// Restore loads parked mutations so they survive a restart and stay
// protected from remote snapshots until they sync.
func (r *Replica[T]) Restore() error {
	if r.remote == nil {
		return nil
	}
	parked, err := r.remote.Parked(r.collection)
	if err != nil {
		return err
	}
	for _, p := range parked {
		var value T
		if !p.Deleted {
			if err := repository.Decode(r.collection, p.ID, p.Fields, &value); err != nil {
				r.logger.Error("parked record does not decode", zap.String("id", p.ID), zap.Error(err))
				continue
			}
		}
		e := r.cache.lock(p.ID, true)
		e.value = value
		e.present = !p.Deleted
		e.unsynced = true
		e.mu.Unlock()
	}
	return nil
}

// Unsynced lists records waiting for the next sync.
func (r *Replica[T]) Unsynced() []string {
	return r.cache.Unsynced()
}

func (r *Replica[T]) settle(out WriteOutcome) {
	e := r.cache.lock(out.ID, false)
	if e != nil {
		if !out.Replayed && e.inflight > 0 {
			e.inflight--
		}
		switch {
		case out.Superseded:
		case out.Err == nil:
			e.unsynced = false
		default:
			e.unsynced = domain.IsDomainError(out.Err, domain.ErrCodeSyncFailed)
		}
		e.mu.Unlock()
	}

	if out.Err == nil {
		return
	}
	r.logger.Warn("remote write failed",
		zap.String("id", out.ID),
		zap.Int("attempts", out.Attempts),
		zap.Bool("parked", out.Parked),
		zap.Error(out.Err))
	r.events.Publish(SyncEvent{
		Collection: out.Collection,
		ID:         out.ID,
		Attempts:   out.Attempts,
		Parked:     out.Parked,
		Err:        out.Err,
	})
}

// Merge adds remote records unknown locally, for append-only collections.
// It returns the records that were added.
func (r *Replica[T]) Merge(snap repository.Snapshot) ([]T, error) {
	remote, _, err := repository.DecodeSnapshot[T](snap)
	return r.cache.Merge(remote), err
}
