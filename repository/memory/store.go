package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
)

// FaultFunc decides whether an operation on collection/id should fail.
type FaultFunc func(op, collection, id string) error

type subscriber struct {
	collection string
	query      repository.Query
	ch         chan repository.Snapshot
}

// Store is an in-process RecordStore. It favors clarity over performance and
// doubles as the fake remote in tests through SetFault.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]repository.Fields
	subscribers map[*subscriber]struct{}
	fault       FaultFunc
	writes      map[string]int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]repository.Fields),
		subscribers: make(map[*subscriber]struct{}),
		writes:      make(map[string]int),
	}
}

// SetFault installs (or clears, with nil) a fault injector.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Offline makes every operation fail with a transient error until cleared.
func Offline(op, collection, id string) error {
	return domain.ErrStoreUnavailable
}

// Writes reports how many Put/Delete attempts reached collection/id, failed or not.
func (s *Store) Writes(collection, id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[collection+"/"+id]
}

func (s *Store) Put(_ context.Context, collection, id string, fields repository.Fields) error {
	s.mu.Lock()
	s.writes[collection+"/"+id]++
	if err := s.injected("put", collection, id); err != nil {
		s.mu.Unlock()
		return err
	}
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]repository.Fields)
		s.collections[collection] = docs
	}
	docs[id] = repository.CloneFields(fields)
	s.mu.Unlock()

	s.broadcast(collection)
	return nil
}

func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	s.writes[collection+"/"+id]++
	if err := s.injected("delete", collection, id); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.broadcast(collection)
	return nil
}

func (s *Store) Get(_ context.Context, collection string, query repository.Query) ([]repository.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.injected("get", collection, ""); err != nil {
		return nil, err
	}
	return query.Apply(s.snapshotLocked(collection)), nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, query repository.Query) (<-chan repository.Snapshot, error) {
	sub := &subscriber{
		collection: collection,
		query:      query,
		ch:         make(chan repository.Snapshot, 1),
	}

	s.mu.Lock()
	if err := s.injected("subscribe", collection, ""); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.subscribers[sub] = struct{}{}
	initial := s.buildSnapshot(sub)
	s.mu.Unlock()

	sub.ch <- initial

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, sub)
		close(sub.ch)
		s.mu.Unlock()
	}()

	return sub.ch, nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.injected("ping", "", "")
}

// broadcast pushes the latest snapshot to subscribers of collection. A slow
// subscriber only ever holds the newest snapshot.
func (s *Store) broadcast(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		if sub.collection != collection {
			continue
		}
		snap := s.buildSnapshot(sub)
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- snap
	}
}

func (s *Store) buildSnapshot(sub *subscriber) repository.Snapshot {
	return repository.Snapshot{
		Collection: sub.collection,
		Records:    sub.query.Apply(s.snapshotLocked(sub.collection)),
		At:         time.Now(),
	}
}

func (s *Store) snapshotLocked(collection string) []repository.Record {
	docs := s.collections[collection]
	records := make([]repository.Record, 0, len(docs))
	for id, fields := range docs {
		records = append(records, repository.Record{ID: id, Fields: repository.CloneFields(fields)})
	}
	return records
}

func (s *Store) injected(op, collection, id string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op, collection, id)
}

var _ repository.RecordStore = (*Store)(nil)
