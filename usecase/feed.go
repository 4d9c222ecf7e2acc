package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fastygo/taskledger/repository"
)

// SnapshotHandler consumes a remote snapshot of one collection.
type SnapshotHandler func(snap repository.Snapshot) error

// Feed routes change-feed snapshots to the use case owning each collection.
type Feed struct {
	store    repository.RecordStore
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers map[string]SnapshotHandler
}

func NewFeed(store repository.RecordStore, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		store:    store,
		logger:   logger,
		handlers: make(map[string]SnapshotHandler),
	}
}

// Register sets the handler of collection, replacing any previous one.
func (f *Feed) Register(collection string, handler SnapshotHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[collection] = handler
}

// Dispatch hands snap to its collection's handler.
func (f *Feed) Dispatch(snap repository.Snapshot) error {
	f.mu.RLock()
	handler, ok := f.handlers[snap.Collection]
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("snapshot handler %s not registered", snap.Collection)
	}
	return handler(snap)
}

// Load performs one synchronous read of every registered collection.
func (f *Feed) Load(ctx context.Context) error {
	for _, collection := range f.collections() {
		records, err := f.store.Get(ctx, collection, repository.Query{})
		if err != nil {
			return fmt.Errorf("load %s: %w", collection, err)
		}
		f.deliver(repository.Snapshot{Collection: collection, Records: records})
	}
	return nil
}

// Run subscribes to every registered collection and blocks until ctx is done
// or a subscription fails.
func (f *Feed) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for _, collection := range f.collections() {
		snaps, err := f.store.Subscribe(ctx, collection, repository.Query{})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", collection, err)
		}
		collection := collection
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case snap, ok := <-snaps:
					if !ok {
						if ctx.Err() != nil {
							return nil
						}
						return fmt.Errorf("change feed of %s closed", collection)
					}
					f.deliver(snap)
				}
			}
		})
	}
	return g.Wait()
}

func (f *Feed) deliver(snap repository.Snapshot) {
	if err := f.Dispatch(snap); err != nil {
		f.logger.Error("snapshot rejected",
			zap.String("collection", snap.Collection),
			zap.Int("records", len(snap.Records)),
			zap.Error(err))
	}
}

func (f *Feed) collections() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.handlers))
	for _, c := range repository.Collections {
		if _, ok := f.handlers[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
