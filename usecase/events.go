package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SyncEvent reports a remote write that did not reach the store. Err is a
// *domain.SyncFailedError when the mutation was parked for the next sync.
type SyncEvent struct {
	Collection string
	ID         string
	Attempts   int
	Parked     bool
	Err        error
	At         time.Time
}

// EventBus fans sync events out to one consumer. When the consumer falls
// behind, the oldest events are discarded first.
type EventBus struct {
	mu     sync.Mutex
	ch     chan SyncEvent
	logger *zap.Logger
}

func NewEventBus(size int, logger *zap.Logger) *EventBus {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{ch: make(chan SyncEvent, size), logger: logger}
}

// Publish never blocks.
func (b *EventBus) Publish(ev SyncEvent) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case b.ch <- ev:
		return
	default:
	}
	select {
	case old := <-b.ch:
		b.logger.Warn("sync event dropped", zap.String("collection", old.Collection), zap.String("id", old.ID))
	default:
	}
	select {
	case b.ch <- ev:
	default:
	}
}

// Events returns the receive side of the bus.
func (b *EventBus) Events() <-chan SyncEvent {
	return b.ch
}
