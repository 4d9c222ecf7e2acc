// Package testutil wires the asynchronous write path over an in-memory
// record store for use case tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fastygo/taskledger/internal/infrastructure/buffer"
	"github.com/fastygo/taskledger/internal/retry"
	"github.com/fastygo/taskledger/internal/services"
	"github.com/fastygo/taskledger/repository/memory"
	"github.com/fastygo/taskledger/usecase"
)

// Remote is an in-memory record store behind the real writer and sync buffer.
type Remote struct {
	Store     *memory.Store
	Buffer    *buffer.Store
	Writer    *services.Writer
	Processor *services.SyncProcessor
	Bridge    *services.RemoteBridge
	Events    *usecase.EventBus
}

// Online always reports the store reachable.
type Online struct{}

func (Online) IsOnline() bool { return true }

// NewRemote builds a Remote whose retries use maxAttempts and a 1ms delay.
func NewRemote(t *testing.T, maxAttempts int) *Remote {
	t.Helper()

	store := memory.New()
	buf, err := buffer.Open(filepath.Join(t.TempDir(), "sync.db"), "")
	require.NoError(t, err)

	rc := retry.New(retry.Config{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond}, nil, nil)
	writer := services.NewWriter(store, rc, buf, nil, nil)
	processor := services.NewSyncProcessor(buf, writer, Online{}, nil, nil, services.ProcessorConfig{})

	r := &Remote{
		Store:     store,
		Buffer:    buf,
		Writer:    writer,
		Processor: processor,
		Bridge:    services.NewRemoteBridge(writer, processor),
		Events:    usecase.NewEventBus(64, nil),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = writer.Close(ctx)
		_ = buf.Close()
	})
	return r
}

// Settle waits for every scheduled remote write.
func (r *Remote) Settle() {
	r.Writer.Wait()
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
