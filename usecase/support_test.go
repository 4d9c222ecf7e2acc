package usecase_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/repository/memory"
	"github.com/fastygo/taskledger/usecase"
)

func TestKeyedMutexSerializesOneKey(t *testing.T) {
	locks := usecase.NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		active  int32
		overlap int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("task")
			if atomic.AddInt32(&active, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Zero(t, atomic.LoadInt32(&overlap))
}

func TestKeyedMutexKeysAreIndependent(t *testing.T) {
	locks := usecase.NewKeyedMutex()
	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestEventBusDropsOldest(t *testing.T) {
	bus := usecase.NewEventBus(2, nil)
	for _, id := range []string{"1", "2", "3"} {
		bus.Publish(usecase.SyncEvent{ID: id})
	}
	first := <-bus.Events()
	second := <-bus.Events()
	assert.Equal(t, "2", first.ID)
	assert.Equal(t, "3", second.ID)
	assert.False(t, first.At.IsZero())

	var nilBus *usecase.EventBus
	assert.NotPanics(t, func() { nilBus.Publish(usecase.SyncEvent{}) })
}

func TestFeedLoadAndRun(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, repository.CollectionTasks, "t1", repository.Fields{"id": "t1"}))

	var (
		mu   sync.Mutex
		seen []int
	)
	feed := usecase.NewFeed(store, nil)
	feed.Register(repository.CollectionTasks, func(snap repository.Snapshot) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, len(snap.Records))
		return nil
	})

	require.NoError(t, feed.Load(ctx))
	mu.Lock()
	assert.Equal(t, []int{1}, seen)
	mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- feed.Run(runCtx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Put(ctx, repository.CollectionTasks, "t2", repository.Fields{"id": "t2"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[len(seen)-1] == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestFeedDispatchUnknownCollection(t *testing.T) {
	feed := usecase.NewFeed(memory.New(), nil)
	err := feed.Dispatch(repository.Snapshot{Collection: "unknown"})
	assert.Error(t, err)
}
