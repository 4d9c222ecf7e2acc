package usecase

import (
	"context"
	"time"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
)

// WriteOutcome reports how an asynchronous remote write ended.
type WriteOutcome struct {
	Collection string
	ID         string
	Deleted    bool
	Attempts   int
	Superseded bool
	Replayed   bool
	Parked     bool
	Err        error
}

// ParkedRecord is a mutation waiting in the sync buffer.
type ParkedRecord struct {
	ID      string
	Fields  repository.Fields
	Deleted bool
}

// SyncSummary reports the result of an explicit sync.
type SyncSummary struct {
	Replayed  int
	Failed    int
	Discarded int
	Remaining int
	Skipped   bool
}

// RemoteWriter abstracts the asynchronous write path so use cases stay storage-agnostic.
// Put and Delete return once the write is scheduled; outcomes arrive through Observe.
type RemoteWriter interface {
	Put(collection, id string, fields repository.Fields) error
	Delete(collection, id string) error
	Observe(collection string, fn func(WriteOutcome))
	Parked(collection string) ([]ParkedRecord, error)
	Sync(ctx context.Context) (SyncSummary, error)
}

// Suppressor claims notification dedup keys across engine instances.
type Suppressor interface {
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Notifier emits notification events; suppressed duplicates return created=false.
type Notifier interface {
	Emit(ctx context.Context, recipientID string, category domain.NotificationCategory, title, body, taskID string) (domain.Notification, bool, error)
}
