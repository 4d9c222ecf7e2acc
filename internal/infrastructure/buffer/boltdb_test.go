package buffer

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/taskledger/repository"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sync", "buffer.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEnqueueKeepsLatestMutationPerRecord(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.Enqueue(Item{
		Collection: repository.CollectionTasks,
		RecordID:   "t1",
		Fields:     repository.Fields{"id": "t1", "title": "first"},
	}))
	require.NoError(t, store.Enqueue(Item{
		Collection: repository.CollectionTasks,
		RecordID:   "t1",
		Fields:     repository.Fields{"id": "t1", "title": "second"},
	}))
	require.NoError(t, store.Enqueue(Item{
		Collection: repository.CollectionTasks,
		RecordID:   "t2",
		Operation:  OperationDelete,
	}))

	size, err := store.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	item, found, err := store.Get(repository.CollectionTasks, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", item.Fields["title"])
	assert.Equal(t, OperationPut, item.Operation)
	assert.False(t, item.Timestamp.IsZero())
}

func TestEnqueueRejectsIncompleteItems(t *testing.T) {
	store := openStore(t)

	err := store.Enqueue(Item{Collection: repository.CollectionTasks})
	assert.ErrorIs(t, err, ErrItemInvalid)
}

func TestRequeueBumpsRetries(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Enqueue(Item{Collection: repository.CollectionEvidence, RecordID: "e1"}))

	items, err := store.GetBatch(10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, store.Requeue(items[0], errors.New("connection refused")))

	item, found, err := store.Get(repository.CollectionEvidence, "e1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, item.Retries)
	assert.Equal(t, "connection refused", item.LastError)
}

func TestRemoveIfUnchangedSparesNewerPark(t *testing.T) {
	store := openStore(t)
	stale := Item{Collection: repository.CollectionTasks, RecordID: "t1", Timestamp: time.Now().Add(-time.Minute)}
	require.NoError(t, store.Enqueue(stale))
	require.NoError(t, store.Enqueue(Item{Collection: repository.CollectionTasks, RecordID: "t1"}))

	require.NoError(t, store.RemoveIfUnchanged(stale))
	_, found, err := store.Get(repository.CollectionTasks, "t1")
	require.NoError(t, err)
	assert.True(t, found)

	current, _, err := store.Get(repository.CollectionTasks, "t1")
	require.NoError(t, err)
	require.NoError(t, store.RemoveIfUnchanged(current))
	_, found, err = store.Get(repository.CollectionTasks, "t1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.db")
	store, err := Open(path, "sync")
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(Item{Collection: repository.CollectionLedgerEntries, RecordID: "l1"}))
	require.NoError(t, store.Close())

	reopened, err := Open(path, "sync")
	require.NoError(t, err)
	defer reopened.Close()

	items, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ledgerEntries/l1", items[0].Key())
}
