package services

import (
	"context"

	"github.com/fastygo/taskledger/internal/infrastructure/buffer"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/usecase"
)

// RemoteBridge exposes the Writer and SyncProcessor through the use case port.
type RemoteBridge struct {
	writer    *Writer
	processor *SyncProcessor
}

func NewRemoteBridge(writer *Writer, processor *SyncProcessor) *RemoteBridge {
	return &RemoteBridge{writer: writer, processor: processor}
}

func (b *RemoteBridge) Put(collection, id string, fields repository.Fields) error {
	return b.writer.Submit(Mutation{
		Collection: collection,
		ID:         id,
		Operation:  buffer.OperationPut,
		Fields:     fields,
	})
}

func (b *RemoteBridge) Delete(collection, id string) error {
	return b.writer.Submit(Mutation{
		Collection: collection,
		ID:         id,
		Operation:  buffer.OperationDelete,
	})
}

func (b *RemoteBridge) Observe(collection string, fn func(usecase.WriteOutcome)) {
	if fn == nil {
		return
	}
	b.writer.Observe(collection, func(res WriteResult) {
		fn(usecase.WriteOutcome{
			Collection: res.Collection,
			ID:         res.ID,
			Deleted:    res.Operation == buffer.OperationDelete,
			Attempts:   res.Attempts,
			Superseded: res.Superseded,
			Replayed:   res.Replayed,
			Parked:     res.Parked,
			Err:        res.Err,
		})
	})
}

func (b *RemoteBridge) Parked(collection string) ([]usecase.ParkedRecord, error) {
	items, err := b.processor.Parked(collection)
	if err != nil {
		return nil, err
	}
	out := make([]usecase.ParkedRecord, 0, len(items))
	for _, item := range items {
		out = append(out, usecase.ParkedRecord{
			ID:      item.RecordID,
			Fields:  item.Fields,
			Deleted: item.Operation == buffer.OperationDelete,
		})
	}
	return out, nil
}

func (b *RemoteBridge) Sync(ctx context.Context) (usecase.SyncSummary, error) {
	report, err := b.processor.Sync(ctx)
	return usecase.SyncSummary{
		Replayed:  report.Replayed,
		Failed:    report.Failed,
		Discarded: report.Discarded,
		Remaining: report.Remaining,
		Skipped:   report.Skipped,
	}, err
}

var _ usecase.RemoteWriter = (*RemoteBridge)(nil)
