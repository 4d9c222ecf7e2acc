package buffer

import (
	"time"

	"github.com/fastygo/taskledger/repository"
)

const (
	OperationPut    = "put"
	OperationDelete = "delete"
)

// Item is a remote mutation that exhausted its retries and waits for the next sync.
type Item struct {
	Collection string            `json:"collection"`
	RecordID   string            `json:"record_id"`
	Operation  string            `json:"operation"`
	Fields     repository.Fields `json:"fields,omitempty"`
	Retries    int               `json:"retries"`
	LastError  string            `json:"last_error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Key identifies the record an item mutates. One item is kept per record.
func (i Item) Key() string {
	return Key(i.Collection, i.RecordID)
}

// Key builds the bucket key for collection/id.
func Key(collection, id string) string {
	return collection + "/" + id
}

func (i *Item) normalize() {
	if i.Operation == "" {
		i.Operation = OperationPut
	}
	if i.Timestamp.IsZero() {
		i.Timestamp = time.Now()
	}
}
