package repository

import (
	"cmp"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Logical collections persisted by the engine.
const (
	CollectionTasks         = "tasks"
	CollectionEvidence      = "evidence"
	CollectionLedgerEntries = "ledgerEntries"
	CollectionNotifications = "notificationEvents"
)

// Collections lists every collection the change feed follows.
var Collections = []string{
	CollectionTasks,
	CollectionEvidence,
	CollectionLedgerEntries,
	CollectionNotifications,
}

// Fields is the schemaless document shape exchanged with a remote store.
// Values are restricted to JSON types (string, float64, bool, nil, []any, map[string]any).
type Fields map[string]any

// Record is a stored document with its key.
type Record struct {
	ID     string
	Fields Fields
}

// Condition is an equality predicate on a top-level field.
type Condition struct {
	Field string
	Value any
}

// Query filters and orders records of one collection.
type Query struct {
	Where   []Condition
	OrderBy string
	Desc    bool
	Limit   int
}

// Eq returns a query with one more equality condition.
func (q Query) Eq(field string, value any) Query {
	where := make([]Condition, 0, len(q.Where)+1)
	where = append(where, q.Where...)
	q.Where = append(where, Condition{Field: field, Value: value})
	return q
}

// Match reports whether fields satisfy every condition. Values are compared in
// their canonical text form so numbers decoded from JSON match Go ints.
func (q Query) Match(fields Fields) bool {
	for _, cond := range q.Where {
		if canonical(fields[cond.Field]) != canonical(cond.Value) {
			return false
		}
	}
	return true
}

// Apply filters, orders and limits records in memory.
func (q Query) Apply(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if q.Match(rec.Fields) {
			out = append(out, rec)
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i].Fields[q.OrderBy], out[j].Fields[q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func canonical(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// compareValues orders numbers numerically and RFC 3339 timestamps
// chronologically, falling back to text order.
func compareValues(a, b any) int {
	as, bs := canonical(a), canonical(b)
	if af, err := strconv.ParseFloat(as, 64); err == nil {
		if bf, err := strconv.ParseFloat(bs, 64); err == nil {
			return cmp.Compare(af, bf)
		}
	}
	if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return at.Compare(bt)
		}
	}
	return strings.Compare(as, bs)
}

// Snapshot is a full view of a collection delivered by the change feed.
type Snapshot struct {
	Collection string
	Records    []Record
	At         time.Time
}

// RecordStore abstracts a remote document store with at-least-once writes and
// a push-based change feed. It carries no business logic.
type RecordStore interface {
	Put(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection string, query Query) ([]Record, error)
	// Subscribe delivers a snapshot immediately and after every change until ctx is done.
	Subscribe(ctx context.Context, collection string, query Query) (<-chan Snapshot, error)
	Ping(ctx context.Context) error
}

// CloneFields copies a document one level deep.
func CloneFields(fields Fields) Fields {
	if fields == nil {
		return nil
	}
	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
