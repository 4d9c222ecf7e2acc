package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
)

// notifyChannel is raised by the records trigger with the collection name as payload.
const notifyChannel = "records_changed"

var fieldName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type recordStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRecordStore returns a Postgres-backed RecordStore over the records table.
func NewRecordStore(pool *pgxpool.Pool, logger *zap.Logger) repository.RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &recordStore{pool: pool, logger: logger}
}

func (r *recordStore) Put(ctx context.Context, collection, id string, fields repository.Fields) error {
	if id == "" {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return domain.WrapError(domain.ErrCodeValidation, "marshal record", err)
	}

	const query = `
	INSERT INTO records (collection, id, fields, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (collection, id) DO UPDATE
	SET fields = EXCLUDED.fields,
		updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, collection, id, payload); err != nil {
		return classify(err)
	}
	return nil
}

func (r *recordStore) Delete(ctx context.Context, collection, id string) error {
	const query = `DELETE FROM records WHERE collection = $1 AND id = $2`
	if _, err := r.pool.Exec(ctx, query, collection, id); err != nil {
		return classify(err)
	}
	return nil
}

func (r *recordStore) Get(ctx context.Context, collection string, q repository.Query) ([]repository.Record, error) {
	query, args, err := buildSelect(collection, q)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var records []repository.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	// Typed ordering (numbers, timestamps) is applied in Go; SQL only filters.
	return q.Apply(records), nil
}

// Subscribe holds a dedicated connection in LISTEN mode and re-reads the
// collection whenever the trigger reports a change to it.
func (r *recordStore) Subscribe(ctx context.Context, collection string, q repository.Query) (<-chan repository.Snapshot, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, classify(err)
	}

	initial, err := r.Get(ctx, collection, q)
	if err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan repository.Snapshot, 1)
	out <- repository.Snapshot{Collection: collection, Records: initial, At: time.Now()}

	go func() {
		defer close(out)
		defer conn.Release()
		for {
			note, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("change feed interrupted", zap.String("collection", collection), zap.Error(err))
				}
				return
			}
			if note.Payload != collection {
				continue
			}
			records, err := r.Get(ctx, collection, q)
			if err != nil {
				r.logger.Warn("change feed reload failed", zap.String("collection", collection), zap.Error(err))
				continue
			}
			snap := repository.Snapshot{Collection: collection, Records: records, At: time.Now()}
			select {
			case <-out:
			default:
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *recordStore) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func buildSelect(collection string, q repository.Query) (string, []any, error) {
	query := `SELECT id, fields FROM records WHERE collection = $1`
	args := []any{collection}
	for _, cond := range q.Where {
		if !fieldName.MatchString(cond.Field) {
			return "", nil, domain.Validation("invalid query field %q", cond.Field)
		}
		args = append(args, fmt.Sprint(cond.Value))
		query += fmt.Sprintf(" AND fields->>'%s' = $%d", cond.Field, len(args))
	}
	return query, args, nil
}

func scanRecord(row interface {
	Scan(dest ...interface{}) error
}) (repository.Record, error) {
	var (
		rec     repository.Record
		payload []byte
	)
	if err := row.Scan(&rec.ID, &payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, domain.ErrRecordNotFound
		}
		return rec, classify(err)
	}
	if err := json.Unmarshal(payload, &rec.Fields); err != nil {
		return rec, &domain.DecodeError{ID: rec.ID, Err: err}
	}
	return rec, nil
}

// classify maps driver errors onto the domain taxonomy so the retry
// controller only retries connectivity failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return domain.WrapError(domain.ErrCodeConflict, "duplicate record", err)
		case "40001", "40P01", "57P01", "57P03":
			return domain.WrapError(domain.ErrCodeUnavailable, "postgres temporarily unavailable", err)
		}
		return domain.WrapError(domain.ErrCodeInternal, "postgres error", err)
	}
	var netErr net.Error
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrCodeUnavailable, "postgres unreachable", err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return domain.WrapError(domain.ErrCodeUnavailable, "postgres unreachable", err)
	}
	return err
}
