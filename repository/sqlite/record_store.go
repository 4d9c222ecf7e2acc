package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
)

const defaultPollInterval = 500 * time.Millisecond

// RecordStore implements repository.RecordStore on an embedded SQLite file.
// The change feed polls a per-collection version counter.
type RecordStore struct {
	db           *sqlx.DB
	pollInterval time.Duration
}

// Option configures a RecordStore.
type Option func(*RecordStore)

// WithPollInterval sets how often subscribers check for changes.
func WithPollInterval(d time.Duration) Option {
	return func(s *RecordStore) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// Open opens (or creates) a SQLite database at path, enables WAL mode, and
// runs any pending schema migrations. ":memory:" is accepted for tests.
func Open(path string, opts ...Option) (*RecordStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &RecordStore{db: db, pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

func (s *RecordStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *RecordStore) Put(ctx context.Context, collection, id string, fields repository.Fields) error {
	if id == "" {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return domain.WrapError(domain.ErrCodeValidation, "marshal record", err)
	}

	return s.inTx(ctx, collection, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (collection, id, fields, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE
			SET fields = excluded.fields, updated_at = excluded.updated_at`,
			collection, id, string(payload), time.Now().UTC(),
		)
		return err
	})
}

func (s *RecordStore) Delete(ctx context.Context, collection, id string) error {
	return s.inTx(ctx, collection, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM records WHERE collection = ? AND id = ?", collection, id)
		return err
	})
}

// Get loads the collection and filters in Go; SQLite's json_extract returns
// typed values that would not compare uniformly with the query's text form.
func (s *RecordStore) Get(ctx context.Context, collection string, q repository.Query) ([]repository.Record, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT id, fields FROM records WHERE collection = ?", collection)
	if err != nil {
		return nil, classify(fmt.Errorf("querying %s: %w", collection, err))
	}
	defer rows.Close()

	var records []repository.Record
	for rows.Next() {
		var (
			rec     repository.Record
			payload string
		)
		if err := rows.Scan(&rec.ID, &payload); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Fields); err != nil {
			return nil, &domain.DecodeError{Collection: collection, ID: rec.ID, Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return q.Apply(records), nil
}

func (s *RecordStore) Subscribe(ctx context.Context, collection string, q repository.Query) (<-chan repository.Snapshot, error) {
	version, err := s.version(ctx, collection)
	if err != nil {
		return nil, err
	}
	initial, err := s.Get(ctx, collection, q)
	if err != nil {
		return nil, err
	}

	out := make(chan repository.Snapshot, 1)
	out <- repository.Snapshot{Collection: collection, Records: initial, At: time.Now()}

	go func() {
		defer close(out)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			current, err := s.version(ctx, collection)
			if err != nil || current == version {
				continue
			}
			records, err := s.Get(ctx, collection, q)
			if err != nil {
				continue
			}
			version = current
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

func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *RecordStore) version(ctx context.Context, collection string) (int64, error) {
	var version int64
	err := s.db.GetContext(ctx, &version,
		"SELECT COALESCE(MAX(version), 0) FROM collection_versions WHERE collection = ?", collection)
	if err != nil {
		return 0, classify(fmt.Errorf("reading %s version: %w", collection, err))
	}
	return version, nil
}

// inTx applies a mutation and bumps the collection version atomically.
func (s *RecordStore) inTx(ctx context.Context, collection string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return classify(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO collection_versions (collection, version) VALUES (?, 1)
		ON CONFLICT (collection) DO UPDATE SET version = version + 1`, collection); err != nil {
		return classify(fmt.Errorf("bumping %s version: %w", collection, err))
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("committing: %w", err))
	}
	return nil
}

// classify marks lock contention as transient and uniqueness violations as
// conflicts; everything else passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return domain.WrapError(domain.ErrCodeConflict, "duplicate record", err)
	}
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return domain.WrapError(domain.ErrCodeUnavailable, "sqlite busy", err)
	}
	return err
}

var _ repository.RecordStore = (*RecordStore)(nil)
