package buffer

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrItemInvalid is returned for items without a collection or record ID.
var ErrItemInvalid = errors.New("buffer item requires collection and record id")

// Store wraps BoltDB to persist parked mutations while the record store is unreachable.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// Open initializes the BoltDB file and ensures the bucket exists.
func Open(path string, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = "sync"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		bucket: []byte(bucket),
	}, nil
}

// Enqueue stores item under its record key, replacing any older mutation of the same record.
func (s *Store) Enqueue(item Item) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	if item.Collection == "" || item.RecordID == "" {
		return ErrItemInvalid
	}
	item.normalize()

	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(item.Key()), payload)
	})
}

// Get returns the parked mutation for collection/id, if any.
func (s *Store) Get(collection, id string) (Item, bool, error) {
	if s == nil || s.db == nil {
		return Item{}, false, bolt.ErrDatabaseNotOpen
	}
	var (
		item  Item
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(Key(collection, id)))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &item)
	})
	return item, found, err
}

// GetBatch returns up to limit items without removing them.
func (s *Store) GetBatch(limit int) ([]Item, error) {
	if s == nil || s.db == nil {
		return nil, bolt.ErrDatabaseNotOpen
	}
	if limit <= 0 {
		limit = 50
	}

	var items []Item
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil && len(items) < limit; k, v = c.Next() {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				continue
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

// List returns every parked item.
func (s *Store) List() ([]Item, error) {
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	return s.GetBatch(size)
}

// Remove deletes the parked mutation for collection/id.
func (s *Store) Remove(collection, id string) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(Key(collection, id)))
	})
}

// RemoveIfUnchanged deletes item only while the stored copy still carries
// item's timestamp, so a newer park of the same record survives.
func (s *Store) RemoveIfUnchanged(item Item) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		key := []byte(item.Key())
		v := b.Get(key)
		if v == nil {
			return nil
		}
		var current Item
		if err := json.Unmarshal(v, &current); err != nil {
			return b.Delete(key)
		}
		if !current.Timestamp.Equal(item.Timestamp) {
			return nil
		}
		return b.Delete(key)
	})
}

// Requeue bumps the retry count of item unless a newer mutation replaced it.
func (s *Store) Requeue(item Item, cause error) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		key := []byte(item.Key())
		v := b.Get(key)
		if v == nil {
			return nil
		}
		var current Item
		if err := json.Unmarshal(v, &current); err == nil && !current.Timestamp.Equal(item.Timestamp) {
			return nil
		}
		item.Retries++
		if cause != nil {
			item.LastError = cause.Error()
		}
		payload, err := json.Marshal(item)
		if err != nil {
			return err
		}
		return b.Put(key, payload)
	})
}

// Size returns the number of buffered items.
func (s *Store) Size() (int, error) {
	if s == nil || s.db == nil {
		return 0, bolt.ErrDatabaseNotOpen
	}
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return count, err
}

// Close closes the Bolt database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Stats exposes Bolt statistics for monitoring endpoints.
func (s *Store) Stats() bolt.Stats {
	if s == nil || s.db == nil {
		return bolt.Stats{}
	}
	return s.db.Stats()
}
