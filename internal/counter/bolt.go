package counter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const bucketWindows = "windows"

// windowEntry is the msgpack-encoded value stored per counter key.
type windowEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// BoltStore is a fixed-window counter backed by a local bbolt file. It
// backs the static fallback tiers: no network dependency, durable
// across restarts. bbolt serializes writers per transaction, which
// gives the per-key atomicity Increment requires.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) a bbolt database at dataDir/counters.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "counters.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketWindows))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Increment implements Store.
func (s *BoltStore) Increment(_ context.Context, key string, window time.Duration) (Hit, error) {
	if window <= 0 {
		window = time.Second
	}
	now := time.Now()

	var hit Hit
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketWindows))
		var entry windowEntry
		if raw := b.Get([]byte(key)); raw != nil {
			if err := msgpack.Unmarshal(raw, &entry); err != nil {
				// Corrupt entry: restart the window rather than failing
				// the request pipeline.
				entry = windowEntry{}
			}
		}
		if entry.Count == 0 || !now.Before(entry.ExpiresAt) {
			entry = windowEntry{Count: 0, ExpiresAt: now.Add(window)}
		}
		entry.Count++

		data, err := msgpack.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal window entry: %w", err)
		}
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
		hit = Hit{TotalHits: entry.Count, ResetAfter: entry.ExpiresAt.Sub(now)}
		return nil
	})
	if err != nil {
		return Hit{}, fmt.Errorf("bolt increment %s: %w", key, err)
	}
	return hit, nil
}

// PruneExpired removes window entries whose expiry has passed. Returns
// the number of entries removed.
func (s *BoltStore) PruneExpired() (int, error) {
	now := time.Now()
	var pruned int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketWindows))
		var toDelete [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var entry windowEntry
			if err := msgpack.Unmarshal(v, &entry); err != nil {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
				return nil
			}
			if !now.Before(entry.ExpiresAt) {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// SizeBytes reports the on-disk database file size.
func (s *BoltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
