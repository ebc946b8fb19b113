package store

import (
	"context"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketSnapshots = []byte("snapshots")

// BoltBackend stores snapshots in a single bbolt bucket. It is the default
// on-device store.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (or creates) storefront.db inside dataDir.
func NewBoltBackend(dataDir string) (*BoltBackend, error) {
	dbPath := filepath.Join(dataDir, "storefront.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketSnapshots, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltBackend{db: db}, nil
}

func (s *BoltBackend) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		// bbolt memory is only valid inside the transaction
		value = append([]byte(nil), data...)
		return nil
	})
	return value, err
}

func (s *BoltBackend) Set(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(key), value)
	})
}

func (s *BoltBackend) SetBatch(_ context.Context, entries []Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		for _, e := range entries {
			if err := b.Put([]byte(e.Key), e.Value); err != nil {
				return fmt.Errorf("failed to put %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

func (s *BoltBackend) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(key))
	})
}

// Close closes the database
func (s *BoltBackend) Close() error {
	return s.db.Close()
}
