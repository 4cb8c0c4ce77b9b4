package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

// DB is a bbolt-backed store of named keys to typed values, grouped in buckets.
// Missing buckets and keys read as absent, never as errors.
type DB struct {
	db *bbolt.DB
}

// Open opens (or creates) the state database
func Open(dbPath string) (*DB, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A lock timeout means another bridge instance holds the file
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("BoltDB state store initialized")

	return &DB{db: db}, nil
}

// Close closes the database
func (s *DB) Close() error {
	log.Info().Msg("Closing BoltDB state store")
	return s.db.Close()
}

// Update runs fn in a single read-write transaction. Nothing is written if fn fails.
func (s *DB) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bbolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// View runs fn in a read-only transaction
func (s *DB) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// Uint64 reads one integer value
func (s *DB) Uint64(bucket, key string) (value uint64, found bool, err error) {
	err = s.View(func(tx *Tx) error {
		value, found, err = tx.Uint64(bucket, key)
		return err
	})
	return value, found, err
}

// PutUint64 writes one integer value
func (s *DB) PutUint64(bucket, key string, value uint64) error {
	return s.Update(func(tx *Tx) error {
		return tx.PutUint64(bucket, key, value)
	})
}

// String reads one string value
func (s *DB) String(bucket, key string) (value string, found bool, err error) {
	err = s.View(func(tx *Tx) error {
		value, found = tx.String(bucket, key)
		return nil
	})
	return value, found, err
}

// PutString writes one string value
func (s *DB) PutString(bucket, key, value string) error {
	return s.Update(func(tx *Tx) error {
		return tx.PutString(bucket, key, value)
	})
}

// Members lists all keys of a set bucket
func (s *DB) Members(bucket string) (members []string, err error) {
	err = s.View(func(tx *Tx) error {
		members, err = tx.Members(bucket)
		return err
	})
	return members, err
}

// Tx is a transaction handle exposing the same typed accessors
type Tx struct {
	tx *bbolt.Tx
}

// Uint64 reads one integer value
func (t *Tx) Uint64(bucket, key string) (uint64, bool, error) {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return 0, false, nil
	}

	val := b.Get([]byte(key))
	if val == nil {
		return 0, false, nil
	}
	if len(val) < 8 {
		return 0, false, fmt.Errorf("invalid integer value at %s/%s", bucket, key)
	}

	return binary.BigEndian.Uint64(val), true, nil
}

// PutUint64 writes one integer value
func (t *Tx) PutUint64(bucket, key string, value uint64) error {
	b, err := t.tx.CreateBucketIfNotExists([]byte(bucket))
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, value)

	if err := b.Put([]byte(key), val); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// String reads one string value
func (t *Tx) String(bucket, key string) (string, bool) {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return "", false
	}

	val := b.Get([]byte(key))
	if val == nil {
		return "", false
	}
	return string(val), true
}

// PutString writes one string value
func (t *Tx) PutString(bucket, key, value string) error {
	b, err := t.tx.CreateBucketIfNotExists([]byte(bucket))
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	if err := b.Put([]byte(key), []byte(value)); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Members lists all keys of a set bucket
func (t *Tx) Members(bucket string) ([]string, error) {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, nil
	}

	members := make([]string, 0, b.Stats().KeyN)
	err := b.ForEach(func(k, _ []byte) error {
		members = append(members, string(k))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", bucket, err)
	}

	return members, nil
}

// AddMembers inserts keys into a set bucket
func (t *Tx) AddMembers(bucket string, members ...string) error {
	b, err := t.tx.CreateBucketIfNotExists([]byte(bucket))
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	for _, m := range members {
		if err := b.Put([]byte(m), []byte{}); err != nil {
			return fmt.Errorf("failed to add member to %s: %w", bucket, err)
		}
	}
	return nil
}

// ClearBucket drops every key in a bucket
func (t *Tx) ClearBucket(bucket string) error {
	if t.tx.Bucket([]byte(bucket)) == nil {
		return nil
	}
	if err := t.tx.DeleteBucket([]byte(bucket)); err != nil {
		return fmt.Errorf("failed to clear bucket %s: %w", bucket, err)
	}
	return nil
}
