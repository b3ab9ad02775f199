package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	defaultDir      = ".deepthread"
	defaultBucket   = "deepthread"
	defaultFileName = "deepthread.db"
)

// DB is a single-bucket bbolt store. All per-thread repositories share one DB
// so a cascade delete can span every kind of record in one transaction.
type DB struct {
	db        *bolt.DB
	closeOnce sync.Once
}

func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, defaultDir), nil
}

func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultFileName), nil
}

func Open(path string) (*DB, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(defaultBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &DB{
		db: db,
	}, nil
}

func (d *DB) Close() error {
	if d == nil {
		return nil
	}

	var err error
	d.closeOnce.Do(func() {
		if d.db != nil {
			err = d.db.Close()
		}
	})
	return err
}

func (d *DB) Path() string {
	return d.db.Path()
}

func (d *DB) view(fn func(b *bolt.Bucket) error) error {
	return d.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(defaultBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", defaultBucket)
		}
		return fn(bucket)
	})
}

func (d *DB) update(fn func(b *bolt.Bucket) error) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(defaultBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", defaultBucket)
		}
		return fn(bucket)
	})
}

func get(b *bolt.Bucket, key []byte) []byte {
	v := b.Get(key)
	if v == nil {
		return nil
	}
	value := make([]byte, len(v))
	copy(value, v)
	return value
}

type entry struct {
	key   string
	value []byte
}

// scan returns copies of every pair under prefix, in key order.
func scan(b *bolt.Bucket, prefix []byte) []entry {
	var result []entry
	cursor := b.Cursor()
	for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		value := make([]byte, len(v))
		copy(value, v)
		result = append(result, entry{key: string(k), value: value})
	}
	return result
}

func deletePrefix(b *bolt.Bucket, prefix []byte) (int, error) {
	var keys [][]byte
	cursor := b.Cursor()
	for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
		key := make([]byte, len(k))
		copy(key, k)
		keys = append(keys, key)
	}
	for _, key := range keys {
		if err := b.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Stores bundles the per-thread repositories that share one DB.
type Stores struct {
	Threads *ThreadStore
	Plans   *PlanStore
	Notes   *NoteStore
	Context *ContextStore
}

func NewStores(db *DB) *Stores {
	return &Stores{
		Threads: NewThreadStore(db),
		Plans:   NewPlanStore(db),
		Notes:   NewNoteStore(db),
		Context: NewContextStore(db),
	}
}
