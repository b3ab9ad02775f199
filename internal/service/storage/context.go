package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/zjregee/deepthread/internal/models"
)

type ContextStore struct {
	db *DB
}

func NewContextStore(db *DB) *ContextStore {
	return &ContextStore{db: db}
}

// Save stores value under key, overwriting any earlier value. The value must
// be JSON-serializable; a json.RawMessage is stored as is after validation.
func (s *ContextStore) Save(threadID, key string, value any) (*models.ContextEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: context key is required", models.ErrInvalidArguments)
	}

	var raw json.RawMessage
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: context value for %s is not valid JSON", models.ErrInvalidArguments, key)
		}
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: context value for %s is not serializable: %v", models.ErrInvalidArguments, key, err)
		}
		raw = data
	}

	entry := &models.ContextEntry{
		Key:       key,
		Value:     raw,
		UpdatedAt: now().UnixMilli(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context %s: %w", key, err)
	}

	err = s.db.update(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		return b.Put(threadKey(threadID, kindContext, key), data)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *ContextStore) Load(threadID, key string) (*models.ContextEntry, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)

	var entry models.ContextEntry
	err := s.db.view(func(b *bolt.Bucket) error {
		value := get(b, threadKey(threadID, kindContext, key))
		if len(value) == 0 {
			return fmt.Errorf("context %s: %w", key, models.ErrNotFound)
		}
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal context %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Keys returns the thread's context keys in sorted order.
func (s *ContextStore) Keys(threadID string) ([]string, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	prefix := kindPrefix(threadID, kindContext)
	var keys []string
	err := s.db.view(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		for _, e := range scan(b, prefix) {
			keys = append(keys, strings.TrimPrefix(e.key, string(prefix)))
		}
		return nil
	})
	return keys, err
}
