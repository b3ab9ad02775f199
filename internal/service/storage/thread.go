package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zjregee/deepthread/internal/models"
)

type ThreadStore struct {
	db *DB
}

func NewThreadStore(db *DB) *ThreadStore {
	return &ThreadStore{db: db}
}

func loadInfo(b *bolt.Bucket, threadID string) (*models.ThreadInfo, error) {
	value := get(b, threadKey(threadID, kindInfo, ""))
	if len(value) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, models.ErrNotFound)
	}

	var info models.ThreadInfo
	if err := json.Unmarshal(value, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread %s: %w", threadID, err)
	}
	return &info, nil
}

func saveInfo(b *bolt.Bucket, info *models.ThreadInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal thread %s: %w", info.ID, err)
	}
	return b.Put(threadKey(info.ID, kindInfo, ""), data)
}

// requireThread is called inside every per-thread write so that no record can
// be written for a thread that does not exist (or was just deleted).
func requireThread(b *bolt.Bucket, threadID string) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	if b.Get(threadKey(threadID, kindInfo, "")) == nil {
		return fmt.Errorf("thread %s: %w", threadID, models.ErrNotFound)
	}
	return nil
}

// Create stores a new thread. It fails if the id is already taken.
func (s *ThreadStore) Create(info *models.ThreadInfo) error {
	if info == nil {
		return fmt.Errorf("%w: thread info is required", models.ErrInvalidArguments)
	}
	if err := ValidateThreadID(info.ID); err != nil {
		return err
	}

	return s.db.update(func(b *bolt.Bucket) error {
		if b.Get(threadKey(info.ID, kindInfo, "")) != nil {
			return fmt.Errorf("%w: thread %s already exists", models.ErrInvalidArguments, info.ID)
		}
		return saveInfo(b, info)
	})
}

func (s *ThreadStore) GetInfo(threadID string) (*models.ThreadInfo, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	var info *models.ThreadInfo
	err := s.db.view(func(b *bolt.Bucket) error {
		var err error
		info, err = loadInfo(b, threadID)
		return err
	})
	return info, err
}

// Get returns the thread together with its message log, read in one
// transaction.
func (s *ThreadStore) Get(threadID string) (*models.Thread, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	thread := &models.Thread{}
	err := s.db.view(func(b *bolt.Bucket) error {
		info, err := loadInfo(b, threadID)
		if err != nil {
			return err
		}
		thread.Info = info
		thread.Messages, err = loadMessages(b, threadID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// List returns every thread, most recently updated first.
func (s *ThreadStore) List() ([]*models.ThreadInfo, error) {
	var infos []*models.ThreadInfo
	err := s.db.view(func(b *bolt.Bucket) error {
		for _, e := range scan(b, []byte(threadKeyPrefix)) {
			if _, ok := parseInfoKey(e.key); !ok || len(e.value) == 0 {
				continue
			}
			var info models.ThreadInfo
			if err := json.Unmarshal(e.value, &info); err != nil {
				return fmt.Errorf("failed to unmarshal thread %s: %w", e.key, err)
			}
			infos = append(infos, &info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].UpdatedAt != infos[j].UpdatedAt {
			return infos[i].UpdatedAt > infos[j].UpdatedAt
		}
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}

// Update applies fn to the stored info and persists the result atomically.
func (s *ThreadStore) Update(threadID string, fn func(info *models.ThreadInfo) error) (*models.ThreadInfo, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	var info *models.ThreadInfo
	err := s.db.update(func(b *bolt.Bucket) error {
		var err error
		info, err = loadInfo(b, threadID)
		if err != nil {
			return err
		}
		if err := fn(info); err != nil {
			return err
		}
		info.ID = threadID
		return saveInfo(b, info)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// AppendMessage adds msg to the end of the log. Seq and, if unset, Timestamp
// are assigned here; earlier messages are never rewritten.
func (s *ThreadStore) AppendMessage(threadID string, msg *models.ThreadMessage) (*models.ThreadInfo, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: message is required", models.ErrInvalidArguments)
	}
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	var info *models.ThreadInfo
	err := s.db.update(func(b *bolt.Bucket) error {
		var err error
		info, err = loadInfo(b, threadID)
		if err != nil {
			return err
		}

		now := time.Now().UnixMilli()
		msg.Seq = info.MessageCount + 1
		if msg.Timestamp == 0 {
			msg.Timestamp = now
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message for thread %s: %w", threadID, err)
		}
		if err := b.Put(threadKey(threadID, kindMessage, messageName(msg.Seq)), data); err != nil {
			return err
		}

		info.MessageCount = msg.Seq
		info.UpdatedAt = now
		return saveInfo(b, info)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *ThreadStore) Messages(threadID string) ([]*models.ThreadMessage, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	var messages []*models.ThreadMessage
	err := s.db.view(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		var err error
		messages, err = loadMessages(b, threadID)
		return err
	})
	return messages, err
}

func loadMessages(b *bolt.Bucket, threadID string) ([]*models.ThreadMessage, error) {
	entries := scan(b, kindPrefix(threadID, kindMessage))
	messages := make([]*models.ThreadMessage, 0, len(entries))
	for _, e := range entries {
		var msg models.ThreadMessage
		if err := json.Unmarshal(e.value, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message %s: %w", e.key, err)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// Delete removes the thread and everything it owns (messages, plan, notes,
// context) in a single write transaction.
func (s *ThreadStore) Delete(threadID string) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}

	return s.db.update(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		_, err := deletePrefix(b, threadPrefix(threadID))
		return err
	})
}
