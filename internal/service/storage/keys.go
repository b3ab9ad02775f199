package storage

import (
	"fmt"
	"strings"

	"github.com/zjregee/deepthread/internal/models"
)

const threadKeyPrefix = "thread:"

type keyKind string

const (
	kindInfo    keyKind = "info"
	kindMessage keyKind = "msg"
	kindPlan    keyKind = "plan"
	kindNote    keyKind = "note"
	kindContext keyKind = "ctx"
)

// ValidateThreadID rejects ids that could escape their key prefix.
func ValidateThreadID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: thread id is required", models.ErrInvalidArguments)
	}
	if strings.ContainsAny(id, ":/") {
		return fmt.Errorf("%w: thread id %q may not contain ':' or '/'", models.ErrInvalidArguments, id)
	}
	return nil
}

// threadPrefix is thread:<id>: . Because ids cannot contain ':', the prefix of
// one thread is never a prefix of another thread's keys.
func threadPrefix(threadID string) []byte {
	return []byte(threadKeyPrefix + threadID + ":")
}

func kindPrefix(threadID string, kind keyKind) []byte {
	return []byte(threadKeyPrefix + threadID + ":" + string(kind) + ":")
}

// threadKey is the only way a record key is built.
func threadKey(threadID string, kind keyKind, name string) []byte {
	if name == "" {
		return []byte(threadKeyPrefix + threadID + ":" + string(kind))
	}
	return append(kindPrefix(threadID, kind), name...)
}

func messageName(seq int) string {
	return fmt.Sprintf("%010d", seq)
}

// parseInfoKey returns the thread id of a thread:<id>:info key.
func parseInfoKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, threadKeyPrefix)
	if !ok {
		return "", false
	}
	id, tail, ok := strings.Cut(rest, ":")
	if !ok || tail != string(kindInfo) {
		return "", false
	}
	return id, true
}
