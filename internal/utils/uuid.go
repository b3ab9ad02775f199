package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random RFC 4122 id. Thread ids use this form.
func NewID() string {
	return uuid.NewString()
}

// ShortID is an 8-character id for log correlation, not for storage keys.
func ShortID() string {
	uuidStr := uuid.New().String()
	return strings.ReplaceAll(uuidStr, "-", "")[:8]
}
