package models

import (
	"encoding/json"
	"strings"
)

type Note struct {
	ThreadID  string   `json:"thread_id"`
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	Body      string   `json:"body"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

type NoteSummary struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	CreatedAt int64    `json:"created_at"`
}

func (n *Note) Summary() *NoteSummary {
	return &NoteSummary{
		ID:        n.ID,
		Title:     n.Title,
		Tags:      append([]string(nil), n.Tags...),
		CreatedAt: n.CreatedAt,
	}
}

func (n *Note) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTags lower-cases, trims and de-duplicates tags, keeping first-seen
// order. Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

type ContextEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt int64           `json:"updated_at"`
}
