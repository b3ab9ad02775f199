package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	bolt "go.etcd.io/bbolt"

	"github.com/zjregee/deepthread/internal/models"
)

const noteIDTimeLayout = "20060102_150405"

var now = time.Now

type NoteStore struct {
	db *DB
}

func NewNoteStore(db *DB) *NoteStore {
	return &NoteStore{db: db}
}

// NoteUpdate lists the fields to change. Nil fields are left as they are.
type NoteUpdate struct {
	Title *string
	Body  *string
	Tags  []string
}

func slugify(title string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	slug := sb.String()
	if slug == "" {
		return "note"
	}
	return slug
}

func loadNote(b *bolt.Bucket, threadID, noteID string) (*models.Note, error) {
	value := get(b, threadKey(threadID, kindNote, noteID))
	if len(value) == 0 {
		return nil, fmt.Errorf("note %s: %w", noteID, models.ErrNotFound)
	}

	var note models.Note
	if err := json.Unmarshal(value, &note); err != nil {
		return nil, fmt.Errorf("failed to unmarshal note %s: %w", noteID, err)
	}
	return &note, nil
}

func saveNote(b *bolt.Bucket, note *models.Note) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal note %s: %w", note.ID, err)
	}
	return b.Put(threadKey(note.ThreadID, kindNote, note.ID), data)
}

func loadNotes(b *bolt.Bucket, threadID string) ([]*models.Note, error) {
	entries := scan(b, kindPrefix(threadID, kindNote))
	notes := make([]*models.Note, 0, len(entries))
	for _, e := range entries {
		var note models.Note
		if err := json.Unmarshal(e.value, &note); err != nil {
			return nil, fmt.Errorf("failed to unmarshal note %s: %w", e.key, err)
		}
		notes = append(notes, &note)
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].CreatedAt != notes[j].CreatedAt {
			return notes[i].CreatedAt < notes[j].CreatedAt
		}
		return notes[i].ID < notes[j].ID
	})
	return notes, nil
}

// Save writes a new note under an id derived from the current time and the
// title. A colliding id gets a numeric suffix, so Save never overwrites.
func (s *NoteStore) Save(threadID, title, body string, tags []string) (*models.Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: note title is required", models.ErrInvalidArguments)
	}

	ts := now()
	note := &models.Note{
		ThreadID:  threadID,
		Title:     title,
		Tags:      models.NormalizeTags(tags),
		Body:      body,
		CreatedAt: ts.UnixMilli(),
		UpdatedAt: ts.UnixMilli(),
	}
	base := ts.Format(noteIDTimeLayout) + "_" + slugify(title)

	err := s.db.update(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		note.ID = base
		for n := 2; b.Get(threadKey(threadID, kindNote, note.ID)) != nil; n++ {
			note.ID = fmt.Sprintf("%s_%d", base, n)
		}
		return saveNote(b, note)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// Put stores note under its own id, replacing any note with that id.
func (s *NoteStore) Put(threadID string, note *models.Note) error {
	if note == nil || strings.TrimSpace(note.ID) == "" {
		return fmt.Errorf("%w: note id is required", models.ErrInvalidArguments)
	}

	return s.db.update(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		ts := now().UnixMilli()
		note.ThreadID = threadID
		note.Tags = models.NormalizeTags(note.Tags)
		if note.CreatedAt == 0 {
			note.CreatedAt = ts
		}
		note.UpdatedAt = ts
		return saveNote(b, note)
	})
}

// Get resolves noteID exactly first, then as a case-insensitive substring of
// the thread's note ids. More than one substring match is ErrAmbiguous.
func (s *NoteStore) Get(threadID, noteID string) (*models.Note, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	noteID = strings.TrimSpace(noteID)
	if noteID == "" {
		return nil, fmt.Errorf("%w: note id is required", models.ErrInvalidArguments)
	}

	var note *models.Note
	err := s.db.view(func(b *bolt.Bucket) error {
		var err error
		note, err = resolveNote(b, threadID, noteID)
		return err
	})
	return note, err
}

func resolveNote(b *bolt.Bucket, threadID, noteID string) (*models.Note, error) {
	if note, err := loadNote(b, threadID, noteID); err == nil {
		return note, nil
	}

	notes, err := loadNotes(b, threadID)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(noteID)
	var matches []*models.Note
	for _, n := range notes {
		if strings.Contains(strings.ToLower(n.ID), needle) {
			matches = append(matches, n)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("note %s: %w", noteID, models.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		return nil, fmt.Errorf("%w: %q matches %s", models.ErrAmbiguous, noteID, strings.Join(ids, ", "))
	}
}

func (s *NoteStore) List(threadID string) ([]*models.NoteSummary, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	var summaries []*models.NoteSummary
	err := s.db.view(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		notes, err := loadNotes(b, threadID)
		if err != nil {
			return err
		}
		summaries = make([]*models.NoteSummary, 0, len(notes))
		for _, n := range notes {
			summaries = append(summaries, n.Summary())
		}
		return nil
	})
	return summaries, err
}

func (s *NoteStore) Update(threadID, noteID string, upd NoteUpdate) (*models.Note, error) {
	if upd.Title == nil && upd.Body == nil && upd.Tags == nil {
		return nil, fmt.Errorf("%w: nothing to update", models.ErrInvalidArguments)
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return nil, fmt.Errorf("%w: note title cannot be empty", models.ErrInvalidArguments)
	}

	var note *models.Note
	err := s.db.update(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		var err error
		note, err = resolveNote(b, threadID, strings.TrimSpace(noteID))
		if err != nil {
			return err
		}
		if upd.Title != nil {
			note.Title = strings.TrimSpace(*upd.Title)
		}
		if upd.Body != nil {
			note.Body = *upd.Body
		}
		if upd.Tags != nil {
			note.Tags = models.NormalizeTags(upd.Tags)
		}
		note.UpdatedAt = now().UnixMilli()
		return saveNote(b, note)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// Search matches query case-insensitively against title and body, and keeps
// only notes carrying tag when tag is set. Empty query and tag match all.
func (s *NoteStore) Search(threadID, query, tag string) ([]*models.Note, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	var result []*models.Note
	err := s.db.view(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		notes, err := loadNotes(b, threadID)
		if err != nil {
			return err
		}
		for _, n := range notes {
			if tag != "" && !n.HasTag(tag) {
				continue
			}
			if query != "" &&
				!strings.Contains(strings.ToLower(n.Title), query) &&
				!strings.Contains(strings.ToLower(n.Body), query) {
				continue
			}
			result = append(result, n)
		}
		return nil
	})
	return result, err
}
