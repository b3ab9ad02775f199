package notes

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/storage"
	"github.com/zjregee/deepthread/internal/service/tools"
)

func newEnv(t *testing.T, threadIDs ...string) *tools.Env {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	stores := storage.NewStores(db)
	for _, id := range threadIDs {
		require.NoError(t, stores.Threads.Create(&models.ThreadInfo{ID: id}))
	}
	return &tools.Env{Plans: stores.Plans, Notes: stores.Notes, Context: stores.Context}
}

func noteIDFrom(t *testing.T, out string) string {
	t.Helper()
	_, id, ok := strings.Cut(out, "ID: ")
	require.True(t, ok, out)
	return strings.TrimSpace(id)
}

func TestNoteTools(t *testing.T) {
	env := newEnv(t, "t1", "t2")
	ctx := tools.WithThreadID(context.Background(), "t1")
	other := tools.WithThreadID(context.Background(), "t2")

	out, err := SaveNote(ctx, env, &SaveNoteParams{Title: "Meeting", Content: "Discussed the roadmap for Q3", Tags: []string{"Work"}})
	require.NoError(t, err)
	id := noteIDFrom(t, out)
	assert.True(t, strings.HasSuffix(id, "_Meeting"), id)

	out, err = ReadNote(ctx, env, &ReadNoteParams{NoteID: "meeting"})
	require.NoError(t, err)
	assert.Contains(t, out, "Title: Meeting")
	assert.Contains(t, out, "Tags: work")
	assert.Contains(t, out, "Discussed the roadmap")

	out, err = ListNotes(ctx, env)
	require.NoError(t, err)
	assert.Contains(t, out, id+": Meeting [work]")
	assert.NotContains(t, out, "roadmap")

	out, err = ListNotes(other, env)
	require.NoError(t, err)
	assert.Equal(t, "No notes saved in this conversation.", out)

	_, err = ReadNote(other, env, &ReadNoteParams{NoteID: id})
	assert.ErrorIs(t, err, models.ErrNotFound)

	out, err = SearchNotes(ctx, env, &SearchNotesParams{Query: "ROADMAP"})
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 note(s)")

	_, err = SearchNotes(ctx, env, &SearchNotesParams{})
	assert.ErrorIs(t, err, models.ErrInvalidArguments)

	body := "Moved to Q4"
	_, err = UpdateNote(ctx, env, &UpdateNoteParams{NoteID: id, Content: &body})
	require.NoError(t, err)
	out, err = ReadNote(ctx, env, &ReadNoteParams{NoteID: id})
	require.NoError(t, err)
	assert.Contains(t, out, "Moved to Q4")
}

func TestContextTools(t *testing.T) {
	env := newEnv(t, "t1", "t2")
	ctx := tools.WithThreadID(context.Background(), "t1")

	_, err := SaveContext(ctx, env, &SaveContextParams{
		Key:   "results",
		Value: map[string]any{"items": []any{map[string]any{"name": "alpha", "score": 0.8}}},
	})
	require.NoError(t, err)

	out, err := LoadContext(ctx, env, &LoadContextParams{Key: "results"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[{"name":"alpha","score":0.8}]}`, out)

	out, err = LoadContext(ctx, env, &LoadContextParams{Key: "results", Path: "items.0.name"})
	require.NoError(t, err)
	assert.Equal(t, `"alpha"`, out)

	_, err = LoadContext(ctx, env, &LoadContextParams{Key: "results", Path: "items.5"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = LoadContext(tools.WithThreadID(context.Background(), "t2"), env, &LoadContextParams{Key: "results"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = SaveContext(ctx, env, &SaveContextParams{Key: "empty"})
	assert.ErrorIs(t, err, models.ErrInvalidArguments)

	_, err = SaveContext(ctx, env, &SaveContextParams{Key: "count", Value: 3})
	require.NoError(t, err)

	out, err = ListContextKeys(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, "Context keys:\n- count\n- results", out)
}
