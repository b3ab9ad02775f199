package notes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/storage"
	"github.com/zjregee/deepthread/internal/service/tools"
)

const snippetLength = 160

func SaveNote(ctx context.Context, env *tools.Env, params *SaveNoteParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: params must be provided", models.ErrInvalidArguments)
	}
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}

	note, err := env.Notes.Save(threadID, params.Title, params.Content, params.Tags)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Note saved.\nID: %s", note.ID), nil
}

func ReadNote(ctx context.Context, env *tools.Env, params *ReadNoteParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: params must be provided", models.ErrInvalidArguments)
	}
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}

	note, err := env.Notes.Get(threadID, params.NoteID)
	if err != nil {
		return "", err
	}
	return RenderNote(note), nil
}

func ListNotes(ctx context.Context, env *tools.Env) (string, error) {
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}

	summaries, err := env.Notes.List(threadID)
	if err != nil {
		return "", err
	}
	if len(summaries) == 0 {
		return "No notes saved in this conversation.", nil
	}

	var sb strings.Builder
	sb.WriteString("Notes:")
	for _, s := range summaries {
		fmt.Fprintf(&sb, "\n- %s: %s", s.ID, s.Title)
		if len(s.Tags) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(s.Tags, ", "))
		}
	}
	return sb.String(), nil
}

func SearchNotes(ctx context.Context, env *tools.Env, params *SearchNotesParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: params must be provided", models.ErrInvalidArguments)
	}
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(params.Query) == "" && strings.TrimSpace(params.Tag) == "" {
		return "", fmt.Errorf("%w: query or tag must be provided", models.ErrInvalidArguments)
	}

	found, err := env.Notes.Search(threadID, params.Query, params.Tag)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "No matching notes.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d note(s):", len(found))
	for _, n := range found {
		fmt.Fprintf(&sb, "\n- %s: %s\n  %s", n.ID, n.Title, snippet(n.Body))
	}
	return sb.String(), nil
}

func UpdateNote(ctx context.Context, env *tools.Env, params *UpdateNoteParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: params must be provided", models.ErrInvalidArguments)
	}
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}

	note, err := env.Notes.Update(threadID, params.NoteID, storage.NoteUpdate{
		Title: params.Title,
		Body:  params.Content,
		Tags:  params.Tags,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Note updated.\nID: %s", note.ID), nil
}

func SaveContext(ctx context.Context, env *tools.Env, params *SaveContextParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: params must be provided", models.ErrInvalidArguments)
	}
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}
	if params.Value == nil {
		return "", fmt.Errorf("%w: value must be provided", models.ErrInvalidArguments)
	}

	entry, err := env.Context.Save(threadID, params.Key, params.Value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Context saved under %q.", entry.Key), nil
}

func LoadContext(ctx context.Context, env *tools.Env, params *LoadContextParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: params must be provided", models.ErrInvalidArguments)
	}
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}

	entry, err := env.Context.Load(threadID, params.Key)
	if err != nil {
		return "", err
	}

	path := strings.TrimSpace(params.Path)
	if path == "" {
		return string(entry.Value), nil
	}
	res := gjson.GetBytes(entry.Value, path)
	if !res.Exists() {
		return "", fmt.Errorf("path %q in context %s: %w", path, entry.Key, models.ErrNotFound)
	}
	return res.Raw, nil
}

func ListContextKeys(ctx context.Context, env *tools.Env) (string, error) {
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}

	keys, err := env.Context.Keys(threadID)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "No context stored in this conversation.", nil
	}
	return "Context keys:\n- " + strings.Join(keys, "\n- "), nil
}

func RenderNote(note *models.Note) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ID: %s\nTitle: %s\n", note.ID, note.Title)
	if len(note.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(note.Tags, ", "))
	}
	fmt.Fprintf(&sb, "Created: %s\n\n%s", time.UnixMilli(note.CreatedAt).Format(time.DateTime), note.Body)
	return sb.String()
}

func snippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	runes := []rune(body)
	if len(runes) <= snippetLength {
		return body
	}
	return string(runes[:snippetLength]) + "..."
}
