package notes

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/deepthread/internal/service/tools"
)

const (
	SaveNoteToolName        = "save_note"
	SaveNoteToolDescription = "Saves a note for this conversation and returns its id. Notes are private to the conversation."

	ReadNoteToolName        = "read_note"
	ReadNoteToolDescription = "Reads a note by id. A unique part of the id is enough."

	ListNotesToolName        = "list_notes"
	ListNotesToolDescription = "Lists the notes of this conversation (id, title and tags, without bodies)."

	SearchNotesToolName        = "search_notes"
	SearchNotesToolDescription = "Finds notes whose title or content contains the query, optionally restricted to a tag."

	UpdateNoteToolName        = "update_note"
	UpdateNoteToolDescription = "Changes the title, content or tags of an existing note. Omitted fields are kept."

	SaveContextToolName        = "save_context"
	SaveContextToolDescription = "Stores a structured value (object, array or scalar) under a key for later recall. Overwrites the key."

	LoadContextToolName        = "load_context"
	LoadContextToolDescription = "Loads the value stored under a key. An optional path (for example items.0.name) selects part of it."

	ListContextKeysToolName        = "list_context_keys"
	ListContextKeysToolDescription = "Lists the keys of every stored context value."
)

type SaveNoteParams struct {
	Title   string   `json:"title" jsonschema:"description=Title of the note."`
	Content string   `json:"content" jsonschema:"description=Body of the note."`
	Tags    []string `json:"tags,omitempty" jsonschema:"description=Optional tags."`
}

type ReadNoteParams struct {
	NoteID string `json:"note_id" jsonschema:"description=Note id or a unique part of it."`
}

type ListNotesParams struct{}

type SearchNotesParams struct {
	Query string `json:"query,omitempty" jsonschema:"description=Text to look for in titles and content."`
	Tag   string `json:"tag,omitempty" jsonschema:"description=Only return notes carrying this tag."`
}

type UpdateNoteParams struct {
	NoteID  string   `json:"note_id" jsonschema:"description=Note id or a unique part of it."`
	Title   *string  `json:"title,omitempty" jsonschema:"description=New title."`
	Content *string  `json:"content,omitempty" jsonschema:"description=New body."`
	Tags    []string `json:"tags,omitempty" jsonschema:"description=New tag set. Replaces the old tags."`
}

type SaveContextParams struct {
	Key   string `json:"key" jsonschema:"description=Key to store the value under."`
	Value any    `json:"value" jsonschema:"description=Value to store. Any JSON value."`
}

type LoadContextParams struct {
	Key  string `json:"key" jsonschema:"description=Key of the stored value."`
	Path string `json:"path,omitempty" jsonschema:"description=Optional path into the value, such as results.0.score."`
}

type ListContextKeysParams struct{}

func GetSaveNoteTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, SaveNoteToolName, SaveNoteToolDescription, func(ctx context.Context, p *SaveNoteParams) (string, error) {
		return SaveNote(ctx, env, p)
	})
}

func GetReadNoteTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, ReadNoteToolName, ReadNoteToolDescription, func(ctx context.Context, p *ReadNoteParams) (string, error) {
		return ReadNote(ctx, env, p)
	})
}

func GetListNotesTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, ListNotesToolName, ListNotesToolDescription, func(ctx context.Context, _ *ListNotesParams) (string, error) {
		return ListNotes(ctx, env)
	})
}

func GetSearchNotesTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, SearchNotesToolName, SearchNotesToolDescription, func(ctx context.Context, p *SearchNotesParams) (string, error) {
		return SearchNotes(ctx, env, p)
	})
}

func GetUpdateNoteTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, UpdateNoteToolName, UpdateNoteToolDescription, func(ctx context.Context, p *UpdateNoteParams) (string, error) {
		return UpdateNote(ctx, env, p)
	})
}

func GetSaveContextTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, SaveContextToolName, SaveContextToolDescription, func(ctx context.Context, p *SaveContextParams) (string, error) {
		return SaveContext(ctx, env, p)
	})
}

func GetLoadContextTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, LoadContextToolName, LoadContextToolDescription, func(ctx context.Context, p *LoadContextParams) (string, error) {
		return LoadContext(ctx, env, p)
	})
}

func GetListContextKeysTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, ListContextKeysToolName, ListContextKeysToolDescription, func(ctx context.Context, _ *ListContextKeysParams) (string, error) {
		return ListContextKeys(ctx, env)
	})
}

func init() {
	tools.RegisterTool(SaveNoteToolName, GetSaveNoteTool)
	tools.RegisterTool(ReadNoteToolName, GetReadNoteTool)
	tools.RegisterTool(ListNotesToolName, GetListNotesTool)
	tools.RegisterTool(SearchNotesToolName, GetSearchNotesTool)
	tools.RegisterTool(UpdateNoteToolName, GetUpdateNoteTool)
	tools.RegisterTool(SaveContextToolName, GetSaveContextTool)
	tools.RegisterTool(LoadContextToolName, GetLoadContextTool)
	tools.RegisterTool(ListContextKeysToolName, GetListContextKeysTool)
}
