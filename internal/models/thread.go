package models

import (
	"github.com/cloudwego/eino/schema"
)

const DefaultThreadTitle = "New chat"

type ThreadInfo struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	TitleEdited  bool        `json:"title_edited"`
	CreatedAt    int64       `json:"created_at"`
	UpdatedAt    int64       `json:"updated_at"`
	MessageCount int         `json:"message_count"`
	Usage        *AgentUsage `json:"usage,omitempty"`
}

// Thread is a ThreadInfo together with its ordered message log.
type Thread struct {
	Info     *ThreadInfo      `json:"info"`
	Messages []*ThreadMessage `json:"messages"`
}

// ThreadMessage is one entry of a thread's append-only log. Role is either
// schema.User or schema.Assistant; tool traffic is folded into ToolCalls.
type ThreadMessage struct {
	Seq       int               `json:"seq"`
	Role      schema.RoleType   `json:"role"`
	Content   string            `json:"content"`
	Timestamp int64             `json:"timestamp"`
	ToolCalls []*ToolCallRecord `json:"tool_calls,omitempty"`
}

// ToolCallRecord is the persisted trace of a single tool call. Handoffs carry
// the sub-agent name and the calls that sub-agent issued.
type ToolCallRecord struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Arguments string            `json:"arguments"`
	Result    string            `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Agent     string            `json:"agent,omitempty"`
	SubCalls  []*ToolCallRecord `json:"sub_calls,omitempty"`
}

// TurnResult is what a non-streaming turn returns to the caller.
type TurnResult struct {
	ThreadID   string            `json:"thread_id"`
	Answer     string            `json:"answer"`
	ToolCalls  []*ToolCallRecord `json:"tool_calls"`
	Iterations int               `json:"iterations"`
}
