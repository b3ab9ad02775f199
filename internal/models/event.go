package models

type StreamEventType string

const (
	StreamEventTypeToken      StreamEventType = "token"
	StreamEventTypeToolCall   StreamEventType = "tool_call"
	StreamEventTypeToolResult StreamEventType = "tool_result"
	StreamEventTypeDone       StreamEventType = "done"
	StreamEventTypeError      StreamEventType = "error"
)

type StreamEvent interface {
	GetType() StreamEventType
}

type TokenEvent struct {
	Content string `json:"content"`
}

func (e TokenEvent) GetType() StreamEventType {
	return StreamEventTypeToken
}

type ToolCallEvent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (e ToolCallEvent) GetType() StreamEventType {
	return StreamEventTypeToolCall
}

type ToolResultEvent struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

func (e ToolResultEvent) GetType() StreamEventType {
	return StreamEventTypeToolResult
}

func (e ToolResultEvent) Failed() bool {
	return e.Error != ""
}

type DoneEvent struct {
	Result *TurnResult `json:"result"`
}

func (e DoneEvent) GetType() StreamEventType {
	return StreamEventTypeDone
}

type ErrorEvent struct {
	Error string `json:"error"`
	// Result carries whatever the turn completed before failing.
	Result *TurnResult `json:"result,omitempty"`
}

func (e ErrorEvent) GetType() StreamEventType {
	return StreamEventTypeError
}

func IsTerminal(e StreamEvent) bool {
	t := e.GetType()
	return t == StreamEventTypeDone || t == StreamEventTypeError
}
