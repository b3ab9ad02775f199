package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/zjregee/deepthread/internal/models"
)

type threadIDKey struct{}

type subAgentKey struct{}

type traceKey struct{}

func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey{}, threadID)
}

// ThreadIDFrom returns the thread the current tool call belongs to.
func ThreadIDFrom(ctx context.Context) (string, error) {
	id, _ := ctx.Value(threadIDKey{}).(string)
	if id == "" {
		return "", fmt.Errorf("%w: no thread bound to this tool call", models.ErrInvalidArguments)
	}
	return id, nil
}

// WithSubAgent marks ctx as running inside the named sub-agent.
func WithSubAgent(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, subAgentKey{}, name)
}

func SubAgentFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(subAgentKey{}).(string)
	return name, ok && name != ""
}

// CallTrace collects what a single tool call wants attached to its record
// beyond the result text. Once collected it ignores further writes, so a tool
// that outlives its call cannot change a record that was already built.
type CallTrace struct {
	mu        sync.Mutex
	collected bool
	agent     string
	subCalls  []*models.ToolCallRecord
}

// Attach records the sub-agent run behind the call.
func (t *CallTrace) Attach(agent string, subCalls []*models.ToolCallRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.collected {
		return
	}
	t.agent = agent
	t.subCalls = subCalls
}

// Collect returns what was attached and closes the trace.
func (t *CallTrace) Collect() (string, []*models.ToolCallRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.collected = true
	return t.agent, t.subCalls
}

func WithCallTrace(ctx context.Context, trace *CallTrace) context.Context {
	return context.WithValue(ctx, traceKey{}, trace)
}

func CallTraceFrom(ctx context.Context) *CallTrace {
	trace, _ := ctx.Value(traceKey{}).(*CallTrace)
	return trace
}
