package app

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjregee/deepthread/internal/config"
	"github.com/zjregee/deepthread/internal/models"
)

// cannedModel answers each Stream call with the next queued message.
type cannedModel struct {
	mu      sync.Mutex
	replies []*schema.Message
}

func (m *cannedModel) next() (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return nil, fmt.Errorf("no more replies")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func (m *cannedModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return m.next()
}

func (m *cannedModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	reply, err := m.next()
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{reply}), nil
}

func (m *cannedModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func useModel(t *testing.T, replies ...*schema.Message) {
	t.Helper()
	m := &cannedModel{replies: replies}
	prev := newChatModel
	newChatModel = func(context.Context, config.ModelConfig) (model.ToolCallingChatModel, error) {
		return m, nil
	}
	t.Cleanup(func() { newChatModel = prev })
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DEEPTHREAD_DATA_DIR", dir)
	t.Setenv("DEEPTHREAD_LOG_LEVEL", "error")
	return filepath.Join(dir, "config.yaml")
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestThreadsCommands(t *testing.T) {
	cfgPath := setupEnv(t)

	out, err := run(t, cfgPath, "threads", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No threads yet")

	out, err = run(t, cfgPath, "threads", "create", "Trip", "ideas")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = run(t, cfgPath, "threads", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Trip ideas")

	out, err = run(t, cfgPath, "threads", "rename", id, "Kyoto", "trip")
	require.NoError(t, err)
	assert.Contains(t, out, `"Kyoto trip"`)

	out, err = run(t, cfgPath, "threads", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Kyoto trip")

	_, err = run(t, cfgPath, "threads", "delete", id)
	require.NoError(t, err)

	_, err = run(t, cfgPath, "threads", "show", id)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Contains(t, describeError(err), "threads list")
}

func TestChatStreamsAndPersists(t *testing.T) {
	cfgPath := setupEnv(t)
	useModel(t,
		&schema.Message{
			Role:    schema.Assistant,
			Content: "Planning. ",
			ToolCalls: []schema.ToolCall{{
				ID:       "p1",
				Type:     "function",
				Function: schema.FunctionCall{Name: "create_plan", Arguments: `{"task":"Trip","steps":["Book","Pack"]}`},
			}, {
				ID:       "x1",
				Type:     "function",
				Function: schema.FunctionCall{Name: "save_context", Arguments: `{"key":"budget","value":{"total":1200,"items":[{"name":"hotel"}]}}`},
			}},
		},
		&schema.Message{Role: schema.Assistant, Content: "Your plan is ready."},
	)

	out, err := run(t, cfgPath, "chat", "trip", "Plan", "my", "trip")
	require.NoError(t, err)
	assert.Contains(t, out, "Planning. ")
	assert.Contains(t, out, "→ create_plan")
	assert.Contains(t, out, "✓ create_plan")
	assert.Contains(t, out, "Your plan is ready.")
	assert.Contains(t, out, "(2 iterations, 2 tool calls)")

	out, err = run(t, cfgPath, "plan", "show", "trip")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan: Trip")
	assert.Contains(t, out, "1. [ ] Book")

	out, err = run(t, cfgPath, "context", "list", "trip")
	require.NoError(t, err)
	assert.Equal(t, "budget\n", out)

	out, err = run(t, cfgPath, "context", "get", "trip", "budget", "--path", "items.0.name")
	require.NoError(t, err)
	assert.Equal(t, "\"hotel\"\n", out)

	_, err = run(t, cfgPath, "context", "get", "trip", "budget", "--path", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	out, err = run(t, cfgPath, "threads", "show", "trip", "--tools")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan my trip")
	assert.Contains(t, out, "- create_plan")

	out, err = run(t, cfgPath, "notes", "list", "trip")
	require.NoError(t, err)
	assert.Contains(t, out, "No notes saved")
}

func TestChatNoStream(t *testing.T) {
	cfgPath := setupEnv(t)
	useModel(t, &schema.Message{Role: schema.Assistant, Content: "用Go写"})

	out, err := run(t, cfgPath, "chat", "t1", "hello", "--no-stream")
	require.NoError(t, err)
	assert.Equal(t, "用 Go 写\n", out)
}

func TestPlanShowWithoutPlan(t *testing.T) {
	cfgPath := setupEnv(t)

	_, err := run(t, cfgPath, "threads", "create")
	require.NoError(t, err)

	out, err := run(t, cfgPath, "plan", "show", "nothing-here")
	require.NoError(t, err)
	assert.Contains(t, out, "No plan exists")
}

func TestAgentsAndModels(t *testing.T) {
	cfgPath := setupEnv(t)

	out, err := run(t, cfgPath, "agents", "list")
	require.NoError(t, err)
	for _, name := range []string{"research", "analyst", "conversation"} {
		assert.Contains(t, out, name)
	}

	out, err = run(t, cfgPath, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "deepseek-chat")
	assert.Contains(t, out, "(configured)")
}

func TestFormatThreadMessage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain text", "plain text"},
		{"使用Go语言", "使用 Go 语言"},
		{"版本v1.2发布", "版本 v1.2 发布"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatThreadMessage(tt.in))
	}
}
