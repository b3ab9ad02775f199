package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zjregee/deepthread/internal/config"
	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptStep is one backend response: either an error or the chunks to
// stream. A step with midErr fails after its chunks; one with delay answers
// late.
type scriptStep struct {
	chunks []*schema.Message
	err    error
	midErr error
	delay  time.Duration
}

// scriptedModel replays queued responses in order. Every Stream call consumes
// one step, whichever agent makes it.
type scriptedModel struct {
	mu     sync.Mutex
	steps  []scriptStep
	inputs [][]*schema.Message
	bound  [][]*schema.ToolInfo

	// started receives once per Stream call, before the gate is awaited.
	started chan struct{}
	gate    chan struct{}
}

func newScriptedModel(steps ...scriptStep) *scriptedModel {
	return &scriptedModel{steps: steps}
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	stream, err := m.Stream(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		chunks = append(chunks, chunk)
	}
	return schema.ConcatMessages(chunks)
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	m.inputs = append(m.inputs, append([]*schema.Message(nil), input...))
	idx := len(m.inputs) - 1
	if idx >= len(m.steps) {
		m.mu.Unlock()
		return nil, fmt.Errorf("script exhausted after %d calls", len(m.steps))
	}
	step := m.steps[idx]
	m.mu.Unlock()

	if step.delay > 0 {
		select {
		case <-time.After(step.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.err != nil {
		return nil, step.err
	}
	if step.midErr == nil {
		return schema.StreamReaderFromArray(step.chunks), nil
	}

	sr, sw := schema.Pipe[*schema.Message](len(step.chunks) + 1)
	for _, chunk := range step.chunks {
		sw.Send(chunk, nil)
	}
	sw.Send(nil, step.midErr)
	sw.Close()
	return sr, nil
}

func (m *scriptedModel) WithTools(infos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	m.bound = append(m.bound, infos)
	m.mu.Unlock()
	return m, nil
}

func (m *scriptedModel) input(i int) []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[i]
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func textStep(parts ...string) scriptStep {
	chunks := make([]*schema.Message, 0, len(parts))
	for _, p := range parts {
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, Content: p})
	}
	return scriptStep{chunks: chunks}
}

func usageStep(content string, prompt, completion int) scriptStep {
	return scriptStep{chunks: []*schema.Message{{
		Role:    schema.Assistant,
		Content: content,
		ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}},
	}}}
}

func toolStep(content string, calls ...schema.ToolCall) scriptStep {
	return scriptStep{chunks: []*schema.Message{{
		Role:      schema.Assistant,
		Content:   content,
		ToolCalls: calls,
	}}}
}

func errStep(err error) scriptStep {
	return scriptStep{err: err}
}

// brokenStep streams parts and then fails with err.
func brokenStep(err error, parts ...string) scriptStep {
	step := textStep(parts...)
	step.midErr = err
	return step
}

func delayed(d time.Duration, step scriptStep) scriptStep {
	step.delay = d
	return step
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}
}

func newTestService(t *testing.T, m *scriptedModel, mutate func(cfg *config.Config)) *AgentService {
	t.Helper()

	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "deepthread.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Agent.RetryBackoff = "1ms"
	if mutate != nil {
		mutate(cfg)
	}

	svc, err := NewAgentService(context.Background(), Options{Config: cfg, DB: db, Model: m})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func drain(events <-chan models.StreamEvent) []models.StreamEvent {
	var out []models.StreamEvent
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestSendMessageAnswers(t *testing.T) {
	m := newScriptedModel(textStep("Hello", ", ", "world"))
	svc := newTestService(t, m, nil)

	thread, err := svc.CreateThread(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultThreadTitle, thread.Title)

	result, err := svc.SendMessage(context.Background(), thread.ID, "Say hello")
	require.NoError(t, err)
	assert.Equal(t, thread.ID, result.ThreadID)
	assert.Equal(t, "Hello, world", result.Answer)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.ToolCalls)

	input := m.input(0)
	require.Len(t, input, 2)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Equal(t, schema.User, input[1].Role)
	assert.Equal(t, "Say hello", input[1].Content)

	messages, err := svc.GetMessages(thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, schema.User, messages[0].Role)
	assert.Equal(t, schema.Assistant, messages[1].Role)
	assert.Equal(t, "Hello, world", messages[1].Content)
	assert.Equal(t, []int{1, 2}, []int{messages[0].Seq, messages[1].Seq})
}

func TestStreamMessageEventOrder(t *testing.T) {
	m := newScriptedModel(
		toolStep("Let me compute. ", call("c1", "calculate", `{"expression":"2+3"}`)),
		textStep("The answer ", "is 5."),
	)
	svc := newTestService(t, m, nil)

	events, err := svc.StreamMessage(context.Background(), "t1", "What is 2+3?")
	require.NoError(t, err)
	got := drain(events)

	var types []models.StreamEventType
	var tokens strings.Builder
	terminals := 0
	for _, e := range got {
		types = append(types, e.GetType())
		if tok, ok := e.(models.TokenEvent); ok {
			tokens.WriteString(tok.Content)
		}
		if models.IsTerminal(e) {
			terminals++
		}
	}

	assert.Equal(t, []models.StreamEventType{
		models.StreamEventTypeToken,
		models.StreamEventTypeToolCall,
		models.StreamEventTypeToolResult,
		models.StreamEventTypeToken,
		models.StreamEventTypeToken,
		models.StreamEventTypeDone,
	}, types)
	assert.Equal(t, 1, terminals)

	done, ok := got[len(got)-1].(models.DoneEvent)
	require.True(t, ok)
	assert.Equal(t, tokens.String(), done.Result.Answer)
	assert.Equal(t, "Let me compute. The answer is 5.", done.Result.Answer)

	result, ok := got[2].(models.ToolResultEvent)
	require.True(t, ok)
	assert.Equal(t, "5", result.Content)
	assert.False(t, result.Failed())

	// the observation is fed back as a tool message
	second := m.input(1)
	last := second[len(second)-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Equal(t, "5", last.Content)
}

func TestUnknownToolContinuesLoop(t *testing.T) {
	m := newScriptedModel(
		toolStep("", call("c1", "teleport", `{"to":"mars"}`)),
		textStep("I cannot teleport."),
	)
	svc := newTestService(t, m, nil)

	result, err := svc.SendMessage(context.Background(), "t1", "Go to mars")
	require.NoError(t, err)
	assert.Equal(t, "I cannot teleport.", result.Answer)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "teleport", result.ToolCalls[0].Name)
	assert.Contains(t, result.ToolCalls[0].Error, models.ErrUnknownTool.Error())

	second := m.input(1)
	observation := second[len(second)-1]
	assert.True(t, strings.HasPrefix(observation.Content, "Error:"))
	assert.Contains(t, observation.Content, "available:")
}

func TestInvalidArgumentsReachModel(t *testing.T) {
	m := newScriptedModel(
		toolStep("", call("c1", "calculate", `not json`)),
		toolStep("", call("c2", "calculate", `{"expression":"1/0"}`)),
		textStep("Giving up."),
	)
	svc := newTestService(t, m, nil)

	result, err := svc.SendMessage(context.Background(), "t1", "Divide")
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 2)
	for _, rec := range result.ToolCalls {
		assert.Contains(t, rec.Error, models.ErrInvalidArguments.Error())
		assert.Empty(t, rec.Result)
	}
	assert.Equal(t, 3, result.Iterations)
}

func TestMaxIterationsPreservesRecords(t *testing.T) {
	m := newScriptedModel(
		toolStep("one ", call("c1", "get_current_time", `{}`)),
		toolStep("two ", call("c2", "get_current_time", `{}`)),
		toolStep("three", call("c3", "get_current_time", `{}`)),
	)
	svc := newTestService(t, m, func(cfg *config.Config) {
		cfg.Agent.MaxIterations = 2
	})

	result, err := svc.SendMessage(context.Background(), "t1", "Loop forever")
	require.ErrorIs(t, err, models.ErrMaxIterationsExceeded)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Iterations)
	assert.Len(t, result.ToolCalls, 2)
	assert.Equal(t, "one two ", result.Answer)
	assert.Equal(t, 2, m.calls())

	messages, err := svc.GetMessages("t1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Len(t, messages[1].ToolCalls, 2)
	assert.Equal(t, "one two ", messages[1].Content)
}

func TestMaxIterationsStreamsErrorEvent(t *testing.T) {
	m := newScriptedModel(
		toolStep("", call("c1", "get_current_time", `{}`)),
	)
	svc := newTestService(t, m, func(cfg *config.Config) {
		cfg.Agent.MaxIterations = 1
	})

	events, err := svc.StreamMessage(context.Background(), "t1", "Loop")
	require.NoError(t, err)
	got := drain(events)
	require.NotEmpty(t, got)

	last, ok := got[len(got)-1].(models.ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, last.Error, models.ErrMaxIterationsExceeded.Error())
	require.NotNil(t, last.Result)
	assert.Len(t, last.Result.ToolCalls, 1)
}

func TestBackendRetry(t *testing.T) {
	t.Run("rate limited then ok", func(t *testing.T) {
		m := newScriptedModel(
			errStep(errors.New("status 429: too many requests")),
			errStep(context.DeadlineExceeded),
			textStep("ok"),
		)
		svc := newTestService(t, m, nil)

		result, err := svc.SendMessage(context.Background(), "t1", "hi")
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Answer)
		assert.Equal(t, 3, result.Iterations)
	})

	t.Run("partial stream is discarded", func(t *testing.T) {
		m := newScriptedModel(
			brokenStep(errors.New("429 rate limit"), "Hel"),
			textStep("Hel", "lo"),
		)
		svc := newTestService(t, m, nil)

		events, err := svc.StreamMessage(context.Background(), "t1", "hi")
		require.NoError(t, err)

		var tokens strings.Builder
		got := drain(events)
		for _, e := range got {
			if tok, ok := e.(models.TokenEvent); ok {
				tokens.WriteString(tok.Content)
			}
		}
		assert.Equal(t, "Hello", tokens.String())

		done, ok := got[len(got)-1].(models.DoneEvent)
		require.True(t, ok)
		assert.Equal(t, "Hello", done.Result.Answer)
		assert.Equal(t, 2, done.Result.Iterations)

		messages, err := svc.GetMessages("t1")
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "Hello", messages[1].Content)
	})

	t.Run("retries exhausted", func(t *testing.T) {
		m := newScriptedModel(
			errStep(errors.New("429")),
			errStep(errors.New("429")),
		)
		svc := newTestService(t, m, func(cfg *config.Config) {
			cfg.Agent.MaxBackendRetries = 1
		})

		_, err := svc.SendMessage(context.Background(), "t1", "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agent generation failed")
		assert.Equal(t, 2, m.calls())
	})

	t.Run("fatal error is not retried", func(t *testing.T) {
		m := newScriptedModel(errStep(errors.New("invalid api key")))
		svc := newTestService(t, m, nil)

		_, err := svc.SendMessage(context.Background(), "t1", "hi")
		require.Error(t, err)
		assert.Equal(t, 1, m.calls())

		// the user message survives a failed turn
		messages, err := svc.GetMessages("t1")
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, schema.User, messages[0].Role)
	})
}

func TestUsageAccumulates(t *testing.T) {
	m := newScriptedModel(
		usageStep("first", 10, 5),
		usageStep("second", 20, 7),
	)
	svc := newTestService(t, m, nil)

	_, err := svc.SendMessage(context.Background(), "t1", "one")
	require.NoError(t, err)
	_, err = svc.SendMessage(context.Background(), "t1", "two")
	require.NoError(t, err)

	thread, err := svc.GetThread("t1")
	require.NoError(t, err)
	require.NotNil(t, thread.Info.Usage)
	assert.Equal(t, 30, thread.Info.Usage.PromptTokens)
	assert.Equal(t, 12, thread.Info.Usage.CompletionTokens)
	assert.Equal(t, 42, thread.Info.Usage.TotalTokens)

	// the second turn replays the first as plain text
	input := m.input(1)
	require.Len(t, input, 4)
	assert.Equal(t, "one", input[1].Content)
	assert.Equal(t, "first", input[2].Content)
	assert.Equal(t, "two", input[3].Content)
}

func TestHistoryLimit(t *testing.T) {
	m := newScriptedModel(textStep("a"), textStep("b"), textStep("c"))
	svc := newTestService(t, m, func(cfg *config.Config) {
		cfg.Agent.HistoryLimit = 2
	})

	for _, msg := range []string{"1", "2", "3"} {
		_, err := svc.SendMessage(context.Background(), "t1", msg)
		require.NoError(t, err)
	}

	input := m.input(2)
	require.Len(t, input, 4)
	assert.Equal(t, "2", input[1].Content)
	assert.Equal(t, "b", input[2].Content)
	assert.Equal(t, "3", input[3].Content)
}

func TestApplyDefaults(t *testing.T) {
	cfg := models.AgentConfig{RetryBackoff: 0, MaxIterations: 0, ModelTimeout: -time.Second}
	applyDefaults(&cfg)
	assert.Equal(t, defaultRetryBackoff, cfg.RetryBackoff)
	assert.Equal(t, defaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, defaultModelTimeout, cfg.ModelTimeout)

	cfg = models.AgentConfig{RetryBackoff: time.Millisecond}
	applyDefaults(&cfg)
	assert.Equal(t, time.Millisecond, cfg.RetryBackoff)
}
