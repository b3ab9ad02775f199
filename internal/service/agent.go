package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/tools"
)

const (
	defaultMaxIterations = 10
	defaultModelTimeout  = 90 * time.Second
	defaultRetryBackoff  = 3 * time.Second

	maxRecordResultRunes = 2000
	emptyAnswerFallback  = "Sorry, I couldn't generate a meaningful response."
)

// emitFunc receives loop events in the order they are produced. It may be nil.
type emitFunc func(models.StreamEvent)

// Agent runs the reason/act loop for one turn: stream a response, execute
// the tool calls it asks for, feed the observations back, repeat.
type Agent struct {
	config models.AgentConfig
	model  model.ToolCallingChatModel
	router *tools.Router
	logger *zap.Logger

	lastRequest time.Time
}

// runResult is everything a turn produced, whether or not it finished.
type runResult struct {
	Answer     string
	ToolCalls  []*models.ToolCallRecord
	Iterations int
	Usage      *models.AgentUsage
}

func applyDefaults(c *models.AgentConfig) {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.MaxBackendRetries < 0 {
		c.MaxBackendRetries = 0
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = defaultModelTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
}

func NewAgent(cfg models.AgentConfig, chatModel model.ToolCallingChatModel, router *tools.Router, logger *zap.Logger) (*Agent, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("agent model is required")
	}
	if router == nil {
		return nil, fmt.Errorf("agent router is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	applyDefaults(&cfg)

	return &Agent{
		config: cfg,
		model:  chatModel,
		router: router,
		logger: logger,
	}, nil
}

// Run drives the loop over messages, which must already hold the system
// prompt, the replayed history and the new user message. The returned result
// is never nil, even when err is not.
func (a *Agent) Run(ctx context.Context, threadID string, messages []*schema.Message, emit emitFunc) (*runResult, error) {
	if emit == nil {
		emit = func(models.StreamEvent) {}
	}
	result := &runResult{
		ToolCalls: []*models.ToolCallRecord{},
		Usage:     &models.AgentUsage{},
	}
	logger := a.logger.With(zap.String("thread_id", threadID), zap.String("agent", a.config.Name))

	modelWithTools, err := a.model.WithTools(a.router.ToolInfos())
	if err != nil {
		return result, fmt.Errorf("failed to bind tools: %w", err)
	}

	history := append([]*schema.Message(nil), messages...)
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %w", models.ErrTurnCancelled, err)
		}
		if result.Iterations >= a.config.MaxIterations {
			logger.Warn("iteration limit reached", zap.Int("iteration", result.Iterations))
			return result, fmt.Errorf("%w: stopped after %d iterations", models.ErrMaxIterationsExceeded, a.config.MaxIterations)
		}
		result.Iterations++

		if err := a.waitForNextTurn(ctx); err != nil {
			return result, fmt.Errorf("%w: %w", models.ErrTurnCancelled, err)
		}

		start := time.Now()
		response, err := a.generate(ctx, modelWithTools, history, func(chunk string) {
			result.Answer += chunk
			emit(models.TokenEvent{Content: chunk})
		})
		if err != nil {
			if isRetryable(err) && retries < a.config.MaxBackendRetries {
				retries++
				logger.Warn("backend call failed, retrying",
					zap.Int("iteration", result.Iterations),
					zap.Int("retry", retries),
					zap.Error(err))
				if err := sleepCtx(ctx, a.config.RetryBackoff); err != nil {
					return result, fmt.Errorf("%w: %w", models.ErrTurnCancelled, err)
				}
				continue
			}
			return result, fmt.Errorf("agent generation failed: %w", err)
		}
		logger.Debug("backend call finished",
			zap.Int("iteration", result.Iterations),
			zap.Duration("duration", time.Since(start)),
			zap.Int("tool_calls", len(response.ToolCalls)))

		if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
			usage := response.ResponseMeta.Usage
			result.Usage.Add(&models.AgentUsage{
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
			})
		}

		history = append(history, response)

		if len(response.ToolCalls) == 0 {
			if strings.TrimSpace(result.Answer) == "" {
				result.Answer += emptyAnswerFallback
				emit(models.TokenEvent{Content: emptyAnswerFallback})
			}
			return result, nil
		}

		for _, call := range response.ToolCalls {
			if err := ctx.Err(); err != nil {
				return result, fmt.Errorf("%w: %w", models.ErrTurnCancelled, err)
			}

			emit(models.ToolCallEvent{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})

			record, content := a.invokeTool(ctx, threadID, call)
			result.ToolCalls = append(result.ToolCalls, record)
			if record.Error != "" {
				logger.Info("tool call failed", zap.String("tool", record.Name), zap.String("error", record.Error))
			}

			emit(models.ToolResultEvent{
				ID:      call.ID,
				Name:    call.Function.Name,
				Content: content,
				Error:   record.Error,
			})

			history = append(history, &schema.Message{
				Role:       schema.Tool,
				ToolCallID: call.ID,
				Content:    content,
			})
		}
	}
}

func (a *Agent) waitForNextTurn(ctx context.Context) error {
	if a.config.RequestInterval <= 0 {
		return nil
	}

	if a.lastRequest.IsZero() {
		a.lastRequest = time.Now()
		return nil
	}

	elapsed := time.Since(a.lastRequest)
	if err := sleepCtx(ctx, a.config.RequestInterval-elapsed); err != nil {
		return err
	}
	a.lastRequest = time.Now()
	return nil
}

// generate streams one backend response. The call is detached from the
// caller's cancellation and bounded by ModelTimeout instead, so an in-flight
// response is always read to the end. Its text reaches onToken chunk by chunk
// only once the whole response has arrived, so an attempt that fails midway
// and is retried leaves nothing behind.
func (a *Agent) generate(ctx context.Context, chatModel model.ToolCallingChatModel, history []*schema.Message, onToken func(string)) (*schema.Message, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.ModelTimeout)
	defer cancel()

	stream, err := chatModel.Stream(callCtx, history)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
	}

	for _, chunk := range chunks {
		if chunk.Content != "" {
			onToken(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return &schema.Message{Role: schema.Assistant}, nil
	}
	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to concat response chunks: %w", err)
	}
	response.Role = schema.Assistant
	return response, nil
}

// invokeTool dispatches one call and returns its record together with the
// observation text handed back to the model.
func (a *Agent) invokeTool(ctx context.Context, threadID string, call schema.ToolCall) (*models.ToolCallRecord, string) {
	trace := &tools.CallTrace{}
	toolCtx := tools.WithCallTrace(tools.WithThreadID(context.WithoutCancel(ctx), threadID), trace)

	record := &models.ToolCallRecord{
		ID:        call.ID,
		Name:      call.Function.Name,
		Arguments: call.Function.Arguments,
	}

	output, err := a.router.Dispatch(toolCtx, call)
	record.Agent, record.SubCalls = trace.Collect()
	if err != nil {
		record.Error = err.Error()
		return record, "Error: " + err.Error()
	}

	record.Result = truncateRunes(output, maxRecordResultRunes)
	return record, output
}

func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
