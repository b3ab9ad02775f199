package service

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zjregee/deepthread/internal/config"
	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/agents"
	"github.com/zjregee/deepthread/internal/service/storage"
	"github.com/zjregee/deepthread/internal/service/tools"
	"github.com/zjregee/deepthread/internal/service/tools/handoff"
	"github.com/zjregee/deepthread/internal/utils"

	_ "github.com/zjregee/deepthread/internal/service/tools/notes"
	_ "github.com/zjregee/deepthread/internal/service/tools/planning"
	_ "github.com/zjregee/deepthread/internal/service/tools/utility"
)

//go:embed assets/prompts/coordinator.txt
var coordinatorPrompt string

const maxTitleRunes = 48

type Options struct {
	Config *config.Config
	DB     *storage.DB
	// Model is the inference backend shared by the coordinator and every
	// sub-agent. Without one the service can still read and manage threads,
	// but cannot run turns.
	Model  model.ToolCallingChatModel
	Agents *agents.Registry
	Logger *zap.Logger
}

// AgentService owns the threads and runs turns against them. At most one turn
// is in flight per thread.
type AgentService struct {
	cfg    *config.Config
	stores *storage.Stores
	model  model.ToolCallingChatModel
	agents *agents.Registry
	router *tools.Router
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	turns    sync.WaitGroup
}

func NewAgentService(ctx context.Context, opts Options) (*AgentService, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("agent service needs a database")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := opts.Agents
	if registry == nil {
		var err error
		registry, err = agents.LoadRegistry(cfg.AgentsFile, cfg.Agent.MaxConcurrentSubAgents)
		if err != nil {
			return nil, err
		}
	}

	s := &AgentService{
		cfg:      cfg,
		stores:   storage.NewStores(opts.DB),
		model:    opts.Model,
		agents:   registry,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}

	env := &tools.Env{
		Plans:   s.stores.Plans,
		Notes:   s.stores.Notes,
		Context: s.stores.Context,
	}
	env.Delegator = &subAgentRunner{
		registry:        registry,
		threads:         s.stores.Threads,
		model:           opts.Model,
		env:             env,
		logger:          logger.Named("subagent"),
		base:            s.agentConfig(),
		timeout:         cfg.SubAgentTimeout(),
		contextMessages: cfg.Agent.HandoffContextMessages,
	}

	router, err := tools.NewRouter(ctx, env, nil,
		tools.WithTimeout(cfg.ToolTimeout()),
		tools.WithToolTimeout(handoff.DelegateTaskToolName, handoffTimeout(cfg)),
		tools.WithLogger(logger.Named("tools")))
	if err != nil {
		return nil, err
	}
	s.router = router

	return s, nil
}

// handoffTimeout bounds delegate_task. A sub-agent past its own deadline
// still finishes the step in flight, which is a backend call or a tool call.
func handoffTimeout(cfg *config.Config) time.Duration {
	return cfg.SubAgentTimeout() + max(cfg.ModelTimeout(), cfg.ToolTimeout())
}

func (s *AgentService) agentConfig() models.AgentConfig {
	return models.AgentConfig{
		Name:              "coordinator",
		SystemPrompt:      s.systemPrompt(),
		MaxIterations:     s.cfg.Agent.MaxIterations,
		MaxBackendRetries: s.cfg.Agent.MaxBackendRetries,
		RequestInterval:   s.cfg.RequestInterval(),
		RetryBackoff:      s.cfg.RetryBackoff(),
		ModelTimeout:      s.cfg.ModelTimeout(),
		ToolTimeout:       s.cfg.ToolTimeout(),
	}
}

func (s *AgentService) systemPrompt() string {
	if prompt := strings.TrimSpace(s.cfg.Agent.SystemPrompt); prompt != "" {
		return prompt
	}
	return strings.ReplaceAll(coordinatorPrompt, "[SYSTEM_TIME]", time.Now().Format(time.RFC3339))
}

// Close waits for in-flight turns to finish. It does not close the database.
func (s *AgentService) Close() {
	s.turns.Wait()
}

func (s *AgentService) ListModels() []*models.ModelInfo {
	return ListModels()
}

func (s *AgentService) ListAgents() []*models.SubAgentProfile {
	return s.agents.Profiles()
}

func (s *AgentService) ToolNames() []string {
	return s.router.Names()
}

func (s *AgentService) CreateThread(ctx context.Context, title string) (*models.ThreadInfo, error) {
	return s.createThread(utils.NewID(), title)
}

func (s *AgentService) createThread(id, title string) (*models.ThreadInfo, error) {
	title = strings.TrimSpace(title)
	edited := title != ""
	if !edited {
		title = models.DefaultThreadTitle
	}

	now := time.Now().UnixMilli()
	info := &models.ThreadInfo{
		ID:          id,
		Title:       title,
		TitleEdited: edited,
		CreatedAt:   now,
		UpdatedAt:   now,
		Usage:       &models.AgentUsage{},
	}
	if err := s.stores.Threads.Create(info); err != nil {
		return nil, err
	}

	s.logger.Info("thread created", zap.String("thread_id", id))
	return info, nil
}

func (s *AgentService) GetThread(id string) (*models.Thread, error) {
	return s.stores.Threads.Get(id)
}

func (s *AgentService) ListThreads() ([]*models.ThreadInfo, error) {
	return s.stores.Threads.List()
}

func (s *AgentService) RenameThread(id, title string) (*models.ThreadInfo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", models.ErrInvalidArguments)
	}
	return s.stores.Threads.Update(id, func(info *models.ThreadInfo) error {
		info.Title = title
		info.TitleEdited = true
		info.UpdatedAt = time.Now().UnixMilli()
		return nil
	})
}

// DeleteThread removes the thread and everything it owns. A thread with a
// turn in flight cannot be deleted.
func (s *AgentService) DeleteThread(id string) error {
	if err := storage.ValidateThreadID(id); err != nil {
		return err
	}
	if !s.tryAcquire(id) {
		return fmt.Errorf("%w: %s", models.ErrThreadBusy, id)
	}
	defer s.release(id)

	if err := s.stores.Threads.Delete(id); err != nil {
		return err
	}
	s.logger.Info("thread deleted", zap.String("thread_id", id))
	return nil
}

func (s *AgentService) AppendMessage(id string, msg *models.ThreadMessage) (*models.ThreadInfo, error) {
	return s.stores.Threads.AppendMessage(id, msg)
}

func (s *AgentService) GetMessages(id string) ([]*models.ThreadMessage, error) {
	return s.stores.Threads.Messages(id)
}

func (s *AgentService) GetPlan(id string) (*models.Plan, error) {
	return s.stores.Plans.Get(id)
}

func (s *AgentService) ListNotes(id string) ([]*models.NoteSummary, error) {
	return s.stores.Notes.List(id)
}

func (s *AgentService) ReadNote(id, noteID string) (*models.Note, error) {
	return s.stores.Notes.Get(id, noteID)
}

func (s *AgentService) ListContextKeys(id string) ([]string, error) {
	return s.stores.Context.Keys(id)
}

func (s *AgentService) LoadContext(id, key string) (*models.ContextEntry, error) {
	return s.stores.Context.Load(id, key)
}

func (s *AgentService) tryAcquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *AgentService) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// SendMessage runs a full turn and returns its result. On failure the partial
// result is returned alongside the error.
func (s *AgentService) SendMessage(ctx context.Context, id, content string) (*models.TurnResult, error) {
	if err := s.startTurn(id, content); err != nil {
		return nil, err
	}
	defer s.turns.Done()
	defer s.release(id)

	return s.runTurn(ctx, id, content, nil)
}

// StreamMessage starts a turn and returns its events. The channel carries
// exactly one terminal event (done or error) and is then closed. If ctx is
// cancelled the remaining events are dropped and the turn stops after its
// in-flight step.
func (s *AgentService) StreamMessage(ctx context.Context, id, content string) (<-chan models.StreamEvent, error) {
	if err := s.startTurn(id, content); err != nil {
		return nil, err
	}

	events := make(chan models.StreamEvent)
	emit := func(e models.StreamEvent) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}

	go func() {
		defer s.turns.Done()
		defer close(events)

		result, err := func() (*models.TurnResult, error) {
			defer s.release(id)
			return s.runTurn(ctx, id, content, emit)
		}()
		if err != nil {
			emit(models.ErrorEvent{Error: err.Error(), Result: result})
			return
		}
		emit(models.DoneEvent{Result: result})
	}()

	return events, nil
}

func (s *AgentService) startTurn(id, content string) error {
	if err := storage.ValidateThreadID(id); err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message cannot be empty", models.ErrInvalidArguments)
	}
	if s.model == nil {
		return fmt.Errorf("no chat model configured")
	}
	if !s.tryAcquire(id) {
		return fmt.Errorf("%w: %s", models.ErrThreadBusy, id)
	}
	s.turns.Add(1)
	return nil
}

// runTurn persists the user message, runs the loop and persists whatever the
// loop produced. The caller holds the thread's slot.
func (s *AgentService) runTurn(ctx context.Context, id, content string, emit emitFunc) (*models.TurnResult, error) {
	logger := s.logger.With(zap.String("thread_id", id))

	info, err := s.stores.Threads.GetInfo(id)
	if errors.Is(err, models.ErrNotFound) {
		info, err = s.createThread(id, "")
	}
	if err != nil {
		return nil, err
	}

	prior, err := s.stores.Threads.Messages(id)
	if err != nil {
		return nil, err
	}

	if _, err := s.stores.Threads.AppendMessage(id, &models.ThreadMessage{
		Role:    schema.User,
		Content: content,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	if !info.TitleEdited && !hasUserMessage(prior) {
		s.autoTitle(id, content)
	}

	agent, err := NewAgent(s.agentConfig(), s.model, s.router, s.logger.Named("agent"))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, runErr := agent.Run(ctx, id, s.buildHistory(agent.config.SystemPrompt, prior, content), emit)
	result := &models.TurnResult{
		ThreadID:   id,
		Answer:     res.Answer,
		ToolCalls:  res.ToolCalls,
		Iterations: res.Iterations,
	}

	if res.Answer != "" || len(res.ToolCalls) > 0 {
		if _, err := s.stores.Threads.AppendMessage(id, &models.ThreadMessage{
			Role:      schema.Assistant,
			Content:   res.Answer,
			ToolCalls: res.ToolCalls,
		}); err != nil {
			logger.Error("failed to persist assistant message", zap.Error(err))
			if runErr == nil {
				runErr = fmt.Errorf("failed to persist assistant message: %w", err)
			}
		}
	}
	s.recordUsage(id, res.Usage)

	logger.Info("turn finished",
		zap.Int("iteration", res.Iterations),
		zap.Int("tool_calls", len(res.ToolCalls)),
		zap.Duration("duration", time.Since(start)),
		zap.Error(runErr))

	return result, runErr
}

// buildHistory replays the stored conversation as plain user/assistant text.
// Tool traffic from earlier turns is not replayed.
func (s *AgentService) buildHistory(systemPrompt string, prior []*models.ThreadMessage, content string) []*schema.Message {
	if limit := s.cfg.Agent.HistoryLimit; limit > 0 && len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}

	history := make([]*schema.Message, 0, len(prior)+2)
	history = append(history, schema.SystemMessage(systemPrompt))
	for _, msg := range prior {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			history = append(history, schema.UserMessage(msg.Content))
		case schema.Assistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return append(history, schema.UserMessage(content))
}

func (s *AgentService) autoTitle(id, content string) {
	title := generateTitle(content)
	if title == "" {
		return
	}
	_, err := s.stores.Threads.Update(id, func(info *models.ThreadInfo) error {
		if !info.TitleEdited {
			info.Title = title
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to set thread title", zap.String("thread_id", id), zap.Error(err))
	}
}

func (s *AgentService) recordUsage(id string, usage *models.AgentUsage) {
	if usage == nil || usage.TotalTokens == 0 {
		return
	}
	_, err := s.stores.Threads.Update(id, func(info *models.ThreadInfo) error {
		if info.Usage == nil {
			info.Usage = &models.AgentUsage{}
		}
		info.Usage.Add(usage)
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to record usage", zap.String("thread_id", id), zap.Error(err))
	}
}

func hasUserMessage(messages []*models.ThreadMessage) bool {
	for _, msg := range messages {
		if msg.Role == schema.User {
			return true
		}
	}
	return false
}

// generateTitle derives a title from the first line of a message.
func generateTitle(content string) string {
	line := strings.TrimSpace(content)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Trim(line, "\"'`“”‘’")
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}

	if utf8.RuneCountInString(line) > maxTitleRunes {
		runes := []rune(line)
		line = strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
	}
	return line
}
