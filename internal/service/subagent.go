package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/agents"
	"github.com/zjregee/deepthread/internal/service/storage"
	"github.com/zjregee/deepthread/internal/service/tools"
	"github.com/zjregee/deepthread/internal/utils"
)

const (
	defaultSubAgentTimeout  = 5 * time.Minute
	handoffMessageRuneLimit = 600
)

// subAgentRunner runs delegated subtasks. Each run is a fresh Agent with the
// profile's prompt and a router limited to the profile's tools.
type subAgentRunner struct {
	registry *agents.Registry
	threads  *storage.ThreadStore
	model    model.ToolCallingChatModel
	env      *tools.Env
	logger   *zap.Logger

	base            models.AgentConfig
	timeout         time.Duration
	contextMessages int
}

func (r *subAgentRunner) Profiles() []*models.SubAgentProfile {
	return r.registry.Profiles()
}

func (r *subAgentRunner) Delegate(ctx context.Context, req *tools.DelegateRequest) (*tools.DelegateResult, error) {
	profile, err := r.registry.Get(req.Agent)
	if err != nil {
		return nil, err
	}

	release, err := r.registry.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	router, err := tools.NewRouter(ctx, r.env, profile.Tools,
		tools.WithTimeout(r.base.ToolTimeout),
		tools.WithLogger(r.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build tools for agent %s: %w", profile.Name, err)
	}

	cfg := r.base
	cfg.Name = profile.Name
	cfg.SystemPrompt = profile.Prompt
	cfg.MaxIterations = profile.MaxIterations

	logger := r.logger.With(zap.String("run_id", utils.ShortID()))
	agent, err := NewAgent(cfg, r.model, router, logger)
	if err != nil {
		return nil, err
	}

	messages := []*schema.Message{
		schema.SystemMessage(profile.Prompt),
		schema.UserMessage(r.buildBrief(req)),
	}

	timeout := r.timeout
	if timeout <= 0 {
		timeout = defaultSubAgentTimeout
	}
	runCtx, cancel := context.WithTimeout(tools.WithSubAgent(ctx, profile.Name), timeout)
	defer cancel()

	start := time.Now()
	res, err := agent.Run(runCtx, req.ThreadID, messages, nil)
	logger.Info("sub-agent finished",
		zap.String("thread_id", req.ThreadID),
		zap.String("agent", profile.Name),
		zap.Int("iteration", res.Iterations),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))

	r.recordUsage(req.ThreadID, res.Usage)

	result := &tools.DelegateResult{
		Agent:      profile.Name,
		Answer:     res.Answer,
		ToolCalls:  res.ToolCalls,
		Iterations: res.Iterations,
	}
	if errors.Is(err, models.ErrMaxIterationsExceeded) {
		result.Answer = strings.TrimSpace(result.Answer + "\n\n(The agent stopped after reaching its iteration limit.)")
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("agent %s failed: %w", profile.Name, err)
	}
	return result, nil
}

// buildBrief is the sub-agent's only view of the conversation: a short excerpt
// of recent messages, the coordinator's context and the task.
func (r *subAgentRunner) buildBrief(req *tools.DelegateRequest) string {
	var sb strings.Builder

	if excerpt := r.conversationExcerpt(req.ThreadID); excerpt != "" {
		sb.WriteString("Recent conversation:\n")
		sb.WriteString(excerpt)
		sb.WriteString("\n\n")
	}
	if req.Context != "" {
		sb.WriteString("Context from the coordinator:\n")
		sb.WriteString(req.Context)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Task:\n")
	sb.WriteString(req.Task)
	return sb.String()
}

func (r *subAgentRunner) conversationExcerpt(threadID string) string {
	if r.contextMessages <= 0 || r.threads == nil {
		return ""
	}

	messages, err := r.threads.Messages(threadID)
	if err != nil {
		r.logger.Debug("no conversation for handoff", zap.String("thread_id", threadID), zap.Error(err))
		return ""
	}
	if len(messages) > r.contextMessages {
		messages = messages[len(messages)-r.contextMessages:]
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", msg.Role, truncateRunes(content, handoffMessageRuneLimit)))
	}
	return strings.Join(lines, "\n")
}

func (r *subAgentRunner) recordUsage(threadID string, usage *models.AgentUsage) {
	if r.threads == nil || usage == nil || usage.TotalTokens == 0 {
		return
	}
	_, err := r.threads.Update(threadID, func(info *models.ThreadInfo) error {
		if info.Usage == nil {
			info.Usage = &models.AgentUsage{}
		}
		info.Usage.Add(usage)
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to record sub-agent usage", zap.String("thread_id", threadID), zap.Error(err))
	}
}
