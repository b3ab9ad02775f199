package handoff

import (
	"context"
	"fmt"
	"strings"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/tools"
)

// ErrRecursiveHandoff is returned when a sub-agent tries to delegate.
var ErrRecursiveHandoff = fmt.Errorf("%w: sub-agents cannot delegate tasks", models.ErrInvalidArguments)

func DelegateTask(ctx context.Context, env *tools.Env, params *DelegateTaskParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: params must be provided", models.ErrInvalidArguments)
	}
	if name, ok := tools.SubAgentFrom(ctx); ok {
		return "", fmt.Errorf("%w (called from %s)", ErrRecursiveHandoff, name)
	}
	if env == nil || env.Delegator == nil {
		return "", fmt.Errorf("%w: no sub-agents are configured", models.ErrInvalidArguments)
	}

	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}

	agent := strings.TrimSpace(params.Agent)
	task := strings.TrimSpace(params.Task)
	if agent == "" {
		return "", fmt.Errorf("%w: agent must be provided", models.ErrInvalidArguments)
	}
	if task == "" {
		return "", fmt.Errorf("%w: task must be provided", models.ErrInvalidArguments)
	}

	result, err := env.Delegator.Delegate(ctx, &tools.DelegateRequest{
		ThreadID: threadID,
		Agent:    agent,
		Task:     task,
		Context:  strings.TrimSpace(params.Context),
	})
	if trace := tools.CallTraceFrom(ctx); trace != nil && result != nil {
		trace.Attach(result.Agent, result.ToolCalls)
	}
	if err != nil {
		return "", err
	}

	return Render(result), nil
}

// Render folds a sub-agent run into a single observation for the
// coordinator.
func Render(result *tools.DelegateResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Result from %s agent:\n%s", result.Agent, strings.TrimSpace(result.Answer))
	if len(result.ToolCalls) > 0 {
		sb.WriteString("\n\nTools used by the sub-agent:")
		for _, c := range result.ToolCalls {
			status := "ok"
			if c.Error != "" {
				status = "error: " + c.Error
			}
			fmt.Fprintf(&sb, "\n- %s %s (%s)", c.Name, c.Arguments, status)
		}
	}
	return sb.String()
}
