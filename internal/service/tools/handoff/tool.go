package handoff

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/deepthread/internal/service/tools"
)

const (
	DelegateTaskToolName        = "delegate_task"
	delegateTaskToolDescription = "Hands a self-contained subtask to a specialised sub-agent and returns its answer. Available agents:"
)

type DelegateTaskParams struct {
	Agent   string `json:"agent" jsonschema:"description=Name of the sub-agent to delegate to."`
	Task    string `json:"task" jsonschema:"description=What the sub-agent should do, stated so it can be done without the rest of the conversation."`
	Context string `json:"context,omitempty" jsonschema:"description=Optional facts the sub-agent needs for the task."`
}

// description lists the configured agents so the model can pick one by name.
func description(env *tools.Env) string {
	if env == nil || env.Delegator == nil {
		return delegateTaskToolDescription + " none."
	}

	var sb strings.Builder
	sb.WriteString(delegateTaskToolDescription)
	for _, p := range env.Delegator.Profiles() {
		fmt.Fprintf(&sb, "\n- %s: %s", p.Name, p.Description)
	}
	return sb.String()
}

func GetDelegateTaskTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, DelegateTaskToolName, description(env), func(ctx context.Context, p *DelegateTaskParams) (string, error) {
		return DelegateTask(ctx, env, p)
	})
}

func init() {
	tools.RegisterTool(DelegateTaskToolName, GetDelegateTaskTool)
}
