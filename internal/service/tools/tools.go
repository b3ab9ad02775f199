package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/storage"
)

// Env is what tool builders close over: the thread-scoped stores and the
// sub-agent delegator. Tools never see raw storage keys.
type Env struct {
	Plans     *storage.PlanStore
	Notes     *storage.NoteStore
	Context   *storage.ContextStore
	Delegator Delegator
}

type DelegateRequest struct {
	ThreadID string
	Agent    string
	Task     string
	Context  string
}

type DelegateResult struct {
	Agent      string
	Answer     string
	ToolCalls  []*models.ToolCallRecord
	Iterations int
}

type Delegator interface {
	Delegate(ctx context.Context, req *DelegateRequest) (*DelegateResult, error)
	Profiles() []*models.SubAgentProfile
}

type Builder func(ctx context.Context, env *Env) (*schema.ToolInfo, tool.InvokableTool, error)

var registeredTools = make(map[string]Builder)

func RegisterTool(name string, builder Builder) {
	registeredTools[name] = builder
}

func RegisteredToolNames() []string {
	names := make([]string, 0, len(registeredTools))
	for name := range registeredTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsRegistered(name string) bool {
	_, ok := registeredTools[name]
	return ok
}

// InferTool builds a tool from a typed handler and returns it with its schema,
// in the shape every Builder returns.
func InferTool[T any](ctx context.Context, name, description string, fn func(context.Context, *T) (string, error)) (*schema.ToolInfo, tool.InvokableTool, error) {
	t, err := utils.InferTool(name, description, fn, utils.WithUnmarshalArguments(decodeArguments[T]))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to infer tool %s: %w", name, err)
	}

	info, err := t.Info(ctx)
	if err != nil {
		return nil, nil, err
	}

	return info, t, nil
}

// decodeArguments marks arguments that do not fit the tool's params as
// ErrInvalidArguments. The tool wrapper keeps the error chain intact.
func decodeArguments[T any](_ context.Context, arguments string) (any, error) {
	params := new(T)
	if err := sonic.UnmarshalString(arguments, params); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidArguments, err)
	}
	return params, nil
}

// build instantiates the named tools, or every registered tool when names is
// nil. An unregistered name is an error.
func build(ctx context.Context, env *Env, names []string) ([]*schema.ToolInfo, map[string]tool.InvokableTool, error) {
	if names == nil {
		names = RegisteredToolNames()
	}

	infos := make([]*schema.ToolInfo, 0, len(names))
	toolsMap := make(map[string]tool.InvokableTool, len(names))
	for _, name := range names {
		if _, dup := toolsMap[name]; dup {
			continue
		}
		builder, ok := registeredTools[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", models.ErrUnknownTool, name)
		}
		info, t, err := builder(ctx, env)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build tool %s: %w", name, err)
		}
		infos = append(infos, info)
		toolsMap[info.Name] = t
	}

	return infos, toolsMap, nil
}
