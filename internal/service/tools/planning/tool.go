package planning

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/deepthread/internal/service/tools"
)

const (
	CreatePlanToolName        = "create_plan"
	CreatePlanToolDescription = "Creates a multi-step plan for the current conversation. Replaces any existing plan. All steps start as pending."

	ViewPlanToolName        = "view_plan"
	ViewPlanToolDescription = "Shows the current plan with the status of every step."

	UpdatePlanStepToolName        = "update_plan_step"
	UpdatePlanStepToolDescription = "Moves a plan step forward to in_progress or completed, optionally recording its result. Steps can never move backwards."

	AddPlanStepToolName        = "add_plan_step"
	AddPlanStepToolDescription = "Adds a pending step to the current plan, at the end or at a given 1-based position."

	ClearPlanToolName        = "clear_plan"
	ClearPlanToolDescription = "Deletes the current plan."
)

type CreatePlanParams struct {
	Task  string   `json:"task" jsonschema:"description=The overall task the plan accomplishes."`
	Steps []string `json:"steps" jsonschema:"description=Ordered step descriptions."`
}

type ViewPlanParams struct{}

type UpdatePlanStepParams struct {
	Step   int    `json:"step" jsonschema:"description=1-based position of the step."`
	Status string `json:"status" jsonschema:"description=New status: in_progress or completed."`
	Result string `json:"result,omitempty" jsonschema:"description=Optional result or outcome of the step."`
}

type AddPlanStepParams struct {
	Description string `json:"description" jsonschema:"description=What the step does."`
	Position    int    `json:"position,omitempty" jsonschema:"description=1-based position to insert at. Omit to append."`
}

type ClearPlanParams struct{}

func GetCreatePlanTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, CreatePlanToolName, CreatePlanToolDescription, func(ctx context.Context, p *CreatePlanParams) (string, error) {
		return CreatePlan(ctx, env, p)
	})
}

func GetViewPlanTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, ViewPlanToolName, ViewPlanToolDescription, func(ctx context.Context, _ *ViewPlanParams) (string, error) {
		return ViewPlan(ctx, env)
	})
}

func GetUpdatePlanStepTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, UpdatePlanStepToolName, UpdatePlanStepToolDescription, func(ctx context.Context, p *UpdatePlanStepParams) (string, error) {
		return UpdatePlanStep(ctx, env, p)
	})
}

func GetAddPlanStepTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, AddPlanStepToolName, AddPlanStepToolDescription, func(ctx context.Context, p *AddPlanStepParams) (string, error) {
		return AddPlanStep(ctx, env, p)
	})
}

func GetClearPlanTool(ctx context.Context, env *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, ClearPlanToolName, ClearPlanToolDescription, func(ctx context.Context, _ *ClearPlanParams) (string, error) {
		return ClearPlan(ctx, env)
	})
}

func init() {
	tools.RegisterTool(CreatePlanToolName, GetCreatePlanTool)
	tools.RegisterTool(ViewPlanToolName, GetViewPlanTool)
	tools.RegisterTool(UpdatePlanStepToolName, GetUpdatePlanStepTool)
	tools.RegisterTool(AddPlanStepToolName, GetAddPlanStepTool)
	tools.RegisterTool(ClearPlanToolName, GetClearPlanTool)
}
