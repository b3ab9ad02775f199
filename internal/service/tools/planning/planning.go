package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/tools"
)

func CreatePlan(ctx context.Context, env *tools.Env, params *CreatePlanParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: params must be provided", models.ErrInvalidArguments)
	}
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}

	plan, err := env.Plans.Create(threadID, params.Task, params.Steps)
	if err != nil {
		return "", err
	}
	return "Plan created.\n" + Render(plan), nil
}

func ViewPlan(ctx context.Context, env *tools.Env) (string, error) {
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}

	plan, err := env.Plans.Get(threadID)
	if errors.Is(err, models.ErrNotFound) {
		return "No plan exists for this conversation.", nil
	}
	if err != nil {
		return "", err
	}
	return Render(plan), nil
}

func UpdatePlanStep(ctx context.Context, env *tools.Env, params *UpdatePlanStepParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: params must be provided", models.ErrInvalidArguments)
	}
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}
	status, err := models.ParseStepStatus(params.Status)
	if err != nil {
		return "", err
	}

	plan, err := env.Plans.UpdateStep(threadID, params.Step, status, params.Result)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Step %d marked %s.\n%s", params.Step, status, Render(plan)), nil
}

func AddPlanStep(ctx context.Context, env *tools.Env, params *AddPlanStepParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: params must be provided", models.ErrInvalidArguments)
	}
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}

	plan, err := env.Plans.AddStep(threadID, params.Description, params.Position)
	if err != nil {
		return "", err
	}
	return "Step added.\n" + Render(plan), nil
}

func ClearPlan(ctx context.Context, env *tools.Env) (string, error) {
	threadID, err := tools.ThreadIDFrom(ctx)
	if err != nil {
		return "", err
	}
	if err := env.Plans.Clear(threadID); err != nil {
		return "", err
	}
	return "Plan cleared.", nil
}

func statusMarker(s models.StepStatus) string {
	switch s {
	case models.StepStatusCompleted:
		return "[x]"
	case models.StepStatusInProgress:
		return "[~]"
	default:
		return "[ ]"
	}
}

// Render formats a plan for both the model and the CLI.
func Render(plan *models.Plan) string {
	var sb strings.Builder
	completed, total := plan.Progress()
	fmt.Fprintf(&sb, "Plan: %s\nStatus: %s (%d/%d steps completed)\n", plan.Task, plan.Status, completed, total)
	for _, step := range plan.Steps {
		fmt.Fprintf(&sb, "%d. %s %s", step.Position, statusMarker(step.Status), step.Description)
		if step.Result != "" {
			fmt.Fprintf(&sb, "\n   Result: %s", step.Result)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}
