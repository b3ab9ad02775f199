package planning

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/storage"
	"github.com/zjregee/deepthread/internal/service/tools"
)

func newEnv(t *testing.T, threadIDs ...string) *tools.Env {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "planning.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	stores := storage.NewStores(db)
	for _, id := range threadIDs {
		require.NoError(t, stores.Threads.Create(&models.ThreadInfo{ID: id}))
	}
	return &tools.Env{Plans: stores.Plans, Notes: stores.Notes, Context: stores.Context}
}

func TestPlanningTools(t *testing.T) {
	env := newEnv(t, "t1")
	ctx := tools.WithThreadID(context.Background(), "t1")

	out, err := ViewPlan(ctx, env)
	require.NoError(t, err)
	assert.Contains(t, out, "No plan")

	out, err = CreatePlan(ctx, env, &CreatePlanParams{Task: "Write report", Steps: []string{"Research", "Draft", "Edit"}})
	require.NoError(t, err)
	assert.Contains(t, out, "Status: pending (0/3 steps completed)")

	out, err = UpdatePlanStep(ctx, env, &UpdatePlanStepParams{Step: 1, Status: "completed", Result: "5 sources"})
	require.NoError(t, err)
	assert.Contains(t, out, "1. [x] Research\n   Result: 5 sources")
	assert.Contains(t, out, "Status: in_progress (1/3 steps completed)")

	_, err = UpdatePlanStep(ctx, env, &UpdatePlanStepParams{Step: 1, Status: "in_progress"})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = UpdatePlanStep(ctx, env, &UpdatePlanStepParams{Step: 4, Status: "completed"})
	assert.ErrorIs(t, err, models.ErrStepNotFound)

	_, err = UpdatePlanStep(ctx, env, &UpdatePlanStepParams{Step: 2, Status: "reopened"})
	assert.ErrorIs(t, err, models.ErrInvalidArguments)

	out, err = AddPlanStep(ctx, env, &AddPlanStepParams{Description: "Outline", Position: 2})
	require.NoError(t, err)
	assert.Contains(t, out, "2. [ ] Outline")
	assert.Contains(t, out, "4. [ ] Edit")

	out, err = ClearPlan(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, "Plan cleared.", out)

	_, err = ClearPlan(ctx, env)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPlanningToolsNeedThread(t *testing.T) {
	env := newEnv(t)

	_, err := CreatePlan(context.Background(), env, &CreatePlanParams{Task: "x", Steps: []string{"a"}})
	assert.ErrorIs(t, err, models.ErrInvalidArguments)

	_, err = CreatePlan(tools.WithThreadID(context.Background(), "ghost"), env, &CreatePlanParams{Task: "x", Steps: []string{"a"}})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRegisteredPlanningTools(t *testing.T) {
	env := newEnv(t, "t1")
	r, err := tools.NewRouter(context.Background(), env, []string{
		CreatePlanToolName, ViewPlanToolName, UpdatePlanStepToolName, AddPlanStepToolName, ClearPlanToolName,
	})
	require.NoError(t, err)
	assert.Len(t, r.ToolInfos(), 5)
	for _, info := range r.ToolInfos() {
		assert.NotEmpty(t, info.Desc)
	}
}
