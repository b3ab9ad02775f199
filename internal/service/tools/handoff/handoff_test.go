package handoff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/tools"
)

type fakeDelegator struct {
	got    *tools.DelegateRequest
	result *tools.DelegateResult
	err    error
}

func (f *fakeDelegator) Delegate(_ context.Context, req *tools.DelegateRequest) (*tools.DelegateResult, error) {
	f.got = req
	return f.result, f.err
}

func (f *fakeDelegator) Profiles() []*models.SubAgentProfile {
	return []*models.SubAgentProfile{{Name: "research", Description: "Finds information"}}
}

func TestDelegateTask(t *testing.T) {
	d := &fakeDelegator{result: &tools.DelegateResult{
		Agent:  "research",
		Answer: "Go 1.22 added range-over-int.",
		ToolCalls: []*models.ToolCallRecord{
			{ID: "s1", Name: "search_knowledge_base", Arguments: `{"query":"go"}`, Result: "Go: ..."},
		},
	}}
	env := &tools.Env{Delegator: d}
	trace := &tools.CallTrace{}
	ctx := tools.WithCallTrace(tools.WithThreadID(context.Background(), "t1"), trace)

	out, err := DelegateTask(ctx, env, &DelegateTaskParams{Agent: " research ", Task: "Find Go release notes", Context: "user asked about loops"})
	require.NoError(t, err)

	assert.Equal(t, &tools.DelegateRequest{
		ThreadID: "t1",
		Agent:    "research",
		Task:     "Find Go release notes",
		Context:  "user asked about loops",
	}, d.got)
	assert.Contains(t, out, "Result from research agent:\nGo 1.22 added range-over-int.")
	assert.Contains(t, out, "- search_knowledge_base")

	agent, subCalls := trace.Collect()
	assert.Equal(t, "research", agent)
	require.Len(t, subCalls, 1)
	assert.Equal(t, "s1", subCalls[0].ID)
}

func TestDelegateTaskRejectsRecursion(t *testing.T) {
	d := &fakeDelegator{}
	ctx := tools.WithSubAgent(tools.WithThreadID(context.Background(), "t1"), "research")

	_, err := DelegateTask(ctx, &tools.Env{Delegator: d}, &DelegateTaskParams{Agent: "analyst", Task: "x"})
	assert.ErrorIs(t, err, ErrRecursiveHandoff)
	assert.ErrorIs(t, err, models.ErrInvalidArguments)
	assert.Nil(t, d.got)
}

func TestDelegateTaskValidation(t *testing.T) {
	ctx := tools.WithThreadID(context.Background(), "t1")
	env := &tools.Env{Delegator: &fakeDelegator{}}

	_, err := DelegateTask(ctx, env, &DelegateTaskParams{Task: "x"})
	assert.ErrorIs(t, err, models.ErrInvalidArguments)

	_, err = DelegateTask(ctx, env, &DelegateTaskParams{Agent: "research"})
	assert.ErrorIs(t, err, models.ErrInvalidArguments)

	_, err = DelegateTask(ctx, &tools.Env{}, &DelegateTaskParams{Agent: "research", Task: "x"})
	assert.ErrorIs(t, err, models.ErrInvalidArguments)
}

func TestDescriptionListsAgents(t *testing.T) {
	desc := description(&tools.Env{Delegator: &fakeDelegator{}})
	assert.Contains(t, desc, "- research: Finds information")
}
