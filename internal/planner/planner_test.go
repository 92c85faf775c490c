package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/magentic/internal/backend"
	"github.com/ShayCichocki/magentic/pkg/models"
)

var agents = []models.AgentDescriptor{
	{Name: "Researcher", Capability: "finds facts"},
	{Name: "Coder", Capability: "writes code"},
}

func TestSplitStatement(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"sentences", "Research the history of Go. Write code that prints hello", []string{"Research the history of Go.", "Write code that prints hello"}},
		{"semicolons", "find it; fix it", []string{"find it;", "fix it"}},
		{"lines with markers", "1. gather sources\n2) summarize\n- publish\n\n", []string{"gather sources", "summarize", "publish"}},
		{"single", "just do it", []string{"just do it"}},
		{"empty", "  \n ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatement(tt.in))
		})
	}
}

func TestSplit_Plan(t *testing.T) {
	snap := models.Snapshot{Task: models.Task{Statement: "one. two. three. four"}}

	plan, err := Split{}.Plan(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Version)
	require.Len(t, plan.Goals, 4)
	assert.Equal(t, "g1", plan.Goals[0].ID)
	assert.Equal(t, models.SubGoalPending, plan.Goals[3].Status)

	capped, err := Split{MaxGoals: 2}.Plan(context.Background(), snap)
	require.NoError(t, err)
	require.Len(t, capped.Goals, 2)
	assert.Equal(t, "two. three. four", capped.Goals[1].Description)

	snap.Plan = plan
	replan, err := Split{}.Plan(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 2, replan.Version)
	assert.Equal(t, "p2.g1", replan.Goals[0].ID)
}

func TestSplit_Empty(t *testing.T) {
	_, err := Split{}.Plan(context.Background(), models.Snapshot{})
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestParsePlan(t *testing.T) {
	text := `Here is the plan:
1. [Researcher] Find the release notes
2. [coder] Write the upgrade script (after 1)
3. [Designer] Draw a diagram (after 1, 2)
4) Review everything (after 9)
5.
`
	plan := ParsePlan(text, 1, agents)
	require.Len(t, plan.Goals, 4)

	assert.Equal(t, "Researcher", plan.Goals[0].AgentHint)
	assert.Equal(t, "Find the release notes", plan.Goals[0].Description)

	assert.Equal(t, "Coder", plan.Goals[1].AgentHint)
	assert.Equal(t, []string{"g1"}, plan.Goals[1].DependsOn)
	assert.Equal(t, "Write the upgrade script", plan.Goals[1].Description)

	assert.Empty(t, plan.Goals[2].AgentHint, "unknown agents are dropped")
	assert.Equal(t, []string{"g1", "g2"}, plan.Goals[2].DependsOn)

	assert.Empty(t, plan.Goals[3].DependsOn)
	assert.Equal(t, "Review everything", plan.Goals[3].Description)
}

func TestFormatPlan_RoundTrip(t *testing.T) {
	plan := ParsePlan("1. [Researcher] look\n2. build (after 1)\n", 3, agents)
	text := FormatPlan(plan)
	assert.Equal(t, "1. [Researcher] look\n2. build (after 1)", text)

	again := ParsePlan(text, 3, agents)
	assert.Equal(t, plan, again)
}

func TestBackend_Plan(t *testing.T) {
	var got backend.Prompt
	b := backend.Func(func(_ context.Context, p backend.Prompt) (string, error) {
		got = p
		return "1. [Researcher] dig\n2. [Coder] build (after 1)\n3. ship", nil
	})
	p := NewBackend(b, agents, 2, nil)

	plan, err := p.Plan(context.Background(), models.Snapshot{Task: models.Task{Statement: "make a tool"}})
	require.NoError(t, err)
	require.Len(t, plan.Goals, 2)
	assert.Contains(t, got.User, "make a tool")
	assert.Contains(t, got.User, "- Coder: writes code")
	assert.NotContains(t, got.User, "previous plan")
}

func TestBackend_Replan(t *testing.T) {
	var got backend.Prompt
	b := backend.Func(func(_ context.Context, p backend.Prompt) (string, error) {
		got = p
		return "1. [Coder] try again differently", nil
	})
	prev := &models.Plan{Version: 1, Goals: []models.SubGoal{{ID: "g1", Description: "first try"}}}
	snap := models.Snapshot{
		Task: models.Task{Statement: "make a tool"},
		Plan: prev,
		Contributions: []models.Contribution{
			{Seq: 3, Producer: "Coder", Kind: models.KindAgent, Status: models.StatusError, Payload: "agent_timeout: slow"},
		},
	}

	plan, err := NewBackend(b, agents, 0, nil).Plan(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Version)
	assert.Equal(t, "p2.g1", plan.Goals[0].ID)
	assert.Contains(t, got.User, "1. first try")
	assert.Contains(t, got.User, "agent_timeout: slow")
}

func TestBackend_Errors(t *testing.T) {
	unavailable := backend.Func(func(context.Context, backend.Prompt) (string, error) {
		return "", fmt.Errorf("down: %w", backend.ErrUnavailable)
	})
	_, err := NewBackend(unavailable, agents, 0, nil).Plan(context.Background(), models.Snapshot{})
	assert.ErrorIs(t, err, backend.ErrUnavailable)

	chatty := backend.Func(func(context.Context, backend.Prompt) (string, error) {
		return "I would start by researching.", nil
	})
	_, err = NewBackend(chatty, agents, 0, nil).Plan(context.Background(), models.Snapshot{})
	assert.True(t, errors.Is(err, ErrEmptyPlan))
}
