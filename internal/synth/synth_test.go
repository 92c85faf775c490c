package synth

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/magentic/internal/backend"
	"github.com/ShayCichocki/magentic/pkg/models"
)

func agentEntry(seq int, producer, goal string, status models.ContributionStatus, payload string) models.Contribution {
	return models.Contribution{Seq: seq, Producer: producer, Kind: models.KindAgent, SubGoalID: goal, Status: status, Payload: payload}
}

func completedSnapshot() models.Snapshot {
	return models.Snapshot{
		Task:  models.Task{Statement: "explain go modules"},
		State: models.StateEvaluating,
		Plan: &models.Plan{Version: 1, Goals: []models.SubGoal{
			{ID: "g1", Description: "research", Status: models.SubGoalDone, ResultSeq: 5},
			{ID: "g2", Description: "write", Status: models.SubGoalDone, ResultSeq: 7},
		}},
		Contributions: []models.Contribution{
			{Seq: 1, Producer: models.OrchestratorProducer, Kind: models.KindTask, Payload: "explain go modules"},
			{Seq: 2, Producer: models.OrchestratorProducer, Kind: models.KindPlan, Payload: "1. research\n2. write"},
			agentEntry(3, "Researcher", "g1", models.StatusPartial, "modules have go.mod"),
			agentEntry(4, "Researcher", "g1", models.StatusError, "agent_timeout: slow"),
			agentEntry(5, "Researcher", "g1", models.StatusSuccess, "and go.sum"),
			agentEntry(6, "Coder", "g2", models.StatusSuccess, "  "),
			agentEntry(7, "Coder", "g2", models.StatusSuccess, "example module"),
		},
		Counters: models.Counters{Round: 5},
	}
}

func TestDigest(t *testing.T) {
	res, err := Digest{}.Synthesize(context.Background(), completedSnapshot())
	require.NoError(t, err)

	assert.Equal(t, "## research\nmodules have go.mod\nand go.sum\n\n## write\nexample module", res.Answer)
	assert.Equal(t, []int{3, 5, 7}, res.Sources)
	assert.Equal(t, 5, res.Counters.Round)
	require.NotNil(t, res.Plan)
	assert.Len(t, res.Plan.Goals, 2)
}

func TestDigest_FallsBackToAllOutputs(t *testing.T) {
	snap := completedSnapshot()
	for i := range snap.Plan.Goals {
		snap.Plan.Goals[i].Status = models.SubGoalPending
	}
	res, err := Digest{}.Synthesize(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 6, 7}, res.Sources)
	assert.Contains(t, res.Answer, "example module")
	assert.NotContains(t, res.Answer, "agent_timeout")
}

func TestBackend(t *testing.T) {
	var got backend.Prompt
	b := backend.Func(func(_ context.Context, p backend.Prompt) (string, error) {
		got = p
		return " Go modules are versioned packages. ", nil
	})

	res, err := NewBackend(b, 2048).Synthesize(context.Background(), completedSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "Go modules are versioned packages.", res.Answer)
	assert.Equal(t, []int{3, 5, 6, 7}, res.Sources)
	assert.Equal(t, int64(2048), got.MaxTokens)
	assert.Contains(t, got.User, "and go.sum")
	assert.NotContains(t, got.User, "agent_timeout")
}

func TestBackend_Error(t *testing.T) {
	b := backend.Func(func(context.Context, backend.Prompt) (string, error) {
		return "", fmt.Errorf("after 3 attempts: %w", backend.ErrUnavailable)
	})
	_, err := NewBackend(b, 0).Synthesize(context.Background(), completedSnapshot())
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestReport(t *testing.T) {
	snap := completedSnapshot()
	snap.State = models.StateFailed

	r := Report(snap, models.ReasonPlanExhausted, "no progress")
	assert.Equal(t, models.ReasonPlanExhausted, r.Reason)
	assert.Equal(t, "no progress", r.Detail)
	assert.Equal(t, models.StateFailed, r.State)
	require.NotNil(t, r.LastError)
	assert.Equal(t, 4, r.LastError.Seq)

	r.Plan.Goals[0].Description = "changed"
	assert.Equal(t, "research", snap.Plan.Goals[0].Description, "report holds a copy of the plan")
}

func TestNew(t *testing.T) {
	s, err := New("", nil, 0)
	require.NoError(t, err)
	assert.IsType(t, Digest{}, s)

	_, err = New(KindBackend, nil, 0)
	assert.Error(t, err)

	_, err = New("poem", nil, 0)
	assert.Error(t, err)
}
