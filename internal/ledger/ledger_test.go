package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/magentic/pkg/models"
)

func agentEntry(producer, payload string, status models.ContributionStatus) models.Contribution {
	return models.Contribution{Producer: producer, Kind: models.KindAgent, Payload: payload, Status: status}
}

func TestAppend_AssignsGaplessSequence(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		c := l.Append(agentEntry("Coder", fmt.Sprintf("out %d", i), models.StatusSuccess))
		assert.Equal(t, i+1, c.Seq)
		assert.False(t, c.Timestamp.IsZero())
	}
	assert.Equal(t, 5, l.Len())
}

func TestAppend_DefaultsStatusToSuccess(t *testing.T) {
	l := New()
	c := l.Append(models.Contribution{Producer: models.OrchestratorProducer, Kind: models.KindTask, Payload: "task"})
	assert.Equal(t, models.StatusSuccess, c.Status)
}

func TestAppend_ConcurrentWritersStayGapless(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Append(agentEntry("Researcher", fmt.Sprintf("finding %d", i), models.StatusSuccess))
		}(i)
	}
	wg.Wait()

	entries := l.View()
	require.Len(t, entries, 50)
	for i, c := range entries {
		assert.Equal(t, i+1, c.Seq)
	}
}

func TestView_FiltersAndCopies(t *testing.T) {
	l := New()
	l.Append(models.Contribution{Producer: models.OrchestratorProducer, Kind: models.KindTask, Payload: "task"})
	l.Append(agentEntry("Researcher", "a", models.StatusSuccess))
	l.Append(agentEntry("Coder", "boom", models.StatusError))
	l.Append(agentEntry("Coder", "b", models.StatusSuccess))

	coder := l.View(ByProducer("Coder"), ByStatus(models.StatusSuccess))
	require.Len(t, coder, 1)
	assert.Equal(t, "b", coder[0].Payload)

	view := l.View()
	view[0].Payload = "mutated"
	assert.Equal(t, "task", l.View()[0].Payload, "views must not alias ledger storage")

	assert.Len(t, l.View(Since(2)), 2)
	assert.Len(t, l.View(ByKind(models.KindAgent)), 3)
}

func TestLast(t *testing.T) {
	l := New()
	_, ok := l.Last()
	assert.False(t, ok)

	l.Append(agentEntry("Coder", "x", models.StatusError))
	l.Append(agentEntry("Coder", "y", models.StatusSuccess))

	last, ok := l.Last(ByStatus(models.StatusError))
	require.True(t, ok)
	assert.Equal(t, 1, last.Seq)
}

func TestFirstSeen_IgnoresErrorsAndNormalizes(t *testing.T) {
	l := New()
	l.Append(agentEntry("Coder", "timeout", models.StatusError))
	first := l.Append(agentEntry("Coder", "Result  ONE", models.StatusSuccess))

	assert.Equal(t, 0, l.FirstSeen(models.Contribution{Payload: "timeout"}))
	assert.Equal(t, first.Seq, l.FirstSeen(models.Contribution{Payload: "result one"}))
}

func TestWindow_FoldsOlderEntries(t *testing.T) {
	l := New()
	l.Append(models.Contribution{Producer: models.OrchestratorProducer, Kind: models.KindTask, Payload: "task"})
	l.Append(models.Contribution{Producer: models.OrchestratorProducer, Kind: models.KindPlan, Payload: "plan"})
	for i := 0; i < 6; i++ {
		l.Append(agentEntry("Researcher", fmt.Sprintf("finding %d\nmore detail", i), models.StatusSuccess))
	}

	view, err := Window{Keep: 2}.Summarize(context.Background(), l.View())
	require.NoError(t, err)
	require.Len(t, view, 5)

	assert.Equal(t, models.KindTask, view[0].Kind)
	assert.Equal(t, models.KindPlan, view[1].Kind)
	assert.Equal(t, models.KindSummary, view[2].Kind)
	assert.Contains(t, view[2].Payload, "4 earlier entries summarized")
	assert.Contains(t, view[2].Payload, "finding 0")
	assert.NotContains(t, view[2].Payload, "more detail")
	assert.Equal(t, "finding 4\nmore detail", view[3].Payload)
	assert.Equal(t, 8, l.Len(), "summarizing must not truncate the ledger")
}

func TestWindow_KeepsSeqOrderAcrossReplans(t *testing.T) {
	l := New()
	l.Append(models.Contribution{Producer: models.OrchestratorProducer, Kind: models.KindTask, Payload: "task"})
	l.Append(models.Contribution{Producer: models.OrchestratorProducer, Kind: models.KindPlan, Payload: "plan v1"})
	for _, p := range []string{"a", "b", "c", "d"} {
		l.Append(agentEntry("Researcher", p, models.StatusSuccess))
	}
	l.Append(models.Contribution{Producer: models.OrchestratorProducer, Kind: models.KindPlan, Payload: "plan v2"})
	l.Append(agentEntry("Coder", "e", models.StatusSuccess))

	view, err := Window{Keep: 2}.Summarize(context.Background(), l.View())
	require.NoError(t, err)

	seqs := make([]int, len(view))
	for i, c := range view {
		seqs[i] = c.Seq
	}
	assert.Equal(t, []int{1, 2, 5, 6, 7, 8}, seqs)
	assert.Equal(t, models.KindSummary, view[2].Kind)
	assert.Contains(t, view[2].Payload, "3 earlier entries summarized")
	assert.Equal(t, "plan v2", view[4].Payload)
	assert.IsIncreasing(t, seqs)
}

func TestWindow_PlanInsideFoldedRange(t *testing.T) {
	l := New()
	l.Append(models.Contribution{Producer: models.OrchestratorProducer, Kind: models.KindTask, Payload: "task"})
	l.Append(agentEntry("Researcher", "a", models.StatusSuccess))
	l.Append(models.Contribution{Producer: models.OrchestratorProducer, Kind: models.KindPlan, Payload: "plan v2"})
	l.Append(agentEntry("Researcher", "b", models.StatusSuccess))
	l.Append(agentEntry("Researcher", "c", models.StatusSuccess))

	view, err := Window{Keep: 1}.Summarize(context.Background(), l.View())
	require.NoError(t, err)
	require.Len(t, view, 4)

	assert.Equal(t, models.KindPlan, view[1].Kind)
	assert.Equal(t, models.KindSummary, view[2].Kind)
	assert.Equal(t, 4, view[2].Seq)
	assert.Equal(t, "c", view[3].Payload)
}

func TestWindow_FoldedLinesStayValidUTF8(t *testing.T) {
	entries := []models.Contribution{
		{Seq: 1, Producer: "Writer", Kind: models.KindAgent, Payload: strings.Repeat("é", 10), Status: models.StatusSuccess},
		{Seq: 2, Producer: "Writer", Kind: models.KindAgent, Payload: "kept", Status: models.StatusSuccess},
	}
	view, err := Window{Keep: 1, MaxLine: 8}.Summarize(context.Background(), entries)
	require.NoError(t, err)
	require.Len(t, view, 2)
	assert.True(t, utf8.ValidString(view[0].Payload))
	assert.Contains(t, view[0].Payload, "éé...")
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"  first\nsecond", 20, "first"},
		{"abcdefghijklmnop", 10, "abcdefg..."},
		{"short", 5, "short"},
		{"héllo wörld", 6, "hél..."},
		{"héllo", 5, "h..."},
		{"日本語のテキスト", 10, "日本..."},
		{"line\r\nnext", 10, "line"},
	}
	for _, tt := range tests {
		got := FirstLine(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("FirstLine(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("FirstLine(%q, %d) split a rune: %q", tt.in, tt.max, got)
		}
	}
}

func TestWindow_NoOpWhenSmall(t *testing.T) {
	entries := []models.Contribution{agentEntry("Coder", "a", models.StatusSuccess)}
	view, err := Window{Keep: 3}.Summarize(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, entries, view)

	view, err = Identity{}.Summarize(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, entries, view)
}
