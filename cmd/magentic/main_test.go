package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/magentic/internal/signals"
	"github.com/ShayCichocki/magentic/internal/state"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// writeConfig creates a config with one scripted agent replaying script and
// a journal inside dir. It returns the config path.
func writeConfig(t *testing.T, dir, script string) string {
	t.Helper()
	scriptPath := filepath.Join(dir, "researcher.yaml")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0644))

	cfg := fmt.Sprintf(`agents:
  - name: Researcher
    capability: Searches the web and gathers facts
    kind: scripted
    script: %s
storage:
  path: %s
log:
  level: error
`, scriptPath, filepath.Join(dir, "state.db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

// execute runs the CLI with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	runCriterion, runMaxRounds, runTUI, runJSON, runQuiet = "", 0, false, false, false
	runsState, runsLimit, runsFormat = "", 20, "text"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

const answerScript = `steps:
  - output: The answer is 42.
then: repeat_last
`

func TestRunCommand_JSONResult(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfg := writeConfig(t, dir, answerScript)

	out, err := execute(t, "run", "Find the answer", "--json", "--config", cfg)
	require.NoError(t, err)

	var result models.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, models.StateComplete, result.State)
	require.NotNil(t, result.Final)
	assert.Contains(t, result.Final.Answer, "42")

	// The run was journaled.
	db, err := state.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	defer db.Close()
	run, err := db.GetRun(result.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.StateComplete, run.State)
}

func TestRunCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfg := writeConfig(t, dir, `steps:
  - error: execution
then: repeat_last
`)

	out, err := execute(t, "run", "Find the answer", "--max-rounds", "3", "--config", cfg)
	require.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out, "Run failed")
	assert.Contains(t, out, "last error from Researcher")
}

func TestRunsCommands(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfg := writeConfig(t, dir, answerScript)

	out, err := execute(t, "runs", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")

	out, err = execute(t, "run", "Find the answer", "--json", "--config", cfg)
	require.NoError(t, err)
	var result models.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))

	out, err = execute(t, "runs", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, result.RunID)
	assert.Contains(t, out, "COMPLETE")

	out, err = execute(t, "runs", "show", result.RunID, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Task: Find the answer")
	assert.Contains(t, out, "Researcher")
	assert.Contains(t, out, "The answer is 42.")

	out, err = execute(t, "runs", "show", result.RunID, "-o", "yaml", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "statement: Find the answer")

	_, err = execute(t, "runs", "show", "missing", "--config", cfg)
	assert.Error(t, err)

	_, err = execute(t, "runs", "delete", result.RunID, "--config", cfg)
	require.NoError(t, err)
	out, err = execute(t, "runs", "list", "--config", cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, result.RunID)
}

func TestMissingAPIKey(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("MAGENTIC_BACKEND_API_KEY", "")
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf(`agents:
  - name: Writer
    capability: Writes prose
    kind: llm
storage:
  path: %s
log:
  level: error
`, filepath.Join(dir, "state.db"))), 0644))

	_, err := execute(t, "run", "Write a haiku", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Anthropic API key")

	out, err := execute(t, "config", "show", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Runs will not start")

	out, err = execute(t, "runs", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")
}

func TestAgentsCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfg := writeConfig(t, dir, answerScript)

	out, err := execute(t, "agents", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Researcher")
	assert.Contains(t, out, "scripted")
}

func TestSignalCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := execute(t, "signal", "pause")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(signals.Dir(dir), "pause"))

	_, err = execute(t, "signal", "resume")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(signals.Dir(dir), "pause"))

	_, err = execute(t, "signal", "bogus")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "magentic version "))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{72 * time.Hour, "3d"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestDisplayRuns_TruncatesOnRuneBoundary(t *testing.T) {
	now := time.Now()
	var out bytes.Buffer
	displayRuns(&out, []state.Run{{
		ID:        "run-1",
		State:     models.StateComplete,
		Statement: strings.Repeat("日本語", 10),
		StartedAt: now.Add(-time.Minute),
	}}, now)

	assert.True(t, utf8.ValidString(out.String()))
	assert.Contains(t, out.String(), "...")
}
