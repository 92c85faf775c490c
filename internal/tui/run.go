package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/magentic/internal/ledger"
	"github.com/ShayCichocki/magentic/internal/orchestrator"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// maxLogEntries bounds the activity log shown on screen.
const maxLogEntries = 10

// EventMsg carries one run event into the program.
type EventMsg struct {
	Event orchestrator.Event
}

// DoneMsg is sent when the run's event stream closed.
type DoneMsg struct{}

// Controls are the run operations bound to keys.
type Controls struct {
	Cancel func()
	Pause  func()
	Resume func()
}

type keyMap struct {
	Pause key.Binding
	Quit  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.Pause, k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

var keys = keyMap{
	Pause: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause/resume")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "cancel run and quit")),
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// RunApp is the bubbletea model that follows a single run.
type RunApp struct {
	task     string
	runID    string
	state    models.State
	round    int
	maxRound int
	plan     string
	logs     []LogEntry
	result   *models.Result
	lastSeq  uint64
	gaps     uint64
	paused   bool
	done     bool
	quitting bool
	width    int

	controls Controls
	events   <-chan orchestrator.Event
	spinner  spinner.Model
	help     help.Model

	titleStyle lipgloss.Style
	labelStyle lipgloss.Style
	valueStyle lipgloss.Style
	stateStyle lipgloss.Style
	timeStyle  lipgloss.Style
	kindStyle  lipgloss.Style
	errorStyle lipgloss.Style
	doneStyle  lipgloss.Style
	planStyle  lipgloss.Style
}

// NewRunApp creates a viewer reading events until the channel closes.
func NewRunApp(task string, maxRounds int, events <-chan orchestrator.Event, controls Controls) *RunApp {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &RunApp{
		task:     task,
		state:    models.StatePlanning,
		maxRound: maxRounds,
		controls: controls,
		events:   events,
		spinner:  s,
		help:     help.New(),

		titleStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		labelStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10),
		valueStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true),
		stateStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		timeStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		kindStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Width(12),
		errorStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		doneStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Bold(true),
		planStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1),
	}
}

// WaitForEvent reads the next event from ch.
func WaitForEvent(ch <-chan orchestrator.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return DoneMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// Init implements tea.Model.
func (a *RunApp) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, WaitForEvent(a.events))
}

// Update implements tea.Model.
func (a *RunApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if !a.done && a.controls.Cancel != nil {
				a.controls.Cancel()
			}
			a.quitting = true
			return a, tea.Quit
		case key.Matches(msg, keys.Pause):
			a.togglePause()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.help.Width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.apply(msg.Event)
		return a, WaitForEvent(a.events)

	case DoneMsg:
		a.done = true
	}
	return a, nil
}

func (a *RunApp) togglePause() {
	if a.done {
		return
	}
	if a.paused {
		if a.controls.Resume != nil {
			a.controls.Resume()
		}
		a.paused = false
		a.log(time.Now(), "control", "resumed")
		return
	}
	if a.controls.Pause != nil {
		a.controls.Pause()
	}
	a.paused = true
	a.log(time.Now(), "control", "paused before the next round")
}

func (a *RunApp) apply(ev orchestrator.Event) {
	if a.lastSeq > 0 && ev.Seq > a.lastSeq+1 {
		a.gaps += ev.Seq - a.lastSeq - 1
	}
	a.lastSeq = ev.Seq
	a.runID = ev.RunID
	a.state = ev.State
	a.round = ev.Round

	switch ev.Type {
	case orchestrator.EventRunStarted:
		a.log(ev.Timestamp, "run", "started "+ev.RunID)
	case orchestrator.EventStateChanged:
		a.log(ev.Timestamp, "state", fmt.Sprintf("%s -> %s", ev.From, ev.State))
	case orchestrator.EventDecision:
		if ev.Decision != nil {
			a.log(ev.Timestamp, "decision", ev.Decision.String())
		}
	case orchestrator.EventContribution:
		c := ev.Contribution
		if c == nil {
			break
		}
		switch c.Kind {
		case models.KindPlan:
			a.plan = c.Payload
		case models.KindAgent:
			a.log(ev.Timestamp, c.Producer, fmt.Sprintf("[%s] %s", c.Status, ledger.FirstLine(c.Payload, 80)))
		}
	case orchestrator.EventRunFinished:
		a.result = ev.Result
		a.log(ev.Timestamp, "run", "finished "+string(ev.State))
	}
}

func (a *RunApp) log(ts time.Time, kind, message string) {
	a.logs = append(a.logs, LogEntry{Timestamp: ts, Kind: kind, Message: message})
	if len(a.logs) > maxLogEntries {
		a.logs = a.logs[len(a.logs)-maxLogEntries:]
	}
}

// View implements tea.Model.
func (a *RunApp) View() string {
	if a.quitting && !a.done {
		return "Run cancelled.\n"
	}

	var b strings.Builder
	b.WriteString(a.titleStyle.Render("=== magentic ==="))
	b.WriteString("\n\n")

	b.WriteString(a.labelStyle.Render("Task:"))
	b.WriteString(a.valueStyle.Render(ledger.FirstLine(a.task, 70)))
	b.WriteString("\n")

	b.WriteString(a.labelStyle.Render("State:"))
	if !a.done {
		b.WriteString(a.spinner.View())
		b.WriteString(" ")
	}
	b.WriteString(a.stateStyle.Render(string(a.state)))
	if a.paused && !a.done {
		b.WriteString(a.timeStyle.Render("  (paused)"))
	}
	b.WriteString("\n")

	b.WriteString(a.labelStyle.Render("Round:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d/%d", a.round, a.maxRound)))
	if a.gaps > 0 {
		b.WriteString(a.timeStyle.Render(fmt.Sprintf("  (%d events skipped)", a.gaps)))
	}
	b.WriteString("\n\n")

	if a.plan != "" {
		b.WriteString(a.planStyle.Render(a.plan))
		b.WriteString("\n\n")
	}

	for _, e := range a.logs {
		fmt.Fprintf(&b, "  %s %s %s\n",
			a.timeStyle.Render(e.Timestamp.Format("15:04:05")),
			a.kindStyle.Render(e.Kind),
			e.Message)
	}

	b.WriteString("\n")
	b.WriteString(a.renderFooter())
	b.WriteString("\n")
	return b.String()
}

func (a *RunApp) renderFooter() string {
	if !a.done {
		return a.help.View(keys)
	}
	switch {
	case a.result == nil:
		return a.errorStyle.Render("Event stream closed without a result. Press q to exit.")
	case a.result.Succeeded():
		return a.doneStyle.Render("Run complete. Press q to exit.") + "\n\n" + a.result.Final.Answer
	default:
		f := a.result.Failure
		msg := "Run failed"
		if f != nil {
			msg = fmt.Sprintf("Run failed: %s", f.Reason)
			if f.Detail != "" {
				msg += " (" + f.Detail + ")"
			}
		}
		return a.errorStyle.Render(msg + ". Press q to exit.")
	}
}

// Result returns the run result once the stream finished.
func (a *RunApp) Result() *models.Result {
	return a.result
}

// NewRunProgram creates a bubbletea program following a run.
func NewRunProgram(task string, maxRounds int, events <-chan orchestrator.Event, controls Controls) (*tea.Program, *RunApp) {
	app := NewRunApp(task, maxRounds, events, controls)
	return tea.NewProgram(app, tea.WithAltScreen()), app
}
