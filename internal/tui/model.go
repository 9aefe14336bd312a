package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/orchestrator"
)

// phase tracks which stage of the run the display is showing.
type phase int

const (
	phaseSubmitting phase = iota
	phaseWatching
	phaseDone
)

// Model holds the run display state. It folds bus events into counters
// and renders an inline progress view, one block per stage.
type Model struct {
	// UI components
	spinner  spinner.Model
	progress progress.Model
	width    int

	// cancel stops the orchestration. The first ctrl+c cancels and
	// keeps the display up while in-flight requests drain; the second
	// force-quits the display.
	cancel    context.CancelFunc
	canceling bool
	startedAt time.Time

	// Submission progress
	runID         string
	totalTasks    int
	windows       int
	windowsDone   int
	windowsFailed int
	accepted      int
	failed        int
	requests      int
	halvings      int
	retryRounds   int

	// Completion watch progress
	phase      phase
	polls      int
	completed  int
	watchTotal int
	validated  bool
	streak     int
	probing    bool
	active     int
	running    int
	snapshot   bool

	// Rejected task display, capped at maxFailures entries
	maxFailures  int
	failures     []string
	moreFailures int

	// Final result
	report *orchestrator.Report
	err    error
}

// newModel creates a display model. maxFailures caps how many rejected
// tasks are listed individually; the rest collapse into a count.
func newModel(maxFailures int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 30

	return Model{
		spinner:     s,
		progress:    p,
		maxFailures: maxFailures,
		startedAt:   time.Now(),
	}
}

// Init starts the spinner tick loop, which also drives the elapsed
// time in the header.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and returns the updated model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.canceling {
				// Second press quits the display. The run still drains
				// in the background before the process exits.
				return m, tea.Quit
			}
			m.canceling = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-40, 10), 40)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case runEventMsg:
		return m.applyEvent(msg.event), nil

	case runFinishedMsg:
		m.report = msg.report
		m.err = msg.err
		m.phase = phaseDone
		return m, tea.Quit
	}

	return m, nil
}

// applyEvent folds one bus event into the display counters.
func (m Model) applyEvent(ev event.Event) Model {
	switch ev := ev.(type) {
	case event.RunStartedEvent:
		m.runID = ev.RunID
		m.totalTasks = ev.TotalTasks
		m.windows = ev.Windows

	case event.RunCompletedEvent:
		m.accepted = ev.Accepted
		m.failed = ev.Failed

	case event.WindowOversizedEvent:
		m.halvings++

	case event.WindowRetryRoundEvent:
		m.retryRounds++

	case event.WindowCompletedEvent:
		m.windowsDone++
		m.requests += ev.Requests

	case event.WindowFailedEvent:
		m.windowsFailed++

	case event.TaskSettledEvent:
		if ev.Accepted {
			m.accepted++
			break
		}
		m.failed++
		if len(m.failures) >= m.maxFailures {
			m.moreFailures++
			break
		}
		m.failures = append(m.failures, fmt.Sprintf("%s  %s", ev.TaskID, ev.Code))

	case event.MonitorPollEvent:
		m.phase = phaseWatching
		m.polls = ev.Poll
		m.completed = ev.Completed
		m.watchTotal = ev.Total
		m.validated = ev.Validated
		m.streak = ev.Streak
		m.probing = ev.Mode == event.ModeEnumerate

	case event.MonitorFallbackEvent:
		m.probing = true
		m.polls = ev.Poll
		m.completed = ev.Completed
		m.watchTotal = ev.Total

	case event.MonitorSnapshotEvent:
		m.active = ev.Active
		m.running = ev.Running
		m.snapshot = true

	case event.MonitorDoneEvent:
		m.phase = phaseWatching
		m.polls = ev.Polls
		m.completed = ev.Completed
		m.watchTotal = ev.Total
	}

	return m
}

// View renders the display.
func (m Model) View() string {
	if m.phase == phaseDone {
		return m.finalView()
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s%s %s\n\n",
		m.spinner.View(),
		titleStyle.Render("taskferry"),
		mutedStyle.Render(m.headerNote())))
	b.WriteString(m.submitView())
	if m.watchTotal > 0 {
		b.WriteString(m.watchView())
	}
	b.WriteString(m.failuresView())
	b.WriteString(m.footerView())
	return b.String()
}

func (m Model) headerNote() string {
	elapsed := time.Since(m.startedAt).Round(time.Second)
	if m.runID == "" {
		return elapsed.String()
	}
	return fmt.Sprintf("run %s · %s", shortID(m.runID), elapsed)
}

func (m Model) submitView() string {
	var b strings.Builder
	settled := m.accepted + m.failed
	bar := m.progress.ViewAs(ratio(settled, m.totalTasks))
	b.WriteString(fmt.Sprintf("  %s %s %d/%d settled\n",
		labelStyle.Render("submit"), bar, settled, m.totalTasks))

	detail := fmt.Sprintf("%d/%d windows · %d accepted · %d rejected · %d requests",
		m.windowsDone, m.windows, m.accepted, m.failed, m.requests)
	if m.halvings > 0 {
		detail += fmt.Sprintf(" · %d halvings", m.halvings)
	}
	if m.retryRounds > 0 {
		detail += fmt.Sprintf(" · %d retry rounds", m.retryRounds)
	}
	b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(""), mutedStyle.Render(detail)))

	if m.windowsFailed > 0 {
		b.WriteString(fmt.Sprintf("  %s %s\n",
			labelStyle.Render(""),
			errorStyle.Render(fmt.Sprintf("%d windows hit fatal errors", m.windowsFailed))))
	}
	return b.String()
}

func (m Model) watchView() string {
	var b strings.Builder
	bar := m.progress.ViewAs(ratio(m.completed, m.watchTotal))
	b.WriteString(fmt.Sprintf("\n  %s %s %d/%d completed\n",
		labelStyle.Render("watch"), bar, m.completed, m.watchTotal))

	detail := fmt.Sprintf("poll %d", m.polls)
	if m.snapshot {
		detail += fmt.Sprintf(" · %d active · %d running", m.active, m.running)
	}
	switch {
	case m.probing:
		detail += " · enumerating task states"
	case !m.validated && m.streak > 0:
		detail += fmt.Sprintf(" · counts unvalidated (%d in a row)", m.streak)
	}
	b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(""), mutedStyle.Render(detail)))
	return b.String()
}

func (m Model) failuresView() string {
	if len(m.failures) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n" + errorStyle.Render("  rejected tasks") + "\n")
	for _, f := range m.failures {
		b.WriteString(mutedStyle.Render("    "+f) + "\n")
	}
	if m.moreFailures > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("    and %d more", m.moreFailures)) + "\n")
	}
	return b.String()
}

func (m Model) footerView() string {
	if m.canceling {
		return "\n" + warningStyle.Render("  canceling · waiting for in-flight requests to drain (ctrl+c again to force quit)") + "\n"
	}
	return "\n" + mutedStyle.Render("  press ctrl+c to cancel") + "\n"
}

// finalView is the last frame left in the terminal after the program
// exits, so it carries the whole outcome.
func (m Model) finalView() string {
	var b strings.Builder

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("✗ run failed: %v", m.err)) + "\n")
		if m.report != nil && m.report.Settled() > 0 {
			b.WriteString(mutedStyle.Render(fmt.Sprintf(
				"  %d tasks settled before the failure (%d accepted, %d rejected)",
				m.report.Settled(), len(m.report.Accepted), len(m.report.Failed))) + "\n")
		}
		b.WriteString(m.failuresView())
		return b.String()
	}

	if m.report == nil {
		return ""
	}

	style := successStyle
	if len(m.report.Failed) > 0 {
		style = warningStyle
	}

	line := fmt.Sprintf("✓ %d accepted · %d rejected · %d requests in %s",
		len(m.report.Accepted), len(m.report.Failed), m.report.Requests,
		formatDuration(m.report.Duration))
	if m.report.Monitor != nil && m.report.Monitor.Done() {
		line += " · all tasks completed"
	}
	b.WriteString(style.Render(line) + "\n")
	b.WriteString(m.failuresView())
	return b.String()
}

// ratio returns n/total clamped to [0, 1], treating an unknown total
// as zero progress.
func ratio(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	r := float64(n) / float64(total)
	if r > 1 {
		r = 1
	}
	return r
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
