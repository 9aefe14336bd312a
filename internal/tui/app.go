// Package tui renders an inline progress display for a run. It
// subscribes to the event bus and forwards every published event into
// a Bubbletea program, so the display stays a pure fold over the same
// events the log consumers see.
package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/orchestrator"
)

// RunFunc is the orchestration the display fronts. It must honor
// context cancellation by draining in-flight work and returning.
type RunFunc func(ctx context.Context) (*orchestrator.Report, error)

// App wraps the Bubbletea program and bridges bus events into it.
type App struct {
	bus         *event.Bus
	maxFailures int
	program     *tea.Program
}

// Option configures an App.
type Option func(*App)

// WithMaxFailures caps how many rejected tasks the display lists
// individually. Anything past the cap collapses into a count.
func WithMaxFailures(n int) Option {
	return func(a *App) {
		if n >= 0 {
			a.maxFailures = n
		}
	}
}

// New creates a display app fed by events published on bus.
func New(bus *event.Bus, opts ...Option) *App {
	a := &App{
		bus:         bus,
		maxFailures: 10,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the display, runs fn in the background, and returns fn's
// result after the display exits. Canceling from the display stops fn
// through a derived context; fn drains before reporting, and Run
// always waits for it, even when the user force-quits the display.
func (a *App) Run(ctx context.Context, fn RunFunc) (*orchestrator.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newModel(a.maxFailures)
	model.cancel = cancel

	a.program = tea.NewProgram(model)

	sub := a.bus.SubscribeAll(func(ev event.Event) {
		a.program.Send(runEventMsg{event: ev})
	})
	defer a.bus.Unsubscribe(sub)

	type result struct {
		report *orchestrator.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := fn(ctx)
		// Buffer the result before poking the program: if the display
		// is already gone the Send is a no-op and the result must not
		// be lost.
		done <- result{report: report, err: err}
		a.program.Send(runFinishedMsg{report: report, err: err})
	}()

	_, uiErr := a.program.Run()

	// The display is gone, either because the run finished or because
	// the user quit. Stop the run and wait for it to drain.
	cancel()
	res := <-done

	if res.err != nil {
		return res.report, res.err
	}
	if uiErr != nil {
		return res.report, fmt.Errorf("running display: %w", uiErr)
	}
	return res.report, nil
}
