package tui

import (
	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/orchestrator"
)

// runEventMsg carries a bus event into the model. Every event the run
// publishes arrives through this message, in publish order.
type runEventMsg struct {
	event event.Event
}

// runFinishedMsg is sent exactly once, when the orchestration goroutine
// returns. It always quits the program.
type runFinishedMsg struct {
	report *orchestrator.Report
	err    error
}
