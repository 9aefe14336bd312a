package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "window.started", "monitor.done")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Run Lifecycle Events
// -----------------------------------------------------------------------------

// RunStartedEvent is emitted when a submission run begins, after the
// task collection has been split into windows.
type RunStartedEvent struct {
	baseEvent
	RunID      string // Unique identifier for this run
	TotalTasks int    // Number of tasks in the collection
	Windows    int    // Number of windows the collection was split into
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(runID string, totalTasks, windows int) RunStartedEvent {
	return RunStartedEvent{
		baseEvent:  newBaseEvent("run.started"),
		RunID:      runID,
		TotalTasks: totalTasks,
		Windows:    windows,
	}
}

// RunCompletedEvent is emitted when a run finishes, whether every task
// settled cleanly or fatal window errors were collected.
type RunCompletedEvent struct {
	baseEvent
	RunID    string        // Unique identifier for this run
	Accepted int           // Tasks settled as accepted
	Failed   int           // Tasks settled as permanently failed
	Success  bool          // True when no window hit a fatal error
	Duration time.Duration // Wall time from start to finish
}

// NewRunCompletedEvent creates a RunCompletedEvent.
func NewRunCompletedEvent(runID string, accepted, failed int, success bool, duration time.Duration) RunCompletedEvent {
	return RunCompletedEvent{
		baseEvent: newBaseEvent("run.completed"),
		RunID:     runID,
		Accepted:  accepted,
		Failed:    failed,
		Success:   success,
		Duration:  duration,
	}
}

// -----------------------------------------------------------------------------
// Window Submission Events
// -----------------------------------------------------------------------------

// WindowStartedEvent is emitted when a worker picks up a window and its
// submitter issues the first request.
type WindowStartedEvent struct {
	baseEvent
	RunID string // Run this window belongs to
	Start int    // Inclusive window start position
	End   int    // Exclusive window end position
}

// NewWindowStartedEvent creates a WindowStartedEvent.
func NewWindowStartedEvent(runID string, start, end int) WindowStartedEvent {
	return WindowStartedEvent{
		baseEvent: newBaseEvent("window.started"),
		RunID:     runID,
		Start:     start,
		End:       end,
	}
}

// WindowOversizedEvent is emitted when the service rejects a request as
// oversized and the submitter halves its slice before retrying.
type WindowOversizedEvent struct {
	baseEvent
	Start     int // Inclusive window start position
	End       int // Exclusive window end position
	Cursor    int // Position the rejected request started at
	Slice     int // Slice width that was rejected
	NextSlice int // Halved width the submitter will retry with
}

// NewWindowOversizedEvent creates a WindowOversizedEvent.
func NewWindowOversizedEvent(start, end, cursor, slice, nextSlice int) WindowOversizedEvent {
	return WindowOversizedEvent{
		baseEvent: newBaseEvent("window.oversized"),
		Start:     start,
		End:       end,
		Cursor:    cursor,
		Slice:     slice,
		NextSlice: nextSlice,
	}
}

// WindowRetryRoundEvent is emitted when tasks that came back as server
// errors are resubmitted as a dedicated retry round.
type WindowRetryRoundEvent struct {
	baseEvent
	Start     int // Inclusive window start position
	End       int // Exclusive window end position
	Round     int // Retry round number within this window, starting at 1
	Remaining int // Tasks being resubmitted in this round
}

// NewWindowRetryRoundEvent creates a WindowRetryRoundEvent.
func NewWindowRetryRoundEvent(start, end, round, remaining int) WindowRetryRoundEvent {
	return WindowRetryRoundEvent{
		baseEvent: newBaseEvent("window.retry_round"),
		Start:     start,
		End:       end,
		Round:     round,
		Remaining: remaining,
	}
}

// WindowCompletedEvent is emitted when every task in a window has been
// settled (accepted or permanently failed).
type WindowCompletedEvent struct {
	baseEvent
	Start    int // Inclusive window start position
	End      int // Exclusive window end position
	Accepted int // Tasks settled as accepted
	Failed   int // Tasks settled as permanently failed
	Requests int // AddTaskCollection requests issued for this window
}

// NewWindowCompletedEvent creates a WindowCompletedEvent.
func NewWindowCompletedEvent(start, end, accepted, failed, requests int) WindowCompletedEvent {
	return WindowCompletedEvent{
		baseEvent: newBaseEvent("window.completed"),
		Start:     start,
		End:       end,
		Accepted:  accepted,
		Failed:    failed,
		Requests:  requests,
	}
}

// WindowFailedEvent is emitted when a window's submitter hits a fatal
// error and abandons the window.
type WindowFailedEvent struct {
	baseEvent
	Start  int    // Inclusive window start position
	End    int    // Exclusive window end position
	Reason string // Error message describing the fatal condition
}

// NewWindowFailedEvent creates a WindowFailedEvent.
func NewWindowFailedEvent(start, end int, reason string) WindowFailedEvent {
	return WindowFailedEvent{
		baseEvent: newBaseEvent("window.failed"),
		Start:     start,
		End:       end,
		Reason:    reason,
	}
}

// TaskSettledEvent is emitted when a single task reaches its final
// submission verdict.
type TaskSettledEvent struct {
	baseEvent
	TaskID   string // Task identifier
	Accepted bool   // True when the service accepted the task
	Code     string // Service error code for rejected tasks
}

// NewTaskSettledEvent creates a TaskSettledEvent.
func NewTaskSettledEvent(taskID string, accepted bool, code string) TaskSettledEvent {
	return TaskSettledEvent{
		baseEvent: newBaseEvent("task.settled"),
		TaskID:    taskID,
		Accepted:  accepted,
		Code:      code,
	}
}

// -----------------------------------------------------------------------------
// Monitor Events
// -----------------------------------------------------------------------------

// MonitorMode identifies which observation mode produced a monitor event.
// Mirrors the monitor package's mode enum for decoupling.
type MonitorMode string

const (
	ModeAggregate MonitorMode = "aggregate"
	ModeEnumerate MonitorMode = "enumerate"
)

// MonitorPollEvent is emitted after each successful aggregate poll.
type MonitorPollEvent struct {
	baseEvent
	Poll      int         // Successful polls so far, starting at 1
	Completed int         // Tasks the service reports completed
	Total     int         // Expected total task count
	Validated bool        // Whether the service validated its counts
	Streak    int         // Consecutive unvalidated polls
	Mode      MonitorMode // Observation mode of this poll
}

// NewMonitorPollEvent creates a MonitorPollEvent.
func NewMonitorPollEvent(poll, completed, total int, validated bool, streak int, mode MonitorMode) MonitorPollEvent {
	return MonitorPollEvent{
		baseEvent: newBaseEvent("monitor.poll"),
		Poll:      poll,
		Completed: completed,
		Total:     total,
		Validated: validated,
		Streak:    streak,
		Mode:      mode,
	}
}

// MonitorFallbackEvent is emitted when repeated unvalidated counts push
// the monitor into a full task enumeration.
type MonitorFallbackEvent struct {
	baseEvent
	Poll      int // Poll number that triggered the fallback
	Completed int // Completed count observed by the enumeration
	Total     int // Expected total task count
}

// NewMonitorFallbackEvent creates a MonitorFallbackEvent.
func NewMonitorFallbackEvent(poll, completed, total int) MonitorFallbackEvent {
	return MonitorFallbackEvent{
		baseEvent: newBaseEvent("monitor.fallback"),
		Poll:      poll,
		Completed: completed,
		Total:     total,
	}
}

// MonitorSnapshotEvent is a periodic diagnostic emitted every Nth poll.
// It has no effect on the monitor's state machine.
type MonitorSnapshotEvent struct {
	baseEvent
	Poll      int         // Poll number this snapshot was taken at
	Active    int         // Tasks the service reports queued
	Running   int         // Tasks the service reports executing
	Completed int         // Tasks the service reports completed
	Failed    int         // Tasks the service reports failed
	Total     int         // Expected total task count
	Streak    int         // Consecutive unvalidated polls
	Mode      MonitorMode // Current observation mode
}

// NewMonitorSnapshotEvent creates a MonitorSnapshotEvent.
func NewMonitorSnapshotEvent(poll, active, running, completed, failed, total, streak int, mode MonitorMode) MonitorSnapshotEvent {
	return MonitorSnapshotEvent{
		baseEvent: newBaseEvent("monitor.snapshot"),
		Poll:      poll,
		Active:    active,
		Running:   running,
		Completed: completed,
		Failed:    failed,
		Total:     total,
		Streak:    streak,
		Mode:      mode,
	}
}

// MonitorDoneEvent is emitted once when the monitor observes that every
// task has completed.
type MonitorDoneEvent struct {
	baseEvent
	Polls     int         // Successful polls it took to converge
	Completed int         // Final completed count
	Total     int         // Expected total task count
	Mode      MonitorMode // Mode that observed completion
}

// NewMonitorDoneEvent creates a MonitorDoneEvent.
func NewMonitorDoneEvent(polls, completed, total int, mode MonitorMode) MonitorDoneEvent {
	return MonitorDoneEvent{
		baseEvent: newBaseEvent("monitor.done"),
		Polls:     polls,
		Completed: completed,
		Total:     total,
		Mode:      mode,
	}
}
