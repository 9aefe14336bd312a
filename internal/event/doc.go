// Package event provides a pub-sub event bus for decoupled progress
// reporting in taskferry.
//
// The submitter, monitor, and orchestrator publish events as a run
// progresses; the progress UI, the plain-text printer, and the log
// subscriber consume them. Publishers never know who is listening, so
// the core pipeline carries no rendering or logging concerns of its own.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Run lifecycle:
//   - [RunStartedEvent]: Emitted when a submission run begins
//   - [RunCompletedEvent]: Emitted when a run finishes (successfully or not)
//
// Window submission:
//   - [WindowStartedEvent]: Emitted when a window's submitter starts
//   - [WindowOversizedEvent]: Emitted when a request is rejected as oversized and the slice is halved
//   - [WindowRetryRoundEvent]: Emitted when a server-error retry round is issued
//   - [WindowCompletedEvent]: Emitted when every task in a window is settled
//   - [WindowFailedEvent]: Emitted when a window hits a fatal error
//   - [TaskSettledEvent]: Emitted when a single task reaches a final verdict
//
// Completion monitoring:
//   - [MonitorPollEvent]: Emitted after each successful poll
//   - [MonitorFallbackEvent]: Emitted when the monitor falls back to enumeration
//   - [MonitorSnapshotEvent]: Emitted as a periodic diagnostic snapshot
//   - [MonitorDoneEvent]: Emitted when the monitor observes completion
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Multiple goroutines can publish
// and subscribe concurrently. Handlers are called synchronously and protected
// against panics. A panicking handler will not prevent other handlers from
// being called.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	// Subscribe to specific event types
//	bus.Subscribe("window.completed", func(e event.Event) {
//	    done := e.(event.WindowCompletedEvent)
//	    log.Printf("window [%d,%d) settled", done.Start, done.End)
//	})
//
//	// Subscribe to all events (useful for logging)
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("Event: %s at %v", e.EventType(), e.Timestamp())
//	})
//
//	// Publish events
//	bus.Publish(event.NewWindowStartedEvent("run-1", 0, 100))
//
//	// Unsubscribe when done
//	id := bus.Subscribe("monitor.done", handler)
//	bus.Unsubscribe(id)
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - run.started, run.completed
//   - window.started, window.oversized, window.retry_round,
//     window.completed, window.failed
//   - task.settled
//   - monitor.poll, monitor.fallback, monitor.snapshot, monitor.done
package event
