// Package monitor watches the batch service until every submitted task
// reaches its terminal state.
//
// The [Monitor] polls on a fixed interval and runs a small state
// machine with two observation modes. In aggregate mode it asks the
// service for per-state counts, the cheap call. The service marks those
// counts validated or unvalidated; only validated counts can prove
// completion. When unvalidated counts pile up past a threshold the
// monitor switches to enumerate mode for a single probe: it lists every
// task's id and state and counts terminal states itself. Unless the
// probe observes completion, the monitor drops back to aggregate mode
// and the cycle starts over.
//
// The monitor never gives up on its own. Transient poll errors are
// logged and skipped without touching any counter, and only caller
// cancellation (checked between polls, never mid-request) ends an
// unconverged wait.
package monitor
