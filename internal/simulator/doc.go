// Package simulator provides a local, in-memory batch service.
//
// [Service] implements the same boundary the real service does, with a
// per-request task ceiling, idempotent accepts, and task lifecycle
// state the caller can drive by hand ([Service.Complete],
// [Service.CompleteAll]) or on a timer ([WithAutoComplete]). Failure
// behavior is scriptable: [WithAddInterceptor] fails whole requests and
// [WithOutcomeFunc] decides per-task verdicts, which is how the tests
// arrange oversized rejections, client errors, and transient server
// errors on demand.
//
// [Server] wraps a Service in the REST wire format behind a chi router,
// so the same scripted service can stand in for a real deployment over
// HTTP. The serve command runs it standalone for local experiments.
package simulator
