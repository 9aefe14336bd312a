// Package batch defines the boundary between taskferry and the remote
// batch service.
//
// The core type is [Service], the interface every backend implements:
// the REST client in batch/rest talks to a real deployment, while the
// simulator package provides an in-memory implementation for tests and
// local experiments. Everything above the boundary (submitter, monitor,
// orchestrator) depends on this package only.
//
// A submission request either fails as a whole ([RequestRejectedError],
// with [RejectedOversized] signalling the request exceeded the service's
// per-request ceiling) or returns one [AddResult] per submitted task.
// Each result carries an [Outcome] tag that drives the submitter's
// retry branching: accepted tasks are settled, client errors are
// settled permanently without retry, and server errors are resubmitted.
package batch
