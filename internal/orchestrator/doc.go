// Package orchestrator ties the submission pipeline together. A Run
// freezes the task collection into a store, splits it into windows no
// wider than the service's per-request ceiling, drives the windows
// through a bounded worker pool, and optionally blocks until the
// service reports every accepted task terminal.
//
// The orchestrator owns no policy of its own: windowing lives in the
// submit package and the completion wait in the monitor package. What
// it adds is the run identity (a fresh run id tagging all logs and
// events), the aggregation of per-window results into a single Report,
// and the rule that only accepted tasks are monitored. Tasks the
// service rejected permanently never exist on the service side, so
// waiting for them would never end.
//
// Usage:
//
//	orc := orchestrator.New(svc,
//		orchestrator.WithLogger(log),
//		orchestrator.WithBus(bus),
//		orchestrator.WithMaxParallel(8))
//	report, err := orc.Run(ctx, tasks, true)
//
// The report always carries whatever accounting the run produced, even
// when the error is non-nil.
package orchestrator
