package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/logging"
	"github.com/taskferry/taskferry/internal/monitor"
	"github.com/taskferry/taskferry/internal/submit"
	"github.com/taskferry/taskferry/internal/task"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithBus sets the event bus run progress is published on.
func WithBus(bus *event.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithMaxTasksPerRequest overrides the service's per-request task
// ceiling, which is also the window width.
func WithMaxTasksPerRequest(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPerRequest = n
		}
	}
}

// WithMaxParallel caps how many windows are submitted concurrently.
// Zero keeps the pool's default.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithPollInterval sets the completion monitor's observation interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithUnvalidatedThreshold sets how many consecutive unvalidated count
// polls make the monitor fall back to task enumeration.
func WithUnvalidatedThreshold(n int) Option {
	return func(o *Orchestrator) { o.unvalidatedThreshold = n }
}

// WithSnapshotEvery sets the monitor's diagnostic snapshot cadence.
func WithSnapshotEvery(n int) Option {
	return func(o *Orchestrator) { o.snapshotEvery = n }
}

// Report is the full accounting for one run.
type Report struct {
	// RunID identifies the run in logs and events.
	RunID string `json:"run_id"`

	// TotalTasks is the size of the collection handed to Run.
	TotalTasks int `json:"total_tasks"`

	// Windows holds the per-window accounting in window order. A
	// window that failed keeps whatever it settled before the error.
	Windows []*submit.WindowResult `json:"windows"`

	// Accepted lists every task id the service accepted.
	Accepted []string `json:"accepted"`

	// Failed lists every task the service rejected permanently.
	Failed []submit.TaskFailure `json:"failed,omitempty"`

	// Requests counts all AddTaskCollection calls across windows.
	Requests int `json:"requests"`

	// Halvings counts oversized rejections absorbed by slice halving.
	Halvings int `json:"halvings,omitempty"`

	// RetryRounds counts server-error resubmission rounds.
	RetryRounds int `json:"retry_rounds,omitempty"`

	// Monitor is the completion wait accounting, nil when the run did
	// not monitor.
	Monitor *monitor.Status `json:"monitor,omitempty"`

	// Duration is wall time for the whole run.
	Duration time.Duration `json:"duration"`
}

// Settled returns how many tasks reached a final verdict.
func (r *Report) Settled() int {
	return len(r.Accepted) + len(r.Failed)
}

// Orchestrator runs complete submissions against a batch service.
type Orchestrator struct {
	svc batch.Service
	log *logging.Logger
	bus *event.Bus

	maxPerRequest int
	maxParallel   int

	pollInterval         time.Duration
	unvalidatedThreshold int
	snapshotEvery        int
}

// New creates an Orchestrator over the given batch service.
func New(svc batch.Service, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		svc:           svc,
		log:           logging.NopLogger(),
		maxPerRequest: submit.DefaultMaxTasksPerRequest,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run submits every task in the collection and, when watch is true,
// blocks until the service reports each accepted task terminal. The
// returned report carries whatever accounting the run produced, even
// when the error is non-nil. Cancellation stops the run between
// requests and between polls; work already on the wire finishes first.
func (o *Orchestrator) Run(ctx context.Context, tasks map[string]task.Descriptor, watch bool) (*Report, error) {
	store, err := task.NewStore(tasks)
	if err != nil {
		return nil, err
	}

	windows, err := submit.SplitWindows(store.Len(), o.maxPerRequest)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:      uuid.NewString(),
		TotalTasks: store.Len(),
	}
	start := time.Now()

	log := o.log.WithRun(report.RunID)
	log.Info("run starting",
		"tasks", report.TotalTasks,
		"windows", len(windows),
		"max_per_request", o.maxPerRequest)
	o.publish(event.NewRunStartedEvent(report.RunID, report.TotalTasks, len(windows)))

	if err := o.submitAll(ctx, log, store, windows, report); err != nil {
		report.Duration = time.Since(start)
		log.Error("run failed during submission",
			"accepted", len(report.Accepted),
			"failed", len(report.Failed),
			"error", err)
		o.publish(event.NewRunCompletedEvent(
			report.RunID, len(report.Accepted), len(report.Failed), false, report.Duration))
		return report, err
	}

	log.Info("submission complete",
		"accepted", len(report.Accepted),
		"failed", len(report.Failed),
		"requests", report.Requests)

	if watch {
		if err := o.watchCompletion(ctx, log, report); err != nil {
			report.Duration = time.Since(start)
			o.publish(event.NewRunCompletedEvent(
				report.RunID, len(report.Accepted), len(report.Failed), false, report.Duration))
			return report, err
		}
	}

	report.Duration = time.Since(start)
	log.Info("run complete",
		"accepted", len(report.Accepted),
		"failed", len(report.Failed),
		"duration", report.Duration.String())
	o.publish(event.NewRunCompletedEvent(
		report.RunID, len(report.Accepted), len(report.Failed), true, report.Duration))
	return report, nil
}

// submitAll drives every window through the pool and folds the results
// into the report.
func (o *Orchestrator) submitAll(ctx context.Context, log *logging.Logger, store *task.Store, windows []submit.Window, report *Report) error {
	sub := submit.NewSubmitter(o.svc, store,
		submit.WithLogger(log),
		submit.WithBus(o.bus),
		submit.WithRunID(report.RunID))
	pool := submit.NewPool(sub, o.maxParallel)

	results, err := pool.Run(ctx, windows)
	report.Windows = results
	for _, res := range results {
		if res == nil {
			continue
		}
		report.Accepted = append(report.Accepted, res.Accepted...)
		report.Failed = append(report.Failed, res.Failed...)
		report.Requests += res.Requests
		report.Halvings += res.Halvings
		report.RetryRounds += res.RetryRounds
	}
	return err
}

// watchCompletion blocks until the service reports every accepted task
// terminal. Permanently failed tasks never made it onto the service, so
// the wait converges on the accepted count, not the collection size.
func (o *Orchestrator) watchCompletion(ctx context.Context, log *logging.Logger, report *Report) error {
	if len(report.Accepted) == 0 {
		log.Info("no accepted tasks to monitor")
		return nil
	}

	mon := monitor.New(o.svc,
		monitor.WithPollInterval(o.pollInterval),
		monitor.WithUnvalidatedThreshold(o.unvalidatedThreshold),
		monitor.WithSnapshotEvery(o.snapshotEvery),
		monitor.WithLogger(log),
		monitor.WithBus(o.bus))

	status, err := mon.Run(ctx, len(report.Accepted))
	report.Monitor = status
	return err
}

func (o *Orchestrator) publish(e event.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}
