package monitor

import (
	"context"
	"time"

	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/logging"
)

// Default monitor tuning.
const (
	// DefaultPollInterval is how often the service is observed.
	DefaultPollInterval = 2 * time.Second

	// DefaultUnvalidatedThreshold is how many consecutive unvalidated
	// count polls trigger an enumeration probe.
	DefaultUnvalidatedThreshold = 10

	// DefaultSnapshotEvery controls the diagnostic snapshot cadence,
	// in successful polls.
	DefaultSnapshotEvery = 15
)

// mode selects the observation strategy for the next poll.
type mode int

const (
	modeAggregate mode = iota
	modeEnumerate
)

func (m mode) String() string {
	if m == modeEnumerate {
		return "enumerate"
	}
	return "aggregate"
}

func (m mode) eventMode() event.MonitorMode {
	if m == modeEnumerate {
		return event.ModeEnumerate
	}
	return event.ModeAggregate
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollInterval sets the observation interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithUnvalidatedThreshold sets how many consecutive unvalidated polls
// trigger an enumeration probe.
func WithUnvalidatedThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// WithSnapshotEvery sets the diagnostic snapshot cadence in polls.
func WithSnapshotEvery(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.snapshotEvery = n
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *logging.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithBus sets the event bus progress events are published on.
func WithBus(bus *event.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// Status is the monitor's accounting, returned when the wait ends.
type Status struct {
	// Polls counts successful observations (failed polls are not
	// counted).
	Polls int

	// Fallbacks counts completed enumeration probes.
	Fallbacks int

	// Completed is the last observed terminal-state count.
	Completed int

	// Total is the expected task count the wait converges toward.
	Total int

	// Counts is the last successful aggregate observation.
	Counts batch.Counts

	// Elapsed is wall time from the start of the wait.
	Elapsed time.Duration
}

// Done reports whether the last observation proved completion.
func (s *Status) Done() bool {
	return s.Completed == s.Total
}

// Monitor polls a batch service until all tasks complete.
type Monitor struct {
	svc           batch.Service
	interval      time.Duration
	threshold     int
	snapshotEvery int
	log           *logging.Logger
	bus           *event.Bus
}

// New creates a Monitor for the given service.
func New(svc batch.Service, opts ...Option) *Monitor {
	m := &Monitor{
		svc:           svc,
		interval:      DefaultPollInterval,
		threshold:     DefaultUnvalidatedThreshold,
		snapshotEvery: DefaultSnapshotEvery,
		log:           logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run blocks until the service reports all total tasks completed, or
// until ctx is canceled between polls. It returns the accounting either
// way; the error is non-nil only for cancellation. Poll failures are
// logged and retried forever, so an unreachable service stalls the wait
// rather than ending it.
func (m *Monitor) Run(ctx context.Context, total int) (*Status, error) {
	status := &Status{Total: total}
	state := modeAggregate
	streak := 0
	start := time.Now()

	log := m.log.WithComponent("monitor")
	log.Info("monitoring until all tasks complete",
		"total", total,
		"interval", m.interval.String())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			status.Elapsed = time.Since(start)
			return status, ctx.Err()
		case <-ticker.C:
		}
		// The ticker may have fired alongside the cancellation; never
		// start another observation once the caller has given up.
		if err := ctx.Err(); err != nil {
			status.Elapsed = time.Since(start)
			return status, err
		}

		switch state {
		case modeAggregate:
			counts, err := m.svc.TaskCounts(context.WithoutCancel(ctx), total)
			if err != nil {
				log.Warn("count poll failed, will retry", "error", err)
				continue
			}

			status.Polls++
			status.Counts = counts
			status.Completed = counts.Completed
			m.publish(event.NewMonitorPollEvent(
				status.Polls, counts.Completed, total, counts.Validated, streak, state.eventMode()))

			switch {
			case counts.Validated && counts.Completed == total:
				status.Elapsed = time.Since(start)
				log.Info("all tasks completed",
					"polls", status.Polls,
					"elapsed", status.Elapsed.String())
				m.publish(event.NewMonitorDoneEvent(status.Polls, counts.Completed, total, state.eventMode()))
				return status, nil

			case counts.Validated:
				streak = 0
				log.Debug("tasks still in progress",
					"completed", counts.Completed,
					"running", counts.Running,
					"active", counts.Active,
					"total", total)

			default:
				streak++
				log.Debug("counts unvalidated", "streak", streak, "threshold", m.threshold)
				if streak >= m.threshold {
					log.Info("count validation stalled, falling back to task enumeration",
						"streak", streak)
					state = modeEnumerate
				}
			}

		case modeEnumerate:
			states, err := m.svc.ListTaskStates(context.WithoutCancel(ctx))
			if err != nil {
				log.Warn("task enumeration failed, will retry", "error", err)
				continue
			}

			completed := batch.CountCompleted(states)
			status.Polls++
			status.Fallbacks++
			status.Completed = completed
			m.publish(event.NewMonitorPollEvent(
				status.Polls, completed, total, true, streak, state.eventMode()))
			m.publish(event.NewMonitorFallbackEvent(status.Polls, completed, total))

			if completed == total {
				status.Elapsed = time.Since(start)
				log.Info("all tasks completed",
					"polls", status.Polls,
					"fallbacks", status.Fallbacks,
					"elapsed", status.Elapsed.String())
				m.publish(event.NewMonitorDoneEvent(status.Polls, completed, total, state.eventMode()))
				return status, nil
			}

			// The probe is a one-shot: back to cheap counting.
			log.Debug("enumeration incomplete, resuming count polls",
				"completed", completed, "total", total)
			streak = 0
			state = modeAggregate
		}

		if status.Polls%m.snapshotEvery == 0 {
			m.snapshot(log, status, streak, state)
		}
	}
}

// snapshot emits the periodic diagnostic. It never changes monitor
// state.
func (m *Monitor) snapshot(log *logging.Logger, status *Status, streak int, state mode) {
	log.Info("monitor snapshot",
		"poll", status.Polls,
		"completed", status.Completed,
		"active", status.Counts.Active,
		"running", status.Counts.Running,
		"failed", status.Counts.Failed,
		"total", status.Total,
		"streak", streak,
		"mode", state.String())
	m.publish(event.NewMonitorSnapshotEvent(
		status.Polls,
		status.Counts.Active,
		status.Counts.Running,
		status.Completed,
		status.Counts.Failed,
		status.Total,
		streak,
		state.eventMode()))
}

func (m *Monitor) publish(e event.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
