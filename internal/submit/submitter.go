package submit

import (
	"context"
	"fmt"

	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/errors"
	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/logging"
	"github.com/taskferry/taskferry/internal/task"
)

// Option configures a Submitter.
type Option func(*Submitter)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Submitter) { s.log = log }
}

// WithBus sets the event bus progress events are published on.
// Without a bus the submitter stays silent.
func WithBus(bus *event.Bus) Option {
	return func(s *Submitter) { s.bus = bus }
}

// WithRunID tags published events with a run identifier.
func WithRunID(id string) Option {
	return func(s *Submitter) { s.runID = id }
}

// TaskFailure records a task the service rejected with a client error.
// These rejections are permanent; the task never travels through the
// submitter again.
type TaskFailure struct {
	TaskID  string            `json:"task_id"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// WindowResult is the per-window accounting returned by Submit.
type WindowResult struct {
	// Window is the range this result covers.
	Window Window `json:"window"`

	// Accepted lists the task ids the service accepted.
	Accepted []string `json:"accepted"`

	// Failed lists the tasks settled as permanently failed.
	Failed []TaskFailure `json:"failed,omitempty"`

	// Requests counts AddTaskCollection calls issued for this window,
	// including oversized rejections and retry rounds.
	Requests int `json:"requests"`

	// Halvings counts oversized rejections absorbed by slice halving.
	Halvings int `json:"halvings,omitempty"`

	// RetryRounds counts server-error resubmission rounds.
	RetryRounds int `json:"retry_rounds,omitempty"`
}

// Settled returns how many tasks in the window reached a final verdict.
func (r *WindowResult) Settled() int {
	return len(r.Accepted) + len(r.Failed)
}

// Submitter drives windows of a task store through the batch service.
// It is stateless between calls, so a single Submitter serves all of a
// pool's workers concurrently.
type Submitter struct {
	svc   batch.Service
	store *task.Store
	log   *logging.Logger
	bus   *event.Bus
	runID string
}

// NewSubmitter creates a Submitter over the given service and store.
func NewSubmitter(svc batch.Service, store *task.Store, opts ...Option) *Submitter {
	s := &Submitter{
		svc:   svc,
		store: store,
		log:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit settles every task in the window and returns the accounting.
// The returned error is fatal for the window: a single task too large
// for the service, a non-oversized whole-request rejection, a malformed
// response, or cancellation. Cancellation is honored between requests
// only; a request already on the wire is always allowed to finish.
func (s *Submitter) Submit(ctx context.Context, w Window) (*WindowResult, error) {
	if w.Start < 0 || w.End < w.Start || w.End > s.store.Len() {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "window %s out of range for %d tasks", w, s.store.Len())
	}

	res := &WindowResult{Window: w}
	log := s.log.WithWindow(w.Start, w.End)

	log.Debug("window starting", "width", w.Width())
	s.publish(event.NewWindowStartedEvent(s.runID, w.Start, w.End))

	cursor := w.Start
	for cursor < w.End {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		used, err := s.submitFrom(ctx, log, res, w, cursor)
		if err != nil {
			log.Error("window failed", "cursor", cursor, "error", err)
			s.publish(event.NewWindowFailedEvent(w.Start, w.End, err.Error()))
			return res, err
		}
		cursor += used
	}

	log.Info("window settled",
		"accepted", len(res.Accepted),
		"failed", len(res.Failed),
		"requests", res.Requests)
	s.publish(event.NewWindowCompletedEvent(w.Start, w.End, len(res.Accepted), len(res.Failed), res.Requests))
	return res, nil
}

// submitFrom submits one sub-range starting at cursor. The slice width
// resets to the full window width (clamped to what remains) and halves
// on every oversized rejection until the service accepts the request,
// then per-task verdicts are applied. Returns the width consumed.
func (s *Submitter) submitFrom(ctx context.Context, log *logging.Logger, res *WindowResult, w Window, cursor int) (int, error) {
	slice := min(w.Width(), w.End-cursor)

	for {
		items := s.store.Slice(cursor, cursor+slice)
		res.Requests++

		results, err := s.svc.AddTaskCollection(context.WithoutCancel(ctx), items)
		if err == nil {
			if err := s.settle(ctx, log, res, w, items, results); err != nil {
				return 0, err
			}
			return slice, nil
		}

		var rejected *batch.RequestRejectedError
		switch {
		case !errors.As(err, &rejected):
			return 0, errors.NewWindowError("request failed", err).
				WithRange(w.Start, w.End).
				WithCursor(cursor, slice)

		case !rejected.Oversized():
			return 0, errors.NewWindowError("request rejected", err).
				WithRange(w.Start, w.End).
				WithCursor(cursor, slice).
				WithSeverity(errors.SeverityCritical)

		case slice == 1:
			// Halving has bottomed out: this one task alone exceeds
			// the service's request limit, so the window cannot settle.
			return 0, errors.NewWindowError(
				fmt.Sprintf("task %s alone exceeds the service request limit", items[0].ID),
				errors.ErrSingleTaskTooLarge,
			).WithRange(w.Start, w.End).
				WithCursor(cursor, slice).
				WithSeverity(errors.SeverityCritical)
		}

		next := slice / 2
		log.Warn("request oversized, halving slice",
			"cursor", cursor, "slice", slice, "next_slice", next)
		s.publish(event.NewWindowOversizedEvent(w.Start, w.End, cursor, slice, next))
		res.Halvings++
		slice = next

		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
}

// settle applies per-task verdicts and keeps resubmitting the tasks
// that came back as server errors until every task in the sub-range is
// settled. Each retry round sends exactly the unsettled set as one
// request.
func (s *Submitter) settle(ctx context.Context, log *logging.Logger, res *WindowResult, w Window, items []task.Descriptor, results []batch.AddResult) error {
	round := 0
	for {
		retry, err := s.applyResults(log, res, items, results)
		if err != nil {
			return errors.NewWindowError("malformed response", err).
				WithRange(w.Start, w.End)
		}
		if len(retry) == 0 {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		round++
		res.RetryRounds++
		res.Requests++
		log.Info("resubmitting server errors", "round", round, "remaining", len(retry))
		s.publish(event.NewWindowRetryRoundEvent(w.Start, w.End, round, len(retry)))

		next, err := s.svc.AddTaskCollection(context.WithoutCancel(ctx), retry)
		if err != nil {
			// A retry set is never wider than a request the service
			// already accepted, so even an oversized rejection here is
			// fatal rather than re-sliced.
			return errors.NewWindowError("retry request failed", err).
				WithRange(w.Start, w.End).
				WithSeverity(errors.SeverityCritical)
		}
		items, results = retry, next
	}
}

// applyResults settles accepted and client-error verdicts and returns
// the descriptors that must be resubmitted, in request order.
func (s *Submitter) applyResults(log *logging.Logger, res *WindowResult, items []task.Descriptor, results []batch.AddResult) ([]task.Descriptor, error) {
	if len(results) != len(items) {
		return nil, errors.Wrapf(errors.ErrInvalidInput,
			"service returned %d results for %d submitted tasks", len(results), len(items))
	}

	byID := make(map[string]task.Descriptor, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	var retry []task.Descriptor
	for _, r := range results {
		desc, ok := byID[r.TaskID]
		if !ok {
			return nil, errors.Wrapf(errors.ErrInvalidInput,
				"service returned a result for unknown task %q", r.TaskID)
		}

		switch r.Outcome {
		case batch.OutcomeAccepted:
			res.Accepted = append(res.Accepted, r.TaskID)
			s.publish(event.NewTaskSettledEvent(r.TaskID, true, ""))

		case batch.OutcomeClientError:
			res.Failed = append(res.Failed, TaskFailure{
				TaskID:  r.TaskID,
				Code:    r.Code,
				Message: r.Message,
				Detail:  r.Detail,
			})
			args := []any{"task", r.TaskID, "code", r.Code, "message", r.Message}
			for k, v := range r.Detail {
				args = append(args, "detail."+k, v)
			}
			log.Error("task rejected by service", args...)
			s.publish(event.NewTaskSettledEvent(r.TaskID, false, r.Code))

		case batch.OutcomeServerError:
			retry = append(retry, desc)

		default:
			return nil, errors.Wrapf(errors.ErrInvalidInput,
				"unknown outcome %q for task %q", r.Outcome, r.TaskID)
		}
	}
	return retry, nil
}

func (s *Submitter) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
