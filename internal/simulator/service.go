package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/task"
)

// DefaultMaxTasksPerRequest is the simulated per-request task ceiling.
const DefaultMaxTasksPerRequest = 100

// AddCall describes one AddTaskCollection request, as seen by an
// interceptor.
type AddCall struct {
	// Call is the 1-based request number across the service's life.
	Call int

	// IDs lists the submitted task ids in request order.
	IDs []string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMaxTasksPerRequest sets the per-request ceiling above which the
// whole request is rejected as oversized.
func WithMaxTasksPerRequest(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxPerReq = n
		}
	}
}

// WithAddInterceptor installs a hook that runs before each
// AddTaskCollection request is processed. A non-nil return fails the
// whole request with that error and leaves the task table untouched.
func WithAddInterceptor(f func(AddCall) error) ServiceOption {
	return func(s *Service) { s.intercept = f }
}

// WithOutcomeFunc decides the per-task verdict for new submissions.
// attempt starts at 1 and counts how many times this id has been
// processed. Already-accepted ids never reach the outcome func; they
// are reported accepted again without reprocessing.
func WithOutcomeFunc(f func(id string, attempt int) batch.Outcome) ServiceOption {
	return func(s *Service) { s.outcome = f }
}

// WithAutoComplete makes every accepted task reach the terminal state
// on its own after d.
func WithAutoComplete(d time.Duration) ServiceOption {
	return func(s *Service) { s.autoComplete = d }
}

// WithValidation sets the initial count validation flag reported by
// TaskCounts. Defaults to true.
func WithValidation(v bool) ServiceOption {
	return func(s *Service) { s.validated = v }
}

// taskRecord is one accepted task's service-side state.
type taskRecord struct {
	desc  task.Descriptor
	state string
}

// Service is an in-memory batch service. It is safe for concurrent use.
type Service struct {
	mu           sync.Mutex
	maxPerReq    int
	validated    bool
	tasks        map[string]*taskRecord
	order        []string
	attempts     map[string]int
	requests     [][]string
	intercept    func(AddCall) error
	outcome      func(id string, attempt int) batch.Outcome
	autoComplete time.Duration
}

// NewService creates a Service with the given options.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		maxPerReq: DefaultMaxTasksPerRequest,
		validated: true,
		tasks:     make(map[string]*taskRecord),
		attempts:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddTaskCollection processes one submission request. The interceptor
// runs first, then the ceiling check, then per-task verdicts.
func (s *Service) AddTaskCollection(ctx context.Context, items []task.Descriptor) ([]batch.AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	s.requests = append(s.requests, ids)

	if s.intercept != nil {
		if err := s.intercept(AddCall{Call: len(s.requests), IDs: ids}); err != nil {
			return nil, err
		}
	}

	if len(items) > s.maxPerReq {
		return nil, &batch.RequestRejectedError{
			Reason:  batch.RejectedOversized,
			Code:    "RequestBodyTooLarge",
			Message: fmt.Sprintf("request holds %d tasks, limit is %d", len(items), s.maxPerReq),
		}
	}

	results := make([]batch.AddResult, len(items))
	for i, it := range items {
		results[i] = s.addOne(it)
	}
	return results, nil
}

// addOne produces the verdict for a single submitted task. Caller holds
// the lock.
func (s *Service) addOne(it task.Descriptor) batch.AddResult {
	if it.ID == "" {
		return batch.AddResult{
			Outcome: batch.OutcomeClientError,
			Code:    "MissingTaskID",
			Message: "task id must not be empty",
		}
	}

	// Idempotent accept: a task the service already holds is reported
	// accepted again without touching its state.
	if _, exists := s.tasks[it.ID]; exists {
		return batch.AddResult{TaskID: it.ID, Outcome: batch.OutcomeAccepted}
	}

	s.attempts[it.ID]++
	outcome := batch.OutcomeAccepted
	if s.outcome != nil {
		outcome = s.outcome(it.ID, s.attempts[it.ID])
	}

	switch outcome {
	case batch.OutcomeClientError:
		return batch.AddResult{
			TaskID:  it.ID,
			Outcome: batch.OutcomeClientError,
			Code:    "InvalidTask",
			Message: "task failed validation",
			Detail:  map[string]string{"attempt": fmt.Sprintf("%d", s.attempts[it.ID])},
		}

	case batch.OutcomeServerError:
		return batch.AddResult{
			TaskID:  it.ID,
			Outcome: batch.OutcomeServerError,
			Code:    "InternalError",
			Message: "transient server failure, retry the task",
		}
	}

	rec := &taskRecord{desc: it, state: batch.StateActive}
	s.tasks[it.ID] = rec
	s.order = append(s.order, it.ID)

	if s.autoComplete > 0 {
		time.AfterFunc(s.autoComplete, func() {
			s.mu.Lock()
			rec.state = batch.StateCompleted
			s.mu.Unlock()
		})
	}

	return batch.AddResult{TaskID: it.ID, Outcome: batch.OutcomeAccepted}
}

// TaskCounts reports the per-state counts of the task table.
func (s *Service) TaskCounts(ctx context.Context, totalExpected int) (batch.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := batch.Counts{Validated: s.validated}
	for _, rec := range s.tasks {
		switch rec.state {
		case batch.StateActive:
			counts.Active++
		case batch.StateRunning:
			counts.Running++
		case batch.StateCompleted:
			counts.Completed++
		default:
			counts.Failed++
		}
	}
	return counts, nil
}

// ListTaskStates enumerates every task as an (id, state) pair in
// acceptance order.
func (s *Service) ListTaskStates(ctx context.Context) ([]batch.TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]batch.TaskState, 0, len(s.order))
	for _, id := range s.order {
		states = append(states, batch.TaskState{ID: id, State: s.tasks[id].state})
	}
	return states, nil
}

// SetValidated flips the validation flag TaskCounts reports.
func (s *Service) SetValidated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validated = v
}

// Start moves the given tasks into the running state. Unknown ids are
// ignored.
func (s *Service) Start(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := s.tasks[id]; ok && rec.state == batch.StateActive {
			rec.state = batch.StateRunning
		}
	}
}

// Complete moves the given tasks into the terminal state. Unknown ids
// are ignored.
func (s *Service) Complete(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := s.tasks[id]; ok {
			rec.state = batch.StateCompleted
		}
	}
}

// CompleteAll moves every task into the terminal state.
func (s *Service) CompleteAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.tasks {
		rec.state = batch.StateCompleted
	}
}

// Len returns how many tasks the service holds.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// State returns the state of one task.
func (s *Service) State(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return "", false
	}
	return rec.state, true
}

// Requests returns a copy of every id list the service has seen, in
// request order, including rejected requests.
func (s *Service) Requests() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.requests))
	for i, ids := range s.requests {
		out[i] = append([]string(nil), ids...)
	}
	return out
}
