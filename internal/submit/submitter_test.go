package submit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/errors"
	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/task"
)

// fakeService scripts AddTaskCollection responses and records every
// request it sees. The add function receives the 1-based call number.
type fakeService struct {
	mu    sync.Mutex
	calls [][]string
	add   func(call int, items []task.Descriptor) ([]batch.AddResult, error)
}

func (f *fakeService) AddTaskCollection(ctx context.Context, items []task.Descriptor) ([]batch.AddResult, error) {
	f.mu.Lock()
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	f.calls = append(f.calls, ids)
	call := len(f.calls)
	f.mu.Unlock()
	return f.add(call, items)
}

func (f *fakeService) TaskCounts(ctx context.Context, totalExpected int) (batch.Counts, error) {
	return batch.Counts{}, nil
}

func (f *fakeService) ListTaskStates(ctx context.Context) ([]batch.TaskState, error) {
	return nil, nil
}

func (f *fakeService) recorded() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func acceptAll(items []task.Descriptor) []batch.AddResult {
	results := make([]batch.AddResult, len(items))
	for i, it := range items {
		results[i] = batch.AddResult{TaskID: it.ID, Outcome: batch.OutcomeAccepted}
	}
	return results
}

func oversized() error {
	return &batch.RequestRejectedError{
		Reason:  batch.RejectedOversized,
		Code:    "RequestBodyTooLarge",
		Message: "request exceeds the maximum permitted size",
	}
}

func makeStore(t *testing.T, n int) *task.Store {
	t.Helper()
	tasks := make(map[string]task.Descriptor, n)
	for i := range n {
		id := fmt.Sprintf("task-%03d", i)
		tasks[id] = task.Descriptor{ID: id}
	}
	store, err := task.NewStore(tasks)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestSubmitter_AcceptsWindow(t *testing.T) {
	store := makeStore(t, 10)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		return acceptAll(items), nil
	}}

	sub := NewSubmitter(svc, store)
	res, err := sub.Submit(context.Background(), Window{Start: 0, End: 10})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(res.Accepted) != 10 {
		t.Errorf("accepted %d tasks, want 10", len(res.Accepted))
	}
	if res.Requests != 1 {
		t.Errorf("Requests = %d, want 1", res.Requests)
	}
	if res.Halvings != 0 || res.RetryRounds != 0 {
		t.Errorf("Halvings = %d, RetryRounds = %d, want 0, 0", res.Halvings, res.RetryRounds)
	}

	// Accepted ids preserve store order.
	for i, id := range res.Accepted {
		want := fmt.Sprintf("task-%03d", i)
		if id != want {
			t.Errorf("Accepted[%d] = %q, want %q", i, id, want)
		}
	}
}

func TestSubmitter_HalvesUntilAccepted(t *testing.T) {
	// The service accepts at most 2 tasks per request. Every sub-range
	// starts back at the full remaining width and halves its way down,
	// always retrying the same cursor.
	store := makeStore(t, 8)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		if len(items) > 2 {
			return nil, oversized()
		}
		return acceptAll(items), nil
	}}

	sub := NewSubmitter(svc, store)
	res, err := sub.Submit(context.Background(), Window{Start: 0, End: 8})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	wantLens := []int{8, 4, 2, 6, 3, 1, 5, 2, 3, 1, 2}
	wantFirst := []string{
		"task-000", "task-000", "task-000",
		"task-002", "task-002", "task-002",
		"task-003", "task-003",
		"task-005", "task-005",
		"task-006",
	}

	calls := svc.recorded()
	if len(calls) != len(wantLens) {
		t.Fatalf("service saw %d requests, want %d: %v", len(calls), len(wantLens), calls)
	}
	for i, call := range calls {
		if len(call) != wantLens[i] {
			t.Errorf("request %d had %d tasks, want %d", i, len(call), wantLens[i])
		}
		if call[0] != wantFirst[i] {
			t.Errorf("request %d started at %s, want %s", i, call[0], wantFirst[i])
		}
	}

	if len(res.Accepted) != 8 {
		t.Errorf("accepted %d tasks, want 8", len(res.Accepted))
	}
	if res.Requests != 11 {
		t.Errorf("Requests = %d, want 11", res.Requests)
	}
	if res.Halvings != 6 {
		t.Errorf("Halvings = %d, want 6", res.Halvings)
	}
}

func TestSubmitter_SingleTaskTooLarge(t *testing.T) {
	store := makeStore(t, 4)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		return nil, oversized()
	}}

	var events []string
	bus := event.NewBus()
	bus.SubscribeAll(func(e event.Event) { events = append(events, e.EventType()) })

	sub := NewSubmitter(svc, store, WithBus(bus))
	_, err := sub.Submit(context.Background(), Window{Start: 0, End: 4})
	if err == nil {
		t.Fatal("Submit should fail when a single task is still oversized")
	}

	if !errors.Is(err, errors.ErrSingleTaskTooLarge) {
		t.Errorf("error should wrap ErrSingleTaskTooLarge, got %v", err)
	}
	if !errors.IsFatalForRun(err) {
		t.Error("single oversized task should be fatal for the run")
	}

	var winErr *errors.WindowError
	if !errors.As(err, &winErr) {
		t.Fatalf("expected *errors.WindowError, got %T", err)
	}
	if winErr.Start != 0 || winErr.End != 4 {
		t.Errorf("window error range [%d,%d), want [0,4)", winErr.Start, winErr.End)
	}
	if !strings.Contains(err.Error(), "task-000") {
		t.Errorf("error should name the offending task: %v", err)
	}

	// Halving sequence 4 -> 2 -> 1, then fatal.
	if got := len(svc.recorded()); got != 3 {
		t.Errorf("service saw %d requests, want 3", got)
	}

	if events[len(events)-1] != "window.failed" {
		t.Errorf("last event = %s, want window.failed", events[len(events)-1])
	}
}

func TestSubmitter_ClientErrorSettledPermanently(t *testing.T) {
	store := makeStore(t, 5)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		results := make([]batch.AddResult, len(items))
		for i, it := range items {
			if it.ID == "task-002" {
				results[i] = batch.AddResult{
					TaskID:  it.ID,
					Outcome: batch.OutcomeClientError,
					Code:    "InvalidPayload",
					Message: "payload failed validation",
					Detail:  map[string]string{"field": "payload.size"},
				}
				continue
			}
			results[i] = batch.AddResult{TaskID: it.ID, Outcome: batch.OutcomeAccepted}
		}
		return results, nil
	}}

	sub := NewSubmitter(svc, store)
	res, err := sub.Submit(context.Background(), Window{Start: 0, End: 5})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(res.Accepted) != 4 {
		t.Errorf("accepted %d tasks, want 4", len(res.Accepted))
	}
	if len(res.Failed) != 1 {
		t.Fatalf("failed %d tasks, want 1", len(res.Failed))
	}

	failure := res.Failed[0]
	if failure.TaskID != "task-002" {
		t.Errorf("failed task = %s, want task-002", failure.TaskID)
	}
	if failure.Code != "InvalidPayload" {
		t.Errorf("failure code = %s, want InvalidPayload", failure.Code)
	}
	if failure.Detail["field"] != "payload.size" {
		t.Errorf("failure detail = %v, want field=payload.size", failure.Detail)
	}

	// A client error settles the task: exactly one request, no retries.
	if got := len(svc.recorded()); got != 1 {
		t.Errorf("service saw %d requests, want 1", got)
	}
	if res.RetryRounds != 0 {
		t.Errorf("RetryRounds = %d, want 0", res.RetryRounds)
	}
}

func TestSubmitter_ServerErrorsResubmitted(t *testing.T) {
	// First request: task-001 and task-003 come back as server errors.
	// Retry round 1 resubmits exactly those two; task-003 fails again.
	// Retry round 2 resubmits exactly task-003.
	store := makeStore(t, 6)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		results := make([]batch.AddResult, len(items))
		for i, it := range items {
			serverErr := (call == 1 && (it.ID == "task-001" || it.ID == "task-003")) ||
				(call == 2 && it.ID == "task-003")
			if serverErr {
				results[i] = batch.AddResult{
					TaskID:  it.ID,
					Outcome: batch.OutcomeServerError,
					Code:    "InternalError",
				}
			} else {
				results[i] = batch.AddResult{TaskID: it.ID, Outcome: batch.OutcomeAccepted}
			}
		}
		return results, nil
	}}

	sub := NewSubmitter(svc, store)
	res, err := sub.Submit(context.Background(), Window{Start: 0, End: 6})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	calls := svc.recorded()
	if len(calls) != 3 {
		t.Fatalf("service saw %d requests, want 3: %v", len(calls), calls)
	}

	wantRetry1 := []string{"task-001", "task-003"}
	if len(calls[1]) != 2 || calls[1][0] != wantRetry1[0] || calls[1][1] != wantRetry1[1] {
		t.Errorf("retry round 1 submitted %v, want %v", calls[1], wantRetry1)
	}
	if len(calls[2]) != 1 || calls[2][0] != "task-003" {
		t.Errorf("retry round 2 submitted %v, want [task-003]", calls[2])
	}

	if len(res.Accepted) != 6 {
		t.Errorf("accepted %d tasks, want 6", len(res.Accepted))
	}
	if res.RetryRounds != 2 {
		t.Errorf("RetryRounds = %d, want 2", res.RetryRounds)
	}
	if res.Requests != 3 {
		t.Errorf("Requests = %d, want 3", res.Requests)
	}
}

func TestSubmitter_RetryRejectionIsFatal(t *testing.T) {
	// An oversized rejection of a retry-set request is not re-sliced.
	store := makeStore(t, 4)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		if call == 1 {
			results := acceptAll(items)
			results[1].Outcome = batch.OutcomeServerError
			results[2].Outcome = batch.OutcomeServerError
			return results, nil
		}
		return nil, oversized()
	}}

	sub := NewSubmitter(svc, store)
	_, err := sub.Submit(context.Background(), Window{Start: 0, End: 4})
	if err == nil {
		t.Fatal("Submit should fail when a retry request is rejected")
	}

	var winErr *errors.WindowError
	if !errors.As(err, &winErr) {
		t.Fatalf("expected *errors.WindowError, got %T", err)
	}

	// No halving: the rejected retry request is the last one issued.
	if got := len(svc.recorded()); got != 2 {
		t.Errorf("service saw %d requests, want 2", got)
	}
}

func TestSubmitter_OtherRejectionIsFatal(t *testing.T) {
	store := makeStore(t, 4)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		return nil, &batch.RequestRejectedError{Reason: batch.RejectedOther, Message: "job not found"}
	}}

	sub := NewSubmitter(svc, store)
	_, err := sub.Submit(context.Background(), Window{Start: 0, End: 4})
	if err == nil {
		t.Fatal("Submit should fail on a non-oversized rejection")
	}
	if errors.Is(err, errors.ErrSingleTaskTooLarge) {
		t.Error("non-oversized rejection must not look like an oversized task")
	}
	if got := len(svc.recorded()); got != 1 {
		t.Errorf("service saw %d requests, want 1 (no halving)", got)
	}
}

func TestSubmitter_TransportErrorIsFatal(t *testing.T) {
	store := makeStore(t, 4)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		return nil, errors.New("connection refused")
	}}

	sub := NewSubmitter(svc, store)
	_, err := sub.Submit(context.Background(), Window{Start: 0, End: 4})
	if err == nil {
		t.Fatal("Submit should surface transport errors")
	}

	var winErr *errors.WindowError
	if !errors.As(err, &winErr) {
		t.Fatalf("expected *errors.WindowError, got %T", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error should carry the cause: %v", err)
	}
}

func TestSubmitter_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		add  func(call int, items []task.Descriptor) ([]batch.AddResult, error)
	}{
		{
			name: "result count mismatch",
			add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
				return acceptAll(items)[:len(items)-1], nil
			},
		},
		{
			name: "unknown task id",
			add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
				results := acceptAll(items)
				results[0].TaskID = "task-999"
				return results, nil
			},
		},
		{
			name: "unknown outcome",
			add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
				results := acceptAll(items)
				results[0].Outcome = "exploded"
				return results, nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := makeStore(t, 3)
			sub := NewSubmitter(&fakeService{add: tt.add}, store)
			_, err := sub.Submit(context.Background(), Window{Start: 0, End: 3})
			if err == nil {
				t.Fatal("Submit should reject a malformed response")
			}
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("error should wrap ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSubmitter_CancelBetweenSubRanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	store := makeStore(t, 4)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		if len(items) > 2 {
			return nil, oversized()
		}
		// Cancel while the request is in flight: the submitter must
		// still settle this response and stop at the next boundary.
		cancel()
		return acceptAll(items), nil
	}}

	sub := NewSubmitter(svc, store)
	res, err := sub.Submit(ctx, Window{Start: 0, End: 4})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit returned %v, want context.Canceled", err)
	}

	// The in-flight request was processed in full before stopping.
	if len(res.Accepted) != 2 {
		t.Errorf("accepted %d tasks before stopping, want 2", len(res.Accepted))
	}
	if got := len(svc.recorded()); got != 2 {
		t.Errorf("service saw %d requests, want 2", got)
	}
}

func TestSubmitter_PublishesEvents(t *testing.T) {
	store := makeStore(t, 4)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		if len(items) > 2 {
			return nil, oversized()
		}
		results := acceptAll(items)
		if call == 2 {
			results[1].Outcome = batch.OutcomeServerError
		}
		return results, nil
	}}

	var events []string
	bus := event.NewBus()
	bus.SubscribeAll(func(e event.Event) { events = append(events, e.EventType()) })

	sub := NewSubmitter(svc, store, WithBus(bus), WithRunID("run-1"))
	if _, err := sub.Submit(context.Background(), Window{Start: 0, End: 4}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if events[0] != "window.started" {
		t.Errorf("first event = %s, want window.started", events[0])
	}
	if events[len(events)-1] != "window.completed" {
		t.Errorf("last event = %s, want window.completed", events[len(events)-1])
	}

	counts := map[string]int{}
	for _, e := range events {
		counts[e]++
	}
	if counts["window.oversized"] != 1 {
		t.Errorf("window.oversized published %d times, want 1", counts["window.oversized"])
	}
	if counts["window.retry_round"] != 1 {
		t.Errorf("window.retry_round published %d times, want 1", counts["window.retry_round"])
	}
	if counts["task.settled"] != 4 {
		t.Errorf("task.settled published %d times, want 4", counts["task.settled"])
	}
}

func TestSubmitter_WindowOutOfRange(t *testing.T) {
	store := makeStore(t, 4)
	sub := NewSubmitter(&fakeService{}, store)

	for _, w := range []Window{{Start: -1, End: 4}, {Start: 0, End: 5}, {Start: 3, End: 2}} {
		if _, err := sub.Submit(context.Background(), w); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Submit(%v) = %v, want ErrInvalidInput", w, err)
		}
	}
}

func TestWindowResult_Settled(t *testing.T) {
	res := &WindowResult{
		Accepted: []string{"a", "b", "c"},
		Failed:   []TaskFailure{{TaskID: "d"}},
	}
	if got := res.Settled(); got != 4 {
		t.Errorf("Settled() = %d, want 4", got)
	}
}
