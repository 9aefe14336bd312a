package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/errors"
	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/simulator"
	"github.com/taskferry/taskferry/internal/submit"
	"github.com/taskferry/taskferry/internal/task"
)

func taskMap(n int) map[string]task.Descriptor {
	tasks := make(map[string]task.Descriptor, n)
	for i := range n {
		id := fmt.Sprintf("task-%03d", i)
		tasks[id] = task.Descriptor{ID: id, Payload: map[string]any{"seq": i}}
	}
	return tasks
}

// collectEvents subscribes to every event on the bus and returns an
// accessor for the ordered list seen so far.
func collectEvents(bus *event.Bus) func() []event.Event {
	var mu sync.Mutex
	var seen []event.Event
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})
	return func() []event.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]event.Event(nil), seen...)
	}
}

func TestOrchestrator_SubmitsWholeCollection(t *testing.T) {
	svc := simulator.NewService()
	orc := New(svc, WithMaxTasksPerRequest(100))

	report, err := orc.Run(context.Background(), taskMap(250), false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.RunID == "" {
		t.Error("report has empty run id")
	}
	if report.TotalTasks != 250 {
		t.Errorf("TotalTasks = %d, want 250", report.TotalTasks)
	}
	if len(report.Windows) != 3 {
		t.Fatalf("got %d windows, want 3", len(report.Windows))
	}
	for i, res := range report.Windows {
		if res.Window.Start != i*100 {
			t.Errorf("window %d starts at %d, want %d", i, res.Window.Start, i*100)
		}
	}
	if report.Requests != 3 {
		t.Errorf("Requests = %d, want 3", report.Requests)
	}
	if report.Halvings != 0 || report.RetryRounds != 0 {
		t.Errorf("Halvings = %d, RetryRounds = %d, want 0 and 0", report.Halvings, report.RetryRounds)
	}

	// Acceptance follows the store's canonical order across windows.
	if len(report.Accepted) != 250 {
		t.Fatalf("got %d accepted, want 250", len(report.Accepted))
	}
	for i, id := range report.Accepted {
		if want := fmt.Sprintf("task-%03d", i); id != want {
			t.Fatalf("accepted[%d] = %q, want %q", i, id, want)
		}
	}
	if svc.Len() != 250 {
		t.Errorf("service holds %d tasks, want 250", svc.Len())
	}
	if report.Monitor != nil {
		t.Error("Monitor set without watch")
	}
}

func TestOrchestrator_HalvesWhenServiceCeilingIsLower(t *testing.T) {
	// The configured window width exceeds what the service actually
	// accepts, so every window absorbs one oversized rejection.
	svc := simulator.NewService(simulator.WithMaxTasksPerRequest(2))
	orc := New(svc, WithMaxTasksPerRequest(4))

	report, err := orc.Run(context.Background(), taskMap(8), false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(report.Windows) != 2 {
		t.Fatalf("got %d windows, want 2", len(report.Windows))
	}
	if report.Halvings != 2 {
		t.Errorf("Halvings = %d, want 2", report.Halvings)
	}
	if report.Requests != 6 {
		t.Errorf("Requests = %d, want 6", report.Requests)
	}
	if len(report.Accepted) != 8 {
		t.Errorf("got %d accepted, want 8", len(report.Accepted))
	}
	if svc.Len() != 8 {
		t.Errorf("service holds %d tasks, want 8", svc.Len())
	}
}

func TestOrchestrator_ServerErrorRetriedEndToEnd(t *testing.T) {
	svc := simulator.NewService(simulator.WithOutcomeFunc(func(id string, attempt int) batch.Outcome {
		if id == "task-002" && attempt == 1 {
			return batch.OutcomeServerError
		}
		return batch.OutcomeAccepted
	}))
	orc := New(svc)

	report, err := orc.Run(context.Background(), taskMap(5), false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.RetryRounds != 1 {
		t.Errorf("RetryRounds = %d, want 1", report.RetryRounds)
	}
	if report.Requests != 2 {
		t.Errorf("Requests = %d, want 2", report.Requests)
	}
	if len(report.Accepted) != 5 || len(report.Failed) != 0 {
		t.Errorf("accepted %d failed %d, want 5 and 0", len(report.Accepted), len(report.Failed))
	}
	if _, ok := svc.State("task-002"); !ok {
		t.Error("task-002 missing from service after retry")
	}
}

func TestOrchestrator_ClientErrorsReported(t *testing.T) {
	bad := map[string]bool{"task-003": true, "task-007": true}
	svc := simulator.NewService(simulator.WithOutcomeFunc(func(id string, attempt int) batch.Outcome {
		if bad[id] {
			return batch.OutcomeClientError
		}
		return batch.OutcomeAccepted
	}))
	orc := New(svc)

	report, err := orc.Run(context.Background(), taskMap(10), false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(report.Accepted) != 8 {
		t.Errorf("got %d accepted, want 8", len(report.Accepted))
	}
	if len(report.Failed) != 2 {
		t.Fatalf("got %d failed, want 2", len(report.Failed))
	}
	for _, f := range report.Failed {
		if !bad[f.TaskID] {
			t.Errorf("unexpected failed task %q", f.TaskID)
		}
		if f.Code != "InvalidTask" {
			t.Errorf("failure code = %q, want InvalidTask", f.Code)
		}
	}
	if got := report.Settled(); got != 10 {
		t.Errorf("Settled() = %d, want 10", got)
	}
	// Rejected tasks never reach the service's task table.
	if svc.Len() != 8 {
		t.Errorf("service holds %d tasks, want 8", svc.Len())
	}
}

func TestOrchestrator_WatchWaitsForCompletion(t *testing.T) {
	svc := simulator.NewService(simulator.WithAutoComplete(2 * time.Millisecond))
	orc := New(svc, WithPollInterval(time.Millisecond))

	report, err := orc.Run(context.Background(), taskMap(20), true)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Monitor == nil {
		t.Fatal("report has no monitor status")
	}
	if !report.Monitor.Done() {
		t.Errorf("monitor not done: completed %d of %d", report.Monitor.Completed, report.Monitor.Total)
	}
	if report.Monitor.Total != 20 {
		t.Errorf("monitor total = %d, want 20", report.Monitor.Total)
	}
	if report.Monitor.Polls < 1 {
		t.Errorf("monitor polls = %d, want at least 1", report.Monitor.Polls)
	}
}

func TestOrchestrator_WatchesOnlyAcceptedTasks(t *testing.T) {
	// Two tasks settle as permanent failures; the completion wait must
	// converge on the 8 tasks the service actually holds.
	bad := map[string]bool{"task-001": true, "task-006": true}
	svc := simulator.NewService(
		simulator.WithAutoComplete(2*time.Millisecond),
		simulator.WithOutcomeFunc(func(id string, attempt int) batch.Outcome {
			if bad[id] {
				return batch.OutcomeClientError
			}
			return batch.OutcomeAccepted
		}))
	orc := New(svc, WithPollInterval(time.Millisecond))

	report, err := orc.Run(context.Background(), taskMap(10), true)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Monitor == nil {
		t.Fatal("report has no monitor status")
	}
	if report.Monitor.Total != 8 {
		t.Errorf("monitor total = %d, want 8", report.Monitor.Total)
	}
	if !report.Monitor.Done() {
		t.Error("monitor did not reach completion")
	}
}

func TestOrchestrator_NoAcceptedTasksSkipsWatch(t *testing.T) {
	svc := simulator.NewService(simulator.WithOutcomeFunc(func(id string, attempt int) batch.Outcome {
		return batch.OutcomeClientError
	}))
	orc := New(svc, WithPollInterval(time.Millisecond))

	report, err := orc.Run(context.Background(), taskMap(4), true)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(report.Failed) != 4 {
		t.Errorf("got %d failed, want 4", len(report.Failed))
	}
	if report.Monitor != nil {
		t.Error("monitor ran with zero accepted tasks")
	}
}

func TestOrchestrator_FailedWindowReportsPartial(t *testing.T) {
	svc := simulator.NewService(simulator.WithAddInterceptor(func(c simulator.AddCall) error {
		if len(c.IDs) > 0 && c.IDs[0] == "task-010" {
			return fmt.Errorf("connection reset")
		}
		return nil
	}))
	bus := event.NewBus()
	events := collectEvents(bus)
	orc := New(svc,
		WithMaxTasksPerRequest(10),
		WithMaxParallel(1),
		WithBus(bus))

	report, err := orc.Run(context.Background(), taskMap(20), false)
	if err == nil {
		t.Fatal("Run returned nil error, want window failure")
	}
	if !strings.Contains(err.Error(), "[10,20)") {
		t.Errorf("error %q does not name the failed window", err)
	}

	if report == nil {
		t.Fatal("report is nil, want partial accounting")
	}
	if len(report.Accepted) != 10 {
		t.Errorf("got %d accepted, want 10 from the surviving window", len(report.Accepted))
	}
	if len(report.Windows) != 2 {
		t.Fatalf("got %d window results, want 2", len(report.Windows))
	}
	if got := report.Windows[1].Settled(); got != 0 {
		t.Errorf("failed window settled %d tasks, want 0", got)
	}

	evs := events()
	last, ok := evs[len(evs)-1].(event.RunCompletedEvent)
	if !ok {
		t.Fatalf("last event is %T, want RunCompletedEvent", evs[len(evs)-1])
	}
	if last.Success {
		t.Error("run.completed reports success after a window failure")
	}
}

func TestOrchestrator_RerunIsIdempotent(t *testing.T) {
	svc := simulator.NewService()
	orc := New(svc)
	tasks := taskMap(30)

	first, err := orc.Run(context.Background(), tasks, false)
	if err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	second, err := orc.Run(context.Background(), tasks, false)
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}

	if first.RunID == second.RunID {
		t.Error("both runs share a run id")
	}
	if len(second.Accepted) != 30 {
		t.Errorf("rerun accepted %d tasks, want 30", len(second.Accepted))
	}
	if second.RetryRounds != 0 || second.Halvings != 0 {
		t.Errorf("rerun RetryRounds = %d, Halvings = %d, want 0 and 0", second.RetryRounds, second.Halvings)
	}
	if svc.Len() != 30 {
		t.Errorf("service holds %d tasks after rerun, want 30", svc.Len())
	}
}

func TestOrchestrator_EmptyCollection(t *testing.T) {
	svc := simulator.NewService()
	orc := New(svc, WithPollInterval(time.Millisecond))

	report, err := orc.Run(context.Background(), map[string]task.Descriptor{}, true)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.TotalTasks != 0 || len(report.Windows) != 0 || report.Requests != 0 {
		t.Errorf("empty run produced work: %+v", report)
	}
	if report.Monitor != nil {
		t.Error("monitor ran for an empty collection")
	}
}

func TestOrchestrator_RejectsMismatchedDescriptor(t *testing.T) {
	svc := simulator.NewService()
	orc := New(svc)

	tasks := map[string]task.Descriptor{
		"task-a": {ID: "task-b"},
	}
	report, err := orc.Run(context.Background(), tasks, false)
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("Run returned %v, want ErrInvalidInput", err)
	}
	if report != nil {
		t.Error("report returned for invalid collection")
	}
	if svc.Len() != 0 {
		t.Errorf("service holds %d tasks, want 0", svc.Len())
	}
}

func TestOrchestrator_PublishesRunEvents(t *testing.T) {
	svc := simulator.NewService()
	bus := event.NewBus()
	events := collectEvents(bus)
	orc := New(svc, WithBus(bus))

	report, err := orc.Run(context.Background(), taskMap(6), false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	evs := events()
	if len(evs) < 2 {
		t.Fatalf("got %d events, want at least run.started and run.completed", len(evs))
	}

	started, ok := evs[0].(event.RunStartedEvent)
	if !ok {
		t.Fatalf("first event is %T, want RunStartedEvent", evs[0])
	}
	if started.RunID != report.RunID {
		t.Errorf("run.started id = %q, want %q", started.RunID, report.RunID)
	}
	if started.TotalTasks != 6 || started.Windows != 1 {
		t.Errorf("run.started tasks = %d windows = %d, want 6 and 1", started.TotalTasks, started.Windows)
	}

	completed, ok := evs[len(evs)-1].(event.RunCompletedEvent)
	if !ok {
		t.Fatalf("last event is %T, want RunCompletedEvent", evs[len(evs)-1])
	}
	if !completed.Success {
		t.Error("run.completed reports failure for a clean run")
	}
	if completed.Accepted != 6 {
		t.Errorf("run.completed accepted = %d, want 6", completed.Accepted)
	}

	var sawWindow bool
	for _, e := range evs {
		if e.EventType() == "window.completed" {
			sawWindow = true
		}
	}
	if !sawWindow {
		t.Error("no window.completed event between start and completion")
	}
}

func TestOrchestrator_CancelDuringWatch(t *testing.T) {
	// No autocomplete, so the wait can only end by cancellation.
	svc := simulator.NewService()
	orc := New(svc, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	report, err := orc.Run(ctx, taskMap(3), true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if report == nil {
		t.Fatal("report is nil, want partial accounting")
	}
	if len(report.Accepted) != 3 {
		t.Errorf("got %d accepted, want 3", len(report.Accepted))
	}
	if report.Monitor == nil {
		t.Fatal("report has no monitor status after canceled wait")
	}
	if report.Monitor.Done() {
		t.Error("monitor claims completion after cancellation")
	}
}

func TestReport_Settled(t *testing.T) {
	r := &Report{
		Accepted: []string{"a", "b", "c"},
		Failed:   []submit.TaskFailure{{TaskID: "d"}},
	}
	if got := r.Settled(); got != 4 {
		t.Errorf("Settled() = %d, want 4", got)
	}
}
