// Package internal contains integration tests that verify the taskferry
// packages work together correctly. Where the package tests exercise
// each seam in isolation, these run whole pipelines, from a collection
// file on disk through the REST wire format to a monitored run.
package internal

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/batch/rest"
	"github.com/taskferry/taskferry/internal/collection"
	"github.com/taskferry/taskferry/internal/errors"
	"github.com/taskferry/taskferry/internal/event"
	"github.com/taskferry/taskferry/internal/logging"
	"github.com/taskferry/taskferry/internal/orchestrator"
	"github.com/taskferry/taskferry/internal/simulator"
	"github.com/taskferry/taskferry/internal/spool"
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

// writeCollection writes a version-1 collection file holding the given
// task ids.
func writeCollection(t *testing.T, path string, ids ...string) {
	t.Helper()

	var b strings.Builder
	b.WriteString("version: \"1\"\ntasks:\n")
	for i, id := range ids {
		fmt.Fprintf(&b, "  - id: %s\n    payload:\n      seq: %d\n", id, i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("writing collection file: %v", err)
	}
}

// newRESTStack stands up the simulator behind a real HTTP server and
// returns a client scoped to one job. The server is torn down with the
// test.
func newRESTStack(t *testing.T, opts ...simulator.ServiceOption) (*simulator.Service, *rest.Client) {
	t.Helper()

	svc := simulator.NewService(opts...)
	srv := httptest.NewServer(simulator.NewServer(svc).Handler())
	t.Cleanup(srv.Close)

	client, err := rest.NewClient(srv.URL, "job-integration")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return svc, client
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

func TestRunFromCollectionFileOverREST(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	writeCollection(t, path,
		"ingest-001", "ingest-002", "ingest-003", "ingest-004",
		"ingest-005", "ingest-006", "ingest-007")

	tasks, err := collection.Load(path, nil, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(tasks) != 7 {
		t.Fatalf("loaded %d tasks, want 7", len(tasks))
	}

	svc, client := newRESTStack(t, simulator.WithAutoComplete(30*time.Millisecond))
	bus := event.NewBus()
	events := collectEvents(bus)

	orc := orchestrator.New(client,
		orchestrator.WithBus(bus),
		orchestrator.WithPollInterval(10*time.Millisecond))

	report, err := orc.Run(context.Background(), tasks, true)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(report.Accepted) != 7 || len(report.Failed) != 0 {
		t.Errorf("accepted %d, failed %d, want 7 and 0", len(report.Accepted), len(report.Failed))
	}
	if report.Requests != 1 {
		t.Errorf("Requests = %d, want 1", report.Requests)
	}
	if svc.Len() != 7 {
		t.Errorf("service holds %d tasks, want 7", svc.Len())
	}

	if report.Monitor == nil {
		t.Fatal("report has no monitor status")
	}
	if !report.Monitor.Done() {
		t.Errorf("monitor stopped at %d/%d", report.Monitor.Completed, report.Monitor.Total)
	}
	if report.Monitor.Total != 7 {
		t.Errorf("monitor Total = %d, want 7", report.Monitor.Total)
	}

	seen := events()
	if len(seen) == 0 {
		t.Fatal("no events published")
	}
	if got := seen[0].EventType(); got != "run.started" {
		t.Errorf("first event is %s, want run.started", got)
	}
	if got := seen[len(seen)-1].EventType(); got != "run.completed" {
		t.Errorf("last event is %s, want run.completed", got)
	}
	types := make(map[string]int)
	for _, e := range seen {
		types[e.EventType()]++
	}
	if types["window.completed"] != 1 {
		t.Errorf("saw %d window.completed events, want 1", types["window.completed"])
	}
	if types["task.settled"] != 7 {
		t.Errorf("saw %d task.settled events, want 7", types["task.settled"])
	}
	if types["monitor.done"] != 1 {
		t.Errorf("saw %d monitor.done events, want 1", types["monitor.done"])
	}
}

func TestRESTRunDiscoversServiceCeiling(t *testing.T) {
	// The client side assumes the default 100-task window, but the
	// service only takes 10 per request. Each oversized response travels
	// back as HTTP 413 and is absorbed by slice halving.
	svc, client := newRESTStack(t, simulator.WithMaxTasksPerRequest(10))

	orc := orchestrator.New(client)
	report, err := orc.Run(context.Background(), taskMap(30), false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(report.Accepted) != 30 || len(report.Failed) != 0 {
		t.Errorf("accepted %d, failed %d, want 30 and 0", len(report.Accepted), len(report.Failed))
	}
	if report.Halvings != 5 {
		t.Errorf("Halvings = %d, want 5", report.Halvings)
	}
	if report.Requests != 9 {
		t.Errorf("Requests = %d, want 9", report.Requests)
	}
	if svc.Len() != 30 {
		t.Errorf("service holds %d tasks, want 30", svc.Len())
	}
}

func TestRESTRunSettlesMixedVerdicts(t *testing.T) {
	svc, client := newRESTStack(t,
		simulator.WithAutoComplete(30*time.Millisecond),
		simulator.WithOutcomeFunc(func(id string, attempt int) batch.Outcome {
			switch {
			case id == "task-002":
				return batch.OutcomeClientError
			case id == "task-005" && attempt == 1:
				return batch.OutcomeServerError
			}
			return batch.OutcomeAccepted
		}))

	orc := orchestrator.New(client, orchestrator.WithPollInterval(10*time.Millisecond))
	report, err := orc.Run(context.Background(), taskMap(8), true)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(report.Accepted) != 7 {
		t.Errorf("accepted %d tasks, want 7", len(report.Accepted))
	}
	if len(report.Failed) != 1 {
		t.Fatalf("failed %d tasks, want 1", len(report.Failed))
	}
	failure := report.Failed[0]
	if failure.TaskID != "task-002" || failure.Code != "InvalidTask" {
		t.Errorf("failure = %s/%s, want task-002/InvalidTask", failure.TaskID, failure.Code)
	}
	if failure.Detail["attempt"] != "1" {
		t.Errorf("failure detail attempt = %q, want \"1\"", failure.Detail["attempt"])
	}
	if report.RetryRounds != 1 {
		t.Errorf("RetryRounds = %d, want 1", report.RetryRounds)
	}
	if report.Requests != 2 {
		t.Errorf("Requests = %d, want 2", report.Requests)
	}

	// The rejected task never reached the service, so the completion
	// wait converges on the seven accepted tasks.
	if report.Monitor == nil || !report.Monitor.Done() {
		t.Fatalf("monitor did not converge: %+v", report.Monitor)
	}
	if report.Monitor.Total != 7 {
		t.Errorf("monitor Total = %d, want 7", report.Monitor.Total)
	}
	if svc.Len() != 7 {
		t.Errorf("service holds %d tasks, want 7", svc.Len())
	}
}

func TestRESTRunResubmitIsIdempotent(t *testing.T) {
	svc, client := newRESTStack(t)
	orc := orchestrator.New(client)

	tasks := taskMap(5)
	first, err := orc.Run(context.Background(), tasks, false)
	if err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	second, err := orc.Run(context.Background(), tasks, false)
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}

	if len(first.Accepted) != 5 || len(second.Accepted) != 5 {
		t.Errorf("accepted %d then %d, want 5 both times", len(first.Accepted), len(second.Accepted))
	}
	if first.RunID == second.RunID {
		t.Error("both runs share a run id")
	}
	if svc.Len() != 5 {
		t.Errorf("service holds %d tasks after rerun, want 5", svc.Len())
	}
	if got := len(svc.Requests()); got != 2 {
		t.Errorf("service saw %d requests, want 2", got)
	}
}

func TestRESTRunRequiresAPIKey(t *testing.T) {
	svc := simulator.NewService()
	srv := httptest.NewServer(simulator.NewServer(svc, simulator.WithAPIKey("s3cret")).Handler())
	t.Cleanup(srv.Close)

	// Without credentials the first request dies with 401 and the run
	// fails before settling anything.
	anon, err := rest.NewClient(srv.URL, "job-integration")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	report, err := orchestrator.New(anon).Run(context.Background(), taskMap(3), false)
	if err == nil {
		t.Fatal("Run succeeded without credentials")
	}
	var rejected *batch.RequestRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error %v is not a request rejection", err)
	}
	if rejected.Code != "Unauthorized" || rejected.StatusCode != 401 {
		t.Errorf("rejection = %s/%d, want Unauthorized/401", rejected.Code, rejected.StatusCode)
	}
	if report.Settled() != 0 {
		t.Errorf("run settled %d tasks without credentials", report.Settled())
	}
	if svc.Len() != 0 {
		t.Errorf("service holds %d tasks, want 0", svc.Len())
	}

	// With the right key the same run goes through.
	authed, err := rest.NewClient(srv.URL, "job-integration", rest.WithAPIKey("s3cret"))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	report, err = orchestrator.New(authed).Run(context.Background(), taskMap(3), false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(report.Accepted) != 3 {
		t.Errorf("accepted %d tasks, want 3", len(report.Accepted))
	}
}

func TestSpoolRunsCollectionsInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "a-first.yaml"), "first-1", "first-2")
	writeCollection(t, filepath.Join(dir, "b-second.yaml"), "second-1")

	svc := simulator.NewService()
	orc := orchestrator.New(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []string
	run := func(ctx context.Context, path string) error {
		tasks, err := collection.Load(path, nil, nil)
		if err != nil {
			return err
		}
		if _, err := orc.Run(ctx, tasks, false); err != nil {
			return err
		}
		order = append(order, filepath.Base(path))
		if len(order) == 2 {
			cancel()
		}
		return nil
	}

	w, err := spool.New(dir, "*.yaml", run)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if len(order) != 2 || order[0] != "a-first.yaml" || order[1] != "b-second.yaml" {
		t.Errorf("runs = %v, want [a-first.yaml b-second.yaml]", order)
	}
	if svc.Len() != 3 {
		t.Errorf("service holds %d tasks, want 3", svc.Len())
	}
	for _, name := range []string{"a-first.yaml.done", "b-second.yaml.done"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("processed file was not renamed: %v", err)
		}
	}
}

func TestRunWritesStructuredLogs(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "taskferry.log")
	log, err := logging.New(logging.Options{Level: "debug", Format: "json", FilePath: logPath})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	orc := orchestrator.New(simulator.NewService(), orchestrator.WithLogger(log))
	report, err := orc.Run(context.Background(), taskMap(3), false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	for _, want := range []string{
		`"msg":"run starting"`,
		`"msg":"window settled"`,
		fmt.Sprintf(`"run_id":%q`, report.RunID),
		`"window":"[0,3)"`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file does not contain %s", want)
		}
	}
}
