package submit

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/errors"
	"github.com/taskferry/taskferry/internal/task"
)

func TestPool_SubmitsAllWindows(t *testing.T) {
	store := makeStore(t, 250)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		return acceptAll(items), nil
	}}

	windows, err := SplitWindows(store.Len(), 100)
	if err != nil {
		t.Fatalf("SplitWindows failed: %v", err)
	}

	pool := NewPool(NewSubmitter(svc, store), 0)
	results, err := pool.Run(context.Background(), windows)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	accepted := 0
	for i, res := range results {
		if res == nil {
			t.Fatalf("result %d is nil", i)
		}
		if res.Window != windows[i] {
			t.Errorf("result %d covers %v, want %v", i, res.Window, windows[i])
		}
		accepted += len(res.Accepted)
	}
	if accepted != 250 {
		t.Errorf("accepted %d tasks across windows, want 250", accepted)
	}
}

func TestPool_FailedWindowDoesNotCancelSiblings(t *testing.T) {
	// The middle window always hits oversized rejections and fails
	// fatally; the other two must still settle completely.
	store := makeStore(t, 250)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		if items[0].ID == "task-100" {
			return nil, oversized()
		}
		return acceptAll(items), nil
	}}

	windows, err := SplitWindows(store.Len(), 100)
	if err != nil {
		t.Fatalf("SplitWindows failed: %v", err)
	}

	pool := NewPool(NewSubmitter(svc, store), 0)
	results, err := pool.Run(context.Background(), windows)
	if err == nil {
		t.Fatal("Run should surface the failed window")
	}

	if !errors.Is(err, errors.ErrSingleTaskTooLarge) {
		t.Errorf("joined error should wrap ErrSingleTaskTooLarge, got %v", err)
	}
	if !strings.Contains(err.Error(), "[100,200)") {
		t.Errorf("error should name the failed window: %v", err)
	}

	if got := len(results[0].Accepted); got != 100 {
		t.Errorf("window [0,100) accepted %d tasks, want 100", got)
	}
	if got := len(results[2].Accepted); got != 50 {
		t.Errorf("window [200,250) accepted %d tasks, want 50", got)
	}
	if got := len(results[1].Accepted); got != 0 {
		t.Errorf("failed window accepted %d tasks, want 0", got)
	}
}

func TestPool_JoinsAllWindowErrors(t *testing.T) {
	store := makeStore(t, 200)
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		return nil, oversized()
	}}

	windows, err := SplitWindows(store.Len(), 100)
	if err != nil {
		t.Fatalf("SplitWindows failed: %v", err)
	}

	pool := NewPool(NewSubmitter(svc, store), 0)
	_, err = pool.Run(context.Background(), windows)
	if err == nil {
		t.Fatal("Run should fail when every window fails")
	}

	for _, want := range []string{"[0,100)", "[100,200)"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should name window %s: %v", want, err)
		}
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	store := makeStore(t, 8)

	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	svc := &fakeService{add: func(call int, items []task.Descriptor) ([]batch.AddResult, error) {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return acceptAll(items), nil
	}}

	windows, err := SplitWindows(store.Len(), 1)
	if err != nil {
		t.Fatalf("SplitWindows failed: %v", err)
	}

	pool := NewPool(NewSubmitter(svc, store), 2)
	if _, err := pool.Run(context.Background(), windows); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", got)
	}
}

func TestPool_EmptyWindows(t *testing.T) {
	store := makeStore(t, 0)
	pool := NewPool(NewSubmitter(&fakeService{}, store), 0)

	results, err := pool.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed for empty windows: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestPool_Limit(t *testing.T) {
	store := makeStore(t, 1)
	sub := NewSubmitter(&fakeService{}, store)

	if got := NewPool(sub, 5).Limit(); got != 5 {
		t.Errorf("Limit() = %d, want 5", got)
	}
	if got := NewPool(sub, 0).Limit(); got != DefaultParallelism() {
		t.Errorf("Limit() = %d, want DefaultParallelism() = %d", got, DefaultParallelism())
	}
	if got := NewPool(sub, -3).Limit(); got != DefaultParallelism() {
		t.Errorf("Limit() = %d, want DefaultParallelism() = %d", got, DefaultParallelism())
	}
}

func TestDefaultParallelism(t *testing.T) {
	got := DefaultParallelism()
	if got < 1 {
		t.Errorf("DefaultParallelism() = %d, want at least 1", got)
	}
	if got > 32 {
		t.Errorf("DefaultParallelism() = %d, want at most 32", got)
	}
}
