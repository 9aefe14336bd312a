package submit

import (
	"fmt"

	"github.com/taskferry/taskferry/internal/errors"
)

// DefaultMaxTasksPerRequest is the per-request task ceiling most batch
// services enforce, and the default window width.
const DefaultMaxTasksPerRequest = 100

// Window is a half-open range [Start, End) of positions in the task
// store's canonical order. Windows produced by SplitWindows are disjoint
// and cover the whole collection.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Width returns the number of tasks the window covers.
func (w Window) Width() int {
	return w.End - w.Start
}

// String formats the window in half-open interval notation.
func (w Window) String() string {
	return fmt.Sprintf("[%d,%d)", w.Start, w.End)
}

// SplitWindows partitions n tasks into ceil(n/maxWidth) contiguous
// windows covering [0, n) in ascending order. Every window is maxWidth
// wide except possibly the last. Zero tasks yield zero windows.
func SplitWindows(n, maxWidth int) ([]Window, error) {
	if n < 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "task count %d is negative", n)
	}
	if maxWidth < 1 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "window width %d, must be at least 1", maxWidth)
	}
	if n == 0 {
		return nil, nil
	}

	windows := make([]Window, 0, (n+maxWidth-1)/maxWidth)
	for start := 0; start < n; start += maxWidth {
		windows = append(windows, Window{Start: start, End: min(start+maxWidth, n)})
	}
	return windows, nil
}
