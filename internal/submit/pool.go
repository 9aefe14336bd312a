package submit

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/taskferry/taskferry/internal/errors"
)

// maxParallelism caps the worker count regardless of CPU count.
const maxParallelism = 32

// DefaultParallelism returns the default bound on concurrently
// submitting windows: four workers per CPU, capped at 32.
func DefaultParallelism() int {
	return min(4*runtime.NumCPU(), maxParallelism)
}

// Pool fans windows out to concurrent Submit invocations with a bounded
// worker count.
type Pool struct {
	submitter *Submitter
	limit     int
}

// NewPool creates a pool around the given submitter. A non-positive
// limit selects DefaultParallelism.
func NewPool(submitter *Submitter, limit int) *Pool {
	if limit <= 0 {
		limit = DefaultParallelism()
	}
	return &Pool{submitter: submitter, limit: limit}
}

// Limit returns the pool's worker bound.
func (p *Pool) Limit() int {
	return p.limit
}

// Run submits every window and waits for all of them to finish. A
// window failure never cancels its siblings: each worker runs to its
// own conclusion, and all window errors come back joined together after
// the last worker finishes. Results are indexed by window position; a
// failed window leaves the partial accounting it settled before the
// error.
func (p *Pool) Run(ctx context.Context, windows []Window) ([]*WindowResult, error) {
	results := make([]*WindowResult, len(windows))
	errs := make([]error, len(windows))

	var g errgroup.Group
	g.SetLimit(p.limit)
	for i, w := range windows {
		g.Go(func() error {
			results[i], errs[i] = p.submitter.Submit(ctx, w)
			return nil
		})
	}
	// Workers report through errs; Wait only provides the join barrier.
	_ = g.Wait()

	return results, errors.Join(errs...)
}
