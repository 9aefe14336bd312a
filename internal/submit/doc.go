// Package submit turns a task collection into accepted service-side
// tasks. It owns the three moving parts of the submission phase:
//
//   - [SplitWindows]: partitions the collection into contiguous windows
//     no wider than the service's per-request ceiling
//   - [Submitter]: drives one window through the service, halving its
//     request slice on oversized rejections and resubmitting tasks that
//     come back as server errors
//   - [Pool]: fans windows out to bounded concurrent submitter
//     invocations and joins their results
//
// A task is settled once the service returns a final verdict for it:
// accepted, or rejected with a client error that retrying cannot fix.
// Server errors are never final; those tasks are resubmitted until they
// settle. A window fails only when the service rejects a single-task
// request as oversized or refuses a request for reasons other than size.
//
// Window failures are independent. The pool never cancels siblings on
// failure; it waits for every window and returns all window errors
// joined together, each naming its range.
//
// # Usage
//
//	windows, err := submit.SplitWindows(store.Len(), 100)
//	sub := submit.NewSubmitter(svc, store,
//	    submit.WithLogger(log),
//	    submit.WithBus(bus),
//	)
//	results, err := submit.NewPool(sub, 0).Run(ctx, windows)
package submit
