package batch

import (
	"context"
	"fmt"

	"github.com/taskferry/taskferry/internal/task"
)

// Service is the remote batch service as seen by the submission and
// monitoring pipeline. Implementations must be safe for concurrent use:
// the submitter pool issues AddTaskCollection calls from multiple
// goroutines at once.
type Service interface {
	// AddTaskCollection submits a collection of tasks in a single
	// request. On success it returns exactly one AddResult per item,
	// in request order. A whole-request rejection is returned as a
	// *RequestRejectedError; any other error means the request could
	// not be carried out at all (transport failure, bad response).
	AddTaskCollection(ctx context.Context, items []task.Descriptor) ([]AddResult, error)

	// TaskCounts reports how many tasks the service currently holds in
	// each state. The totalExpected hint lets the service validate its
	// own bookkeeping: when the reported counts are consistent with
	// the expected total, Counts.Validated is true.
	TaskCounts(ctx context.Context, totalExpected int) (Counts, error)

	// ListTaskStates enumerates every known task as an (id, state)
	// pair. This is the expensive fallback used when count validation
	// stays inconclusive; callers should prefer TaskCounts.
	ListTaskStates(ctx context.Context) ([]TaskState, error)
}

// RejectionReason classifies why the service refused a request outright.
type RejectionReason string

const (
	// RejectedOversized indicates the request held more tasks (or more
	// bytes) than the service accepts in one call. The submitter reacts
	// by halving its slice and retrying from the same cursor.
	RejectedOversized RejectionReason = "oversized"

	// RejectedOther covers every other whole-request rejection:
	// authentication failures, unknown jobs, malformed requests. These
	// are fatal for the submitting window.
	RejectedOther RejectionReason = "other"
)

// RequestRejectedError reports that the service refused an entire
// AddTaskCollection request before examining individual items. No task
// in the request was processed.
type RequestRejectedError struct {
	// Reason classifies the rejection.
	Reason RejectionReason

	// Code is the service's machine-readable error code, if any.
	Code string

	// Message is the service's human-readable explanation, if any.
	Message string

	// StatusCode is the HTTP status for REST transports, zero otherwise.
	StatusCode int
}

// Error implements the error interface.
func (e *RequestRejectedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request rejected"
	}
	if e.Code != "" {
		return fmt.Sprintf("request rejected [reason=%s, code=%s]: %s", e.Reason, e.Code, msg)
	}
	return fmt.Sprintf("request rejected [reason=%s]: %s", e.Reason, msg)
}

// Oversized returns true when the rejection was due to request size.
func (e *RequestRejectedError) Oversized() bool {
	return e.Reason == RejectedOversized
}

// Is supports errors.Is matching against other rejection errors with
// the same reason.
func (e *RequestRejectedError) Is(target error) bool {
	t, ok := target.(*RequestRejectedError)
	if !ok {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}
