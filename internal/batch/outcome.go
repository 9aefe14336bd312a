package batch

// Outcome classifies the service's verdict on a single submitted task.
// It is the only branching signal the submitter consults.
type Outcome string

const (
	// OutcomeAccepted indicates the task was accepted and will run.
	// The task is settled.
	OutcomeAccepted Outcome = "accepted"

	// OutcomeClientError indicates the task itself is unacceptable
	// (malformed payload, duplicate id). Retrying cannot help, so the
	// task is settled permanently as failed.
	OutcomeClientError Outcome = "clientError"

	// OutcomeServerError indicates a transient service-side failure for
	// this task. The task is not settled and must be resubmitted.
	OutcomeServerError Outcome = "serverError"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// Settled returns true if this outcome is final for the task. Accepted
// and client-error tasks never travel through the submitter again;
// server-error tasks do.
func (o Outcome) Settled() bool {
	return o == OutcomeAccepted || o == OutcomeClientError
}

// AddResult is the service's per-task verdict inside a successful
// AddTaskCollection response.
type AddResult struct {
	// TaskID identifies the task this result refers to.
	TaskID string `json:"taskId"`

	// Outcome is the verdict tag.
	Outcome Outcome `json:"status"`

	// Code is a machine-readable error code for non-accepted outcomes.
	Code string `json:"code,omitempty"`

	// Message is a human-readable explanation for non-accepted outcomes.
	Message string `json:"message,omitempty"`

	// Detail carries additional structured diagnostics from the
	// service, keyed by field name.
	Detail map[string]string `json:"detail,omitempty"`
}

// Accepted returns true for an accepted verdict.
func (r AddResult) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}
