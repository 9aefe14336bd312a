package batch

// Task lifecycle states as reported by the service.
const (
	// StateActive indicates the task is queued but not yet running.
	StateActive = "active"

	// StateRunning indicates the task is executing.
	StateRunning = "running"

	// StateCompleted indicates the task finished. This is the terminal
	// state the monitor counts toward completion.
	StateCompleted = "completed"
)

// Counts is a snapshot of the service's per-state task counts.
type Counts struct {
	// Active is the number of queued tasks.
	Active int `json:"active"`

	// Running is the number of executing tasks.
	Running int `json:"running"`

	// Completed is the number of tasks in the terminal state.
	Completed int `json:"completed"`

	// Failed is the number of tasks the service gave up on.
	Failed int `json:"failed"`

	// Validated reports whether the service considers these counts
	// consistent with the expected total. Unvalidated counts may lag
	// behind reality and must not be trusted for completion decisions.
	Validated bool `json:"-"`
}

// Total returns the sum of all per-state counts.
func (c Counts) Total() int {
	return c.Active + c.Running + c.Completed + c.Failed
}

// TaskState is one row of the enumeration projection: a task id and its
// current lifecycle state, nothing else.
type TaskState struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// CountCompleted returns how many of the given states are terminal.
func CountCompleted(states []TaskState) int {
	n := 0
	for _, s := range states {
		if s.State == StateCompleted {
			n++
		}
	}
	return n
}
