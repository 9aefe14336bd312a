package task

import "github.com/taskferry/taskferry/internal/errors"

// Descriptor is one unit of work as the remote batch service understands
// it. The payload is carried verbatim; taskferry never inspects it.
type Descriptor struct {
	ID      string `json:"id" yaml:"id"`
	Payload any    `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Validate checks that the descriptor is submittable.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return errors.ErrMissingTaskID
	}
	return nil
}
