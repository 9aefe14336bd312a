package task

import (
	"fmt"
	"sort"

	"github.com/taskferry/taskferry/internal/errors"
)

// Store holds the task descriptors for one run. It is built once from a
// caller-supplied map and never mutated afterwards, so reads require no
// synchronization. Descriptors are kept in sorted id order to make window
// boundaries reproducible across runs of the same collection.
type Store struct {
	byID  map[string]Descriptor
	order []string
}

// NewStore builds a Store from a task map. Every descriptor must carry a
// non-empty id. An empty map is valid and yields an empty store.
func NewStore(tasks map[string]Descriptor) (*Store, error) {
	byID := make(map[string]Descriptor, len(tasks))
	order := make([]string, 0, len(tasks))

	for id, desc := range tasks {
		if id == "" {
			return nil, errors.ErrMissingTaskID
		}
		if desc.ID == "" {
			desc.ID = id
		}
		if desc.ID != id {
			return nil, fmt.Errorf("descriptor id %q does not match map key %q: %w",
				desc.ID, id, errors.ErrInvalidInput)
		}
		byID[id] = desc
		order = append(order, id)
	}

	sort.Strings(order)

	return &Store{byID: byID, order: order}, nil
}

// Len returns the number of descriptors in the store.
func (s *Store) Len() int {
	return len(s.order)
}

// At returns the descriptor at position i in the store's order.
// It panics if i is out of range, mirroring slice indexing.
func (s *Store) At(i int) Descriptor {
	return s.byID[s.order[i]]
}

// Slice returns a copy of the descriptors in [start, end) of the store's
// order. It panics if the range is invalid, mirroring slice indexing.
func (s *Store) Slice(start, end int) []Descriptor {
	ids := s.order[start:end]
	out := make([]Descriptor, len(ids))
	for i, id := range ids {
		out[i] = s.byID[id]
	}
	return out
}

// Get returns the descriptor for the given id.
func (s *Store) Get(id string) (Descriptor, bool) {
	d, ok := s.byID[id]
	return d, ok
}

// IDs returns a copy of all task ids in the store's order.
func (s *Store) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
