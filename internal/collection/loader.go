// Package collection loads task collection files and filters them down
// to the descriptor set a run submits.
package collection

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taskferry/taskferry/internal/task"
)

// File represents a task collection definition loaded from YAML.
type File struct {
	// Version is the collection file format version (currently "1")
	Version string `yaml:"version"`
	// Name is an optional display name for the collection
	Name string `yaml:"name,omitempty"`
	// Tasks lists the task descriptors to submit
	Tasks []Entry `yaml:"tasks"`
}

// Entry is a single task definition within a collection file.
type Entry struct {
	// ID uniquely identifies the task within the job
	ID string `yaml:"id"`
	// Payload is the opaque work definition handed to the service
	Payload any `yaml:"payload,omitempty"`
}

// LoadFile loads a task collection from a YAML file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading collection file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing collection file: %w", err)
	}

	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collection: %w", err)
	}

	return &file, nil
}

// Validate checks that the collection file is well-formed.
func (f *File) Validate() error {
	if f.Version == "" {
		return errors.New("collection version is required")
	}

	if f.Version != "1" {
		return fmt.Errorf("unsupported collection version: %s (supported: 1)", f.Version)
	}

	seen := make(map[string]bool, len(f.Tasks))
	for i, entry := range f.Tasks {
		if entry.ID == "" {
			return fmt.Errorf("task %d: id is required", i)
		}
		if seen[entry.ID] {
			return fmt.Errorf("duplicate task id: %s", entry.ID)
		}
		seen[entry.ID] = true
	}

	return nil
}

// Descriptors converts the collection entries into the descriptor set
// a run is built from.
func (f *File) Descriptors() map[string]task.Descriptor {
	tasks := make(map[string]task.Descriptor, len(f.Tasks))
	for _, entry := range f.Tasks {
		tasks[entry.ID] = task.Descriptor{ID: entry.ID, Payload: entry.Payload}
	}
	return tasks
}

// Load reads a collection file and returns its descriptor set after
// include/exclude filtering.
func Load(path string, include, exclude []string) (map[string]task.Descriptor, error) {
	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	filter, err := NewFilter(include, exclude)
	if err != nil {
		return nil, err
	}

	return filter.Apply(file.Descriptors()), nil
}
