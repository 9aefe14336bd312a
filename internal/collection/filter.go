package collection

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/taskferry/taskferry/internal/task"
)

// Filter restricts a descriptor set by task id glob patterns.
// With no include patterns every id is included; exclusion wins
// over inclusion.
type Filter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewFilter compiles include and exclude patterns into a Filter.
func NewFilter(include, exclude []string) (*Filter, error) {
	f := &Filter{}

	for _, pattern := range include {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling include pattern %q: %w", pattern, err)
		}
		f.include = append(f.include, g)
	}

	for _, pattern := range exclude {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern %q: %w", pattern, err)
		}
		f.exclude = append(f.exclude, g)
	}

	return f, nil
}

// Match reports whether a task id passes the filter.
func (f *Filter) Match(id string) bool {
	for _, g := range f.exclude {
		if g.Match(id) {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(id) {
			return true
		}
	}
	return false
}

// Apply returns the subset of tasks whose ids pass the filter.
func (f *Filter) Apply(tasks map[string]task.Descriptor) map[string]task.Descriptor {
	kept := make(map[string]task.Descriptor, len(tasks))
	for id, desc := range tasks {
		if f.Match(id) {
			kept[id] = desc
		}
	}
	return kept
}
