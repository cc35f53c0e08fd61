package incubator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/sovereign/internal/record"
)

// Task is one runnable unit of work. Run must return promptly once ctx is
// done; whatever it returns is the task's output.
type Task interface {
	Run(ctx context.Context, env Env) (record.Payload, error)
}

// TaskFunc adapts a function into a Task.
type TaskFunc func(ctx context.Context, env Env) (record.Payload, error)

func (f TaskFunc) Run(ctx context.Context, env Env) (record.Payload, error) {
	return f(ctx, env)
}

// Template builds tasks of one type from spawn parameters.
type Template interface {
	Name() string
	Build(params record.Payload) (Task, error)
}

// TemplateFunc is a Template backed by a constructor function.
type TemplateFunc struct {
	Type string
	New  func(params record.Payload) (Task, error)
}

func (t TemplateFunc) Name() string { return t.Type }

func (t TemplateFunc) Build(params record.Payload) (Task, error) {
	if t.New == nil {
		return nil, errors.New("template has no constructor")
	}
	return t.New(params)
}

// Registry is the closed set of task types the incubator can spawn.
type Registry struct {
	templates map[string]Template
}

// NewRegistry indexes templates by name. Empty and duplicate names are
// rejected.
func NewRegistry(templates ...Template) (*Registry, error) {
	r := &Registry{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if t == nil {
			return nil, errors.New("nil template")
		}
		name := t.Name()
		if name == "" {
			return nil, errors.New("template name is required")
		}
		if _, dup := r.templates[name]; dup {
			return nil, fmt.Errorf("duplicate template %s", name)
		}
		r.templates[name] = t
	}
	return r, nil
}

// Lookup returns the template for a task type.
func (r *Registry) Lookup(name string) (Template, bool) {
	t, ok := r.templates[name]
	return t, ok
}

// Names returns the registered task types, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for n := range r.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
