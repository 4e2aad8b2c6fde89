package tools

import (
	"context"
	"fmt"
	"sort"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/roach88/calt/internal/domain"
)

// Registry maps tool names to capabilities. It is built once and passed to
// the engine; there is no process-wide default.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*sjsonschema.Schema
}

// NewRegistry builds a registry. Duplicate names, empty names, and
// undeclared preview tools are configuration errors.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		schemas: make(map[string]*sjsonschema.Schema, len(tools)),
	}
	for _, t := range tools {
		d := t.Descriptor()
		if d.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, dup := r.tools[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", d.Name)
		}
		if d.Timeout <= 0 {
			return nil, fmt.Errorf("tool %q: timeout must be positive", d.Name)
		}
		if len(d.InputSchema) > 0 {
			sch, err := compileSchema(d.Name, d.InputSchema)
			if err != nil {
				return nil, err
			}
			r.schemas[d.Name] = sch
		}
		r.tools[d.Name] = t
	}
	for name, t := range r.tools {
		d := t.Descriptor()
		if !d.RequiresPreview {
			continue
		}
		p, ok := r.tools[d.PreviewTool]
		if !ok {
			return nil, fmt.Errorf("tool %q: preview tool %q is not registered", name, d.PreviewTool)
		}
		if p.Descriptor().Mutates {
			return nil, fmt.Errorf("tool %q: preview tool %q must not mutate", name, d.PreviewTool)
		}
	}
	return r, nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &domain.Error{
			Code:    domain.CodeToolNotFound,
			Message: fmt.Sprintf("tool %q is not registered", name),
			Details: map[string]string{"tool": name},
		}
	}
	return t, nil
}

// Descriptor returns the descriptor of a registered tool.
func (r *Registry) Descriptor(name string) (Descriptor, error) {
	t, err := r.Lookup(name)
	if err != nil {
		return Descriptor{}, err
	}
	return t.Descriptor(), nil
}

// Descriptors lists every registered tool sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateInputs checks inputs against the tool's input schema, if any.
func (r *Registry) ValidateInputs(name string, inputs map[string]any) error {
	if _, err := r.Lookup(name); err != nil {
		return err
	}
	sch, ok := r.schemas[name]
	if !ok {
		return nil
	}
	return validateAgainst(sch, inputs)
}

// Target returns the target identity for a call, or "" when the tool does
// not expose one.
func (r *Registry) Target(name, workspace string, inputs map[string]any) (string, error) {
	t, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	tg, ok := t.(Targeter)
	if !ok {
		return "", nil
	}
	return tg.Target(workspace, inputs)
}

// Func adapts a function into a Tool. Useful for tests and embedding.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, call Call) (Outcome, error)
	// TargetFn optionally names the call target.
	TargetFn func(workspace string, inputs map[string]any) (string, error)
}

// Descriptor implements Tool.
func (f Func) Descriptor() Descriptor { return f.Desc }

// Invoke implements Tool.
func (f Func) Invoke(ctx context.Context, call Call) (Outcome, error) {
	return f.Fn(ctx, call)
}

// Target implements Targeter.
func (f Func) Target(workspace string, inputs map[string]any) (string, error) {
	if f.TargetFn == nil {
		return "", nil
	}
	return f.TargetFn(workspace, inputs)
}
