package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/lectern/lectern/internal/llm"
)

// Registry holds the tools offered to the model and dispatches their
// execution by name. Citation aggregation follows registration order.
type Registry struct {
	names []string
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its declared name. A nameless or duplicate
// registration is a configuration error and fails immediately.
func (r *Registry) Register(tool Tool) error {
	name := tool.Definition().Name
	if name == "" {
		return errors.New("tool has no name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.names = append(r.names, name)
	r.tools[name] = tool
	return nil
}

// Definitions returns every registered tool's schema in registration
// order.
func (r *Registry) Definitions() []llm.Tool {
	defs := make([]llm.Tool, 0, len(r.names))
	for _, name := range r.names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute dispatches a call by tool name. Unknown names come from
// untrusted model output, so they return a sentinel string rather than
// an error; the error return carries only faults raised by the tool
// itself.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return fmt.Sprintf("Tool '%s' not found", name), nil
	}
	return tool.Execute(ctx, args)
}

// LastCitations concatenates the citations held by every registered
// tool, in registration order.
func (r *Registry) LastCitations() []Citation {
	var all []Citation
	for _, name := range r.names {
		if src, ok := r.tools[name].(CitationSource); ok {
			all = append(all, src.LastCitations()...)
		}
	}
	return all
}

// ResetCitations clears the citation state of every registered tool.
func (r *Registry) ResetCitations() {
	for _, name := range r.names {
		if src, ok := r.tools[name].(CitationSource); ok {
			src.ResetCitations()
		}
	}
}
