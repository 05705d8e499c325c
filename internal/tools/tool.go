// Package tools defines the model-invocable capabilities and the
// registry that dispatches them.
package tools

import (
	"context"

	"github.com/lectern/lectern/internal/llm"
)

// Tool is a capability the model can call by name. Execute's string
// return is the payload fed back to the model, including recoverable
// domain conditions rendered as text; the error return is reserved for
// infrastructure faults.
type Tool interface {
	Definition() llm.Tool
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// CitationSource is implemented by tools that record where their
// returned passages came from.
type CitationSource interface {
	LastCitations() []Citation
	ResetCitations()
}

// Citation identifies the course or lesson behind one returned passage.
type Citation struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}
