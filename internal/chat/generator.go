// Package chat implements the bounded tool-calling conversation loop
// against the Anthropic Messages API.
package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lectern/lectern/internal/llm"
	"github.com/lectern/lectern/internal/tools"
)

const (
	// DefaultMaxToolRounds bounds sequential tool-calling rounds per
	// query unless configured otherwise.
	DefaultMaxToolRounds = 2

	maxTokens   = 800
	temperature = 0
)

// MessagesClient is the single model operation the generator consumes.
// *llm.Client satisfies it.
type MessagesClient interface {
	Messages(ctx context.Context, req llm.MessagesRequest) (*llm.MessagesResponse, error)
}

// Generator runs the conversation loop for one query at a time: it
// offers the registry's tools to the model, executes requested calls,
// feeds the results back, and stops on a natural answer, a tool fault,
// or the round budget.
type Generator struct {
	client        MessagesClient
	model         string
	maxToolRounds int
}

// NewGenerator creates a generator for the given model id.
// maxToolRounds bounds tool-calling rounds per query; the loop issues
// at most maxToolRounds+1 model calls, and a non-positive budget makes
// no calls at all.
func NewGenerator(client MessagesClient, model string, maxToolRounds int) *Generator {
	return &Generator{
		client:        client,
		model:         model,
		maxToolRounds: maxToolRounds,
	}
}

// Respond answers one user query. history, when non-empty, is the
// rendered prior conversation appended to the system content.
// Recoverable tool conditions come back as answer text; only model and
// transport faults return a Go error.
func (g *Generator) Respond(ctx context.Context, query, history string, reg *tools.Registry) (string, error) {
	system := buildSystem(history)
	messages := []llm.Message{llm.UserText(query)}
	defs := reg.Definitions()

	for round := 1; round <= g.maxToolRounds; round++ {
		req := llm.MessagesRequest{
			Model:       g.model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			System:      system,
			Messages:    messages,
		}
		if len(defs) > 0 {
			req.Tools = defs
			req.ToolChoice = &llm.ToolChoice{Type: "auto"}
		}

		resp, err := g.client.Messages(ctx, req)
		if err != nil {
			return "", err
		}

		// Natural termination: the model answered without tools.
		if resp.StopReason != "tool_use" {
			return finalText(resp), nil
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})

		results, err := executeToolCalls(ctx, resp.Content, reg)
		if err != nil {
			// A tool fault ends the turn with no further model calls.
			return fmt.Sprintf("Error executing tool: %s", err), nil
		}
		if len(results) > 0 {
			messages = append(messages, llm.Message{Role: "user", Content: results})
		}

		// Budget spent: one last call without tools forces a text answer.
		if round == g.maxToolRounds {
			final := llm.MessagesRequest{
				Model:       g.model,
				MaxTokens:   maxTokens,
				Temperature: temperature,
				System:      system,
				Messages:    messages,
			}
			resp, err := g.client.Messages(ctx, final)
			if err != nil {
				return "", err
			}
			return finalText(resp), nil
		}
	}

	return "Unable to generate response after maximum rounds", nil
}

// executeToolCalls runs every tool_use block in emission order and
// collects the tool_result blocks for one user turn.
func executeToolCalls(ctx context.Context, blocks []llm.ContentBlock, reg *tools.Registry) ([]llm.ContentBlock, error) {
	var results []llm.ContentBlock
	for _, block := range blocks {
		if block.Type != "tool_use" {
			continue
		}

		var args map[string]any
		if len(block.Input) > 0 {
			if err := json.Unmarshal(block.Input, &args); err != nil {
				return nil, fmt.Errorf("decoding arguments for %s: %w", block.Name, err)
			}
		}

		output, err := reg.Execute(ctx, block.Name, args)
		if err != nil {
			return nil, err
		}
		results = append(results, llm.ToolResultBlock(block.ID, output))
	}
	return results, nil
}

// finalText extracts the first text block of a response, falling back
// to a fixed string when the model returned none.
func finalText(resp *llm.MessagesResponse) string {
	for _, b := range resp.Content {
		if b.Type == "text" {
			return b.Text
		}
	}
	return "No response generated"
}
