package llm

import "encoding/json"

// Message is one conversation turn. Content is always a block list; a
// plain text turn carries a single text block.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one element of a message content list. Type is "text",
// "tool_use" or "tool_result" and selects which of the remaining fields
// are set. Input is kept raw so assistant blocks echo back byte-for-byte.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// TextBlock builds a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolResultBlock builds a tool_result block answering the tool_use block
// with the given id.
func ToolResultBlock(toolUseID, content string) ContentBlock {
	return ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Content: content}
}

// UserText builds a user message holding a single text block.
func UserText(text string) Message {
	return Message{Role: "user", Content: []ContentBlock{TextBlock(text)}}
}

// Tool declares a capability the model may call.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"input_schema"`
}

// Schema describes the JSON object a tool accepts as input.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolChoice selects how the model may use the offered tools.
type ToolChoice struct {
	Type string `json:"type"`
}

// MessagesRequest is the body of POST /v1/messages. Temperature is sent
// even when zero; the generator pins it there deliberately.
type MessagesRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	Temperature float64     `json:"temperature"`
	System      string      `json:"system,omitempty"`
	Messages    []Message   `json:"messages"`
	Tools       []Tool      `json:"tools,omitempty"`
	ToolChoice  *ToolChoice `json:"tool_choice,omitempty"`
}

// MessagesResponse is the parsed body of POST /v1/messages.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Error      *APIError      `json:"error,omitempty"`
}

// APIError is the error object Anthropic embeds in failure responses.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FirstText returns the text of the first text block in the response
// content, or the empty string when there is none.
func (r *MessagesResponse) FirstText() string {
	for _, b := range r.Content {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}

// ToolUses returns the tool_use blocks of the response content in order.
func (r *MessagesResponse) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range r.Content {
		if b.Type == "tool_use" {
			uses = append(uses, b)
		}
	}
	return uses
}
