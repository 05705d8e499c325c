package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func textResponse(text string) string {
	return fmt.Sprintf(`{"id":"msg_1","role":"assistant","content":[{"type":"text","text":%q}],"stop_reason":"end_turn"}`, text)
}

func testRequest() MessagesRequest {
	return MessagesRequest{
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 800,
		Messages:  []Message{UserText("hi")},
	}
}

func TestMessages_Text(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, textResponse("Hello!"))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	resp, err := c.Messages(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}

	if got := resp.FirstText(); got != "Hello!" {
		t.Errorf("FirstText = %q, want %q", got, "Hello!")
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("StopReason = %q, want %q", resp.StopReason, "end_turn")
	}
}

func TestMessages_Headers(t *testing.T) {
	var gotKey, gotVersion, gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		gotContentType = r.Header.Get("Content-Type")
		fmt.Fprint(w, textResponse("ok"))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.Messages(context.Background(), testRequest()); err != nil {
		t.Fatalf("Messages: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("x-api-key = %q, want %q", gotKey, "test-key")
	}
	if gotVersion != "2023-06-01" {
		t.Errorf("anthropic-version = %q, want %q", gotVersion, "2023-06-01")
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", gotContentType, "application/json")
	}
}

func TestMessages_RequestBody(t *testing.T) {
	var gotBody map[string]json.RawMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		fmt.Fprint(w, textResponse("ok"))
	}))
	defer srv.Close()

	req := MessagesRequest{
		Model:      "claude-sonnet-4-20250514",
		MaxTokens:  800,
		System:     "Answer briefly.",
		Messages:   []Message{UserText("What is Go?")},
		Tools:      []Tool{{Name: "search", Description: "Search things", InputSchema: Schema{Type: "object"}}},
		ToolChoice: &ToolChoice{Type: "auto"},
	}

	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.Messages(context.Background(), req); err != nil {
		t.Fatalf("Messages: %v", err)
	}

	for _, key := range []string{"model", "max_tokens", "temperature", "system", "messages", "tools", "tool_choice"} {
		if _, ok := gotBody[key]; !ok {
			t.Errorf("request body missing %q", key)
		}
	}

	// Temperature is zero but must still be on the wire.
	if string(gotBody["temperature"]) != "0" {
		t.Errorf("temperature = %s, want 0", gotBody["temperature"])
	}
	if string(gotBody["model"]) != `"claude-sonnet-4-20250514"` {
		t.Errorf("model = %s", gotBody["model"])
	}
}

func TestMessages_NoToolsOmitted(t *testing.T) {
	var gotBody map[string]json.RawMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		fmt.Fprint(w, textResponse("ok"))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.Messages(context.Background(), testRequest()); err != nil {
		t.Fatalf("Messages: %v", err)
	}

	if _, ok := gotBody["tools"]; ok {
		t.Error("tools present in request without tools")
	}
	if _, ok := gotBody["tool_choice"]; ok {
		t.Error("tool_choice present in request without tools")
	}
}

func TestMessages_ToolUse(t *testing.T) {
	respJSON := `{"id":"msg_1","role":"assistant","content":[` +
		`{"type":"text","text":"Let me look."},` +
		`{"type":"tool_use","id":"toolu_1","name":"search_course_content","input":{"query":"pointers"}}` +
		`],"stop_reason":"tool_use"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, respJSON)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	resp, err := c.Messages(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}

	if resp.StopReason != "tool_use" {
		t.Errorf("StopReason = %q, want %q", resp.StopReason, "tool_use")
	}

	uses := resp.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("got %d tool_use blocks, want 1", len(uses))
	}
	if uses[0].ID != "toolu_1" {
		t.Errorf("ID = %q, want %q", uses[0].ID, "toolu_1")
	}
	if uses[0].Name != "search_course_content" {
		t.Errorf("Name = %q, want %q", uses[0].Name, "search_course_content")
	}

	var input map[string]any
	if err := json.Unmarshal(uses[0].Input, &input); err != nil {
		t.Fatalf("unmarshaling input: %v", err)
	}
	if input["query"] != "pointers" {
		t.Errorf("input query = %v, want %q", input["query"], "pointers")
	}
}

func TestMessages_RetryOnServerError(t *testing.T) {
	var attempt atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, textResponse("recovered"))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	resp, err := c.Messages(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}

	if got := resp.FirstText(); got != "recovered" {
		t.Errorf("FirstText = %q, want %q", got, "recovered")
	}
	if got := attempt.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestMessages_RetryOnRateLimit(t *testing.T) {
	var attempt atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, textResponse("ok"))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.Messages(context.Background(), testRequest()); err != nil {
		t.Fatalf("Messages: %v", err)
	}

	if got := attempt.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestMessages_RetriesExhausted(t *testing.T) {
	var attempt atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Messages(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}

	if !strings.Contains(err.Error(), "giving up") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "giving up")
	}
	if got := attempt.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestMessages_APIErrorNotRetried(t *testing.T) {
	var attempt atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens required"}}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Messages(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}

	if !strings.Contains(err.Error(), "max_tokens required") {
		t.Errorf("error = %q, want it to contain the API message", err.Error())
	}
	if got := attempt.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestFirstText_NoTextBlock(t *testing.T) {
	resp := &MessagesResponse{
		Content: []ContentBlock{
			{Type: "tool_use", ID: "toolu_1", Name: "search_course_content", Input: json.RawMessage(`{}`)},
		},
	}
	if got := resp.FirstText(); got != "" {
		t.Errorf("FirstText = %q, want empty", got)
	}
}
