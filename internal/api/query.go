// Package api implements the HTTP and MCP surfaces over the RAG
// system.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lectern/lectern/internal/rag"
	"github.com/lectern/lectern/internal/storage"
	"github.com/lectern/lectern/internal/tools"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Querier answers questions and reports catalog analytics.
// *rag.System satisfies it.
type Querier interface {
	Query(ctx context.Context, sessionID, query string) (string, []tools.Citation, string, error)
	Analytics(ctx context.Context) (rag.Analytics, error)
}

// JobQueue accepts ingest jobs. *storage.Store satisfies it.
type JobQueue interface {
	EnqueueJob(job storage.Job) error
}

// Deps holds the HTTP handler dependencies.
type Deps struct {
	RAG   Querier
	Jobs  JobQueue
	Token string // optional; when set, document submission requires it
}

// NewHandler returns the HTTP API handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealth)
	r.Post("/api/query", handleQuery(deps))
	r.Get("/api/courses", handleCourses(deps))
	if deps.Token != "" {
		r.With(BearerAuth(deps.Token)).Post("/api/documents", handleAddDocuments(deps))
	} else {
		r.Post("/api/documents", handleAddDocuments(deps))
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// QueryRequest is the body of POST /api/query. A blank session id
// starts a new session.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// QueryResponse carries the answer, its citations, and the session id
// to continue the conversation under.
type QueryResponse struct {
	Answer    string           `json:"answer"`
	Sources   []tools.Citation `json:"sources"`
	SessionID string           `json:"session_id"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		answer, sources, sessionID, err := deps.RAG.Query(r.Context(), req.SessionID, req.Query)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "query failed: %v", err)
			return
		}
		if sources == nil {
			sources = []tools.Citation{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(QueryResponse{
			Answer:    answer,
			Sources:   sources,
			SessionID: sessionID,
		})
	}
}

func handleCourses(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.RAG.Analytics(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load analytics: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
