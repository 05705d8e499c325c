// Package rag wires retrieval, tools, generation, and sessions into the
// query surface the HTTP API, MCP server, and CLI consume.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/lectern/lectern/internal/storage"
	"github.com/lectern/lectern/internal/tools"
)

// DefaultMaxHistory is how many prior exchanges ride along with a
// session-aware query.
const DefaultMaxHistory = 2

const queryPreamble = "Answer this question about course materials: "

// Retriever is the retrieval surface the facade and its tools consume.
// *retrieval.Engine satisfies it.
type Retriever interface {
	tools.Searcher
	tools.OutlineSource
	CourseTitles(ctx context.Context) ([]string, error)
	CourseCount(ctx context.Context) (int, error)
}

// Generator runs one bounded conversation. *chat.Generator satisfies it.
type Generator interface {
	Respond(ctx context.Context, query, history string, reg *tools.Registry) (string, error)
}

// SessionStore persists sessions and their exchanges. *storage.Store
// satisfies it.
type SessionStore interface {
	CreateSession(id string) error
	AppendExchange(sessionID, userQuery, answer string) error
	RecentExchanges(sessionID string, limit int) ([]storage.Exchange, error)
}

// Ingestor loads course documents. *ingest.Loader satisfies it.
type Ingestor interface {
	AddCourseDocument(ctx context.Context, path string) (storage.Course, int, error)
	AddCourseFolder(ctx context.Context, dir string, clearExisting bool) (int, int, error)
}

// Analytics summarizes the catalog.
type Analytics struct {
	TotalCourses int      `json:"total_courses"`
	CourseTitles []string `json:"course_titles"`
}

// System is the RAG facade.
type System struct {
	retriever  Retriever
	generator  Generator
	sessions   SessionStore
	ingestor   Ingestor
	maxHistory int
	logger     *slog.Logger
}

// NewSystem creates a System. If maxHistory is <= 0, it defaults to 2
// exchanges.
func NewSystem(retriever Retriever, generator Generator, sessions SessionStore, ingestor Ingestor, maxHistory int) *System {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &System{
		retriever:  retriever,
		generator:  generator,
		sessions:   sessions,
		ingestor:   ingestor,
		maxHistory: maxHistory,
		logger:     slog.Default(),
	}
}

// Answer runs one query through the conversation loop. Tools and their
// registry are created fresh per call, so citations from concurrent
// queries never interleave. The returned citations are whatever the
// tools collected during this call.
func (s *System) Answer(ctx context.Context, query, history string) (string, []tools.Citation, error) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.NewCourseSearchTool(s.retriever)); err != nil {
		return "", nil, fmt.Errorf("registering search tool: %w", err)
	}
	if err := reg.Register(tools.NewCourseOutlineTool(s.retriever)); err != nil {
		return "", nil, fmt.Errorf("registering outline tool: %w", err)
	}

	answer, err := s.generator.Respond(ctx, queryPreamble+query, history, reg)
	if err != nil {
		return "", nil, err
	}

	citations := reg.LastCitations()
	reg.ResetCitations()
	return answer, citations, nil
}

// Query answers within a session. A blank session id gets a fresh
// session; the session id actually used is returned so callers can
// continue the conversation. History reads and exchange writes degrade
// to a logged warning rather than failing the query.
func (s *System) Query(ctx context.Context, sessionID, query string) (string, []tools.Citation, string, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if err := s.sessions.CreateSession(sessionID); err != nil {
		s.logger.Warn("failed to ensure session", "session_id", sessionID, "error", err)
	}

	history := ""
	exchanges, err := s.sessions.RecentExchanges(sessionID, s.maxHistory)
	if err != nil {
		s.logger.Warn("failed to load history", "session_id", sessionID, "error", err)
	} else {
		history = renderHistory(exchanges)
	}

	answer, citations, err := s.Answer(ctx, query, history)
	if err != nil {
		return "", nil, sessionID, err
	}

	if err := s.sessions.AppendExchange(sessionID, query, answer); err != nil {
		s.logger.Warn("failed to record exchange", "session_id", sessionID, "error", err)
	}
	return answer, citations, sessionID, nil
}

// Analytics reports the catalog totals.
func (s *System) Analytics(ctx context.Context) (Analytics, error) {
	count, err := s.retriever.CourseCount(ctx)
	if err != nil {
		return Analytics{}, fmt.Errorf("counting courses: %w", err)
	}
	titles, err := s.retriever.CourseTitles(ctx)
	if err != nil {
		return Analytics{}, fmt.Errorf("listing courses: %w", err)
	}
	if titles == nil {
		titles = []string{}
	}
	return Analytics{TotalCourses: count, CourseTitles: titles}, nil
}

// AddCourseDocument ingests one course document.
func (s *System) AddCourseDocument(ctx context.Context, path string) (storage.Course, int, error) {
	return s.ingestor.AddCourseDocument(ctx, path)
}

// AddCourseFolder ingests every new course document in dir.
func (s *System) AddCourseFolder(ctx context.Context, dir string, clearExisting bool) (int, int, error) {
	return s.ingestor.AddCourseFolder(ctx, dir, clearExisting)
}

func renderHistory(exchanges []storage.Exchange) string {
	if len(exchanges) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range exchanges {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "User: %s\nAssistant: %s", e.UserQuery, e.Answer)
	}
	return b.String()
}
