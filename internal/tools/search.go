package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/lectern/lectern/internal/llm"
	"github.com/lectern/lectern/internal/retrieval"
)

// Searcher is the slice of the retrieval engine the search tool needs.
type Searcher interface {
	Search(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults
	CourseLink(ctx context.Context, title string) (string, error)
	LessonLink(ctx context.Context, courseTitle string, lessonNumber int) (string, error)
}

// CourseSearchTool searches course content with optional fuzzy course
// and lesson filtering. It keeps the citations of its most recent
// successful execution; each execution replaces them.
type CourseSearchTool struct {
	engine        Searcher
	lastCitations []Citation
}

// NewCourseSearchTool creates the search_course_content tool.
func NewCourseSearchTool(engine Searcher) *CourseSearchTool {
	return &CourseSearchTool{engine: engine}
}

// Definition returns the tool's name and input schema.
func (t *CourseSearchTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        "search_course_content",
		Description: "Search course materials with smart course name matching and lesson filtering",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.SchemaProperty{
				"query": {
					Type:        "string",
					Description: "What to search for in the course content",
				},
				"course_name": {
					Type:        "string",
					Description: "Course title (partial matches work, e.g. 'MCP', 'Introduction')",
				},
				"lesson_number": {
					Type:        "integer",
					Description: "Specific lesson number to search within (e.g. 1, 2, 3)",
				},
			},
			Required: []string{"query"},
		},
	}
}

// Execute runs one search. Engine-reported conditions (unresolvable
// course, search error) come back verbatim as the result string; only
// link resolution faults surface as Go errors.
func (t *CourseSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	courseName, _ := args["course_name"].(string)

	var lessonNumber *int
	if v, ok := args["lesson_number"]; ok {
		if n, ok := toInt(v); ok {
			lessonNumber = &n
		}
	}

	results := t.engine.Search(ctx, query, courseName, lessonNumber)
	if results.Err != "" {
		return results.Err, nil
	}
	if len(results.Hits) == 0 {
		return emptyMessage(courseName, lessonNumber), nil
	}
	return t.formatHits(ctx, results.Hits)
}

// LastCitations returns the citations recorded by the most recent
// successful Execute.
func (t *CourseSearchTool) LastCitations() []Citation {
	return t.lastCitations
}

// ResetCitations clears the recorded citations.
func (t *CourseSearchTool) ResetCitations() {
	t.lastCitations = nil
}

// formatHits renders hits as bracketed header blocks and records one
// citation per hit, in hit order.
func (t *CourseSearchTool) formatHits(ctx context.Context, hits []retrieval.Hit) (string, error) {
	blocks := make([]string, 0, len(hits))
	citations := make([]Citation, 0, len(hits))

	for _, hit := range hits {
		var header, text, link string
		var err error
		if hit.LessonNumber != nil {
			header = fmt.Sprintf("[%s - Lesson %d]", hit.CourseTitle, *hit.LessonNumber)
			text = fmt.Sprintf("%s - Lesson %d", hit.CourseTitle, *hit.LessonNumber)
			link, err = t.engine.LessonLink(ctx, hit.CourseTitle, *hit.LessonNumber)
		} else {
			header = fmt.Sprintf("[%s]", hit.CourseTitle)
			text = hit.CourseTitle
			link, err = t.engine.CourseLink(ctx, hit.CourseTitle)
		}
		if err != nil {
			return "", fmt.Errorf("resolving link for %q: %w", hit.CourseTitle, err)
		}

		blocks = append(blocks, header+"\n"+hit.Document)
		citations = append(citations, Citation{Text: text, URL: link})
	}

	t.lastCitations = citations
	return strings.Join(blocks, "\n\n"), nil
}

// emptyMessage names the active filters so the model can see which
// constraint produced the miss.
func emptyMessage(courseName string, lessonNumber *int) string {
	var b strings.Builder
	b.WriteString("No relevant content found")
	if courseName != "" {
		fmt.Fprintf(&b, " in course '%s'", courseName)
	}
	if lessonNumber != nil {
		fmt.Fprintf(&b, " in lesson %d", *lessonNumber)
	}
	b.WriteString(".")
	return b.String()
}

// toInt accepts the numeric shapes JSON decoding produces for integer
// arguments.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
