package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/lectern/lectern/internal/llm"
	"github.com/lectern/lectern/internal/storage"
)

// OutlineSource is the slice of the retrieval engine the outline tool
// needs.
type OutlineSource interface {
	ResolveCourseName(ctx context.Context, name string) (string, error)
	GetCourse(ctx context.Context, title string) (storage.Course, error)
}

// CourseOutlineTool resolves a fuzzy course name and returns the course
// title, its link, and the numbered lesson list.
type CourseOutlineTool struct {
	source        OutlineSource
	lastCitations []Citation
}

// NewCourseOutlineTool creates the get_course_outline tool.
func NewCourseOutlineTool(source OutlineSource) *CourseOutlineTool {
	return &CourseOutlineTool{source: source}
}

// Definition returns the tool's name and input schema.
func (t *CourseOutlineTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        "get_course_outline",
		Description: "Get a course outline with its link and numbered lesson list",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.SchemaProperty{
				"course_name": {
					Type:        "string",
					Description: "Course title (partial matches work, e.g. 'MCP', 'Introduction')",
				},
			},
			Required: []string{"course_name"},
		},
	}
}

// Execute resolves the course name and renders its outline. An
// unresolvable name is a recoverable condition rendered as text; a
// catalog fault after resolution is a Go error.
func (t *CourseOutlineTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["course_name"].(string)

	title, err := t.source.ResolveCourseName(ctx, name)
	if err != nil {
		return fmt.Sprintf("No course found matching '%s'", name), nil
	}

	course, err := t.source.GetCourse(ctx, title)
	if err != nil {
		return "", fmt.Errorf("loading course %q: %w", title, err)
	}

	var b strings.Builder
	b.WriteString("Course: " + course.Title)
	if course.Link != "" {
		b.WriteString("\nLink: " + course.Link)
	}
	if len(course.Lessons) > 0 {
		b.WriteString("\nLessons:")
		for _, lesson := range course.Lessons {
			fmt.Fprintf(&b, "\nLesson %d: %s", lesson.Number, lesson.Title)
		}
	}

	t.lastCitations = []Citation{{Text: course.Title, URL: course.Link}}
	return b.String(), nil
}

// LastCitations returns the citation recorded by the most recent
// successful Execute.
func (t *CourseOutlineTool) LastCitations() []Citation {
	return t.lastCitations
}

// ResetCitations clears the recorded citations.
func (t *CourseOutlineTool) ResetCitations() {
	t.lastCitations = nil
}
