package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lectern/lectern/internal/retrieval"
	"github.com/lectern/lectern/internal/storage"
)

// mockEngine satisfies both Searcher and OutlineSource. Unset funcs
// return zero values.
type mockEngine struct {
	searchFn     func(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults
	courseLinkFn func(ctx context.Context, title string) (string, error)
	lessonLinkFn func(ctx context.Context, courseTitle string, lessonNumber int) (string, error)
	resolveFn    func(ctx context.Context, name string) (string, error)
	getCourseFn  func(ctx context.Context, title string) (storage.Course, error)
}

func (m *mockEngine) Search(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults {
	if m.searchFn != nil {
		return m.searchFn(ctx, query, courseName, lessonNumber)
	}
	return retrieval.SearchResults{}
}

func (m *mockEngine) CourseLink(ctx context.Context, title string) (string, error) {
	if m.courseLinkFn != nil {
		return m.courseLinkFn(ctx, title)
	}
	return "", nil
}

func (m *mockEngine) LessonLink(ctx context.Context, courseTitle string, lessonNumber int) (string, error) {
	if m.lessonLinkFn != nil {
		return m.lessonLinkFn(ctx, courseTitle, lessonNumber)
	}
	return "", nil
}

func (m *mockEngine) ResolveCourseName(ctx context.Context, name string) (string, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, name)
	}
	return name, nil
}

func (m *mockEngine) GetCourse(ctx context.Context, title string) (storage.Course, error) {
	if m.getCourseFn != nil {
		return m.getCourseFn(ctx, title)
	}
	return storage.Course{}, storage.ErrNotFound
}

func intp(n int) *int {
	return &n
}

func hitsResult(hits ...retrieval.Hit) retrieval.SearchResults {
	return retrieval.SearchResults{Hits: hits}
}

func TestSearchDefinition(t *testing.T) {
	tool := NewCourseSearchTool(&mockEngine{})
	def := tool.Definition()

	if def.Name != "search_course_content" {
		t.Errorf("Name = %q, want %q", def.Name, "search_course_content")
	}
	if def.InputSchema.Type != "object" {
		t.Errorf("schema type = %q, want %q", def.InputSchema.Type, "object")
	}
	for _, prop := range []string{"query", "course_name", "lesson_number"} {
		if _, ok := def.InputSchema.Properties[prop]; !ok {
			t.Errorf("schema missing property %q", prop)
		}
	}
	if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "query" {
		t.Errorf("required = %v, want [query]", def.InputSchema.Required)
	}
}

func TestExecute_FormatsHits(t *testing.T) {
	engine := &mockEngine{
		searchFn: func(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults {
			return hitsResult(retrieval.Hit{
				Document:     "Machine learning is a subset of AI",
				CourseTitle:  "ML Course",
				LessonNumber: intp(1),
			})
		},
		lessonLinkFn: func(ctx context.Context, courseTitle string, lessonNumber int) (string, error) {
			return "https://example.com/lesson1", nil
		},
	}
	tool := NewCourseSearchTool(engine)

	result, err := tool.Execute(context.Background(), map[string]any{"query": "what is machine learning"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := "[ML Course - Lesson 1]\nMachine learning is a subset of AI"
	if result != want {
		t.Errorf("result = %q, want %q", result, want)
	}

	citations := tool.LastCitations()
	if len(citations) != 1 {
		t.Fatalf("got %d citations, want 1", len(citations))
	}
	if citations[0].Text != "ML Course - Lesson 1" {
		t.Errorf("citation text = %q, want %q", citations[0].Text, "ML Course - Lesson 1")
	}
	if citations[0].URL != "https://example.com/lesson1" {
		t.Errorf("citation url = %q, want %q", citations[0].URL, "https://example.com/lesson1")
	}
}

func TestExecute_PassesArgs(t *testing.T) {
	var gotQuery, gotCourse string
	var gotLesson *int

	engine := &mockEngine{
		searchFn: func(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults {
			gotQuery, gotCourse, gotLesson = query, courseName, lessonNumber
			return retrieval.SearchResults{}
		},
	}
	tool := NewCourseSearchTool(engine)

	// lesson_number arrives as float64 after JSON decoding.
	_, err := tool.Execute(context.Background(), map[string]any{
		"query":         "python functions",
		"course_name":   "Python Basics",
		"lesson_number": float64(3),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if gotQuery != "python functions" {
		t.Errorf("query = %q, want %q", gotQuery, "python functions")
	}
	if gotCourse != "Python Basics" {
		t.Errorf("course = %q, want %q", gotCourse, "Python Basics")
	}
	if gotLesson == nil || *gotLesson != 3 {
		t.Errorf("lesson = %v, want 3", gotLesson)
	}
}

func TestExecute_EngineErrorVerbatim(t *testing.T) {
	engine := &mockEngine{
		searchFn: func(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults {
			return retrieval.SearchResults{Err: "No course found matching 'Nonexistent Course'"}
		},
	}
	tool := NewCourseSearchTool(engine)

	result, err := tool.Execute(context.Background(), map[string]any{
		"query":       "test",
		"course_name": "Nonexistent Course",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result != "No course found matching 'Nonexistent Course'" {
		t.Errorf("result = %q", result)
	}
}

func TestExecute_EmptyNoFilters(t *testing.T) {
	tool := NewCourseSearchTool(&mockEngine{})

	result, err := tool.Execute(context.Background(), map[string]any{"query": "nonexistent topic"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result != "No relevant content found." {
		t.Errorf("result = %q, want %q", result, "No relevant content found.")
	}
}

func TestExecute_EmptyWithFilters(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "course filter",
			args: map[string]any{"query": "q", "course_name": "Test Course"},
			want: "No relevant content found in course 'Test Course'.",
		},
		{
			name: "lesson filter",
			args: map[string]any{"query": "q", "lesson_number": float64(99)},
			want: "No relevant content found in lesson 99.",
		},
		{
			name: "both filters",
			args: map[string]any{"query": "q", "course_name": "Test Course", "lesson_number": float64(2)},
			want: "No relevant content found in course 'Test Course' in lesson 2.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewCourseSearchTool(&mockEngine{})
			result, err := tool.Execute(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if result != tt.want {
				t.Errorf("result = %q, want %q", result, tt.want)
			}
		})
	}
}

func TestExecute_CourseLevelHit(t *testing.T) {
	var lessonLinkCalled bool

	engine := &mockEngine{
		searchFn: func(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults {
			return hitsResult(retrieval.Hit{
				Document:    "General content",
				CourseTitle: "General Course",
			})
		},
		courseLinkFn: func(ctx context.Context, title string) (string, error) {
			return "https://example.com/course", nil
		},
		lessonLinkFn: func(ctx context.Context, courseTitle string, lessonNumber int) (string, error) {
			lessonLinkCalled = true
			return "", nil
		},
	}
	tool := NewCourseSearchTool(engine)

	result, err := tool.Execute(context.Background(), map[string]any{"query": "test"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !strings.HasPrefix(result, "[General Course]\n") {
		t.Errorf("result = %q, want [General Course] header", result)
	}
	if lessonLinkCalled {
		t.Error("LessonLink consulted for a course-level hit")
	}

	citations := tool.LastCitations()
	if len(citations) != 1 || citations[0].Text != "General Course" {
		t.Errorf("citations = %+v, want one for General Course", citations)
	}
	if citations[0].URL != "https://example.com/course" {
		t.Errorf("citation url = %q, want course link", citations[0].URL)
	}
}

func TestExecute_MultipleHitsJoined(t *testing.T) {
	engine := &mockEngine{
		searchFn: func(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults {
			return hitsResult(
				retrieval.Hit{Document: "Content 1", CourseTitle: "Course A", LessonNumber: intp(1)},
				retrieval.Hit{Document: "Content 2", CourseTitle: "Course B", LessonNumber: intp(2)},
			)
		},
		lessonLinkFn: func(ctx context.Context, courseTitle string, lessonNumber int) (string, error) {
			if courseTitle == "Course A" {
				return "https://example.com/a/lesson1", nil
			}
			return "https://example.com/b/lesson2", nil
		},
	}
	tool := NewCourseSearchTool(engine)

	result, err := tool.Execute(context.Background(), map[string]any{"query": "test"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := "[Course A - Lesson 1]\nContent 1\n\n[Course B - Lesson 2]\nContent 2"
	if result != want {
		t.Errorf("result = %q, want %q", result, want)
	}

	citations := tool.LastCitations()
	if len(citations) != 2 {
		t.Fatalf("got %d citations, want 2", len(citations))
	}
	if citations[0].Text != "Course A - Lesson 1" || citations[0].URL != "https://example.com/a/lesson1" {
		t.Errorf("citations[0] = %+v", citations[0])
	}
	if citations[1].Text != "Course B - Lesson 2" || citations[1].URL != "https://example.com/b/lesson2" {
		t.Errorf("citations[1] = %+v", citations[1])
	}
}

func TestExecute_CitationsReplaced(t *testing.T) {
	course := "First Course"
	engine := &mockEngine{
		searchFn: func(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults {
			return hitsResult(retrieval.Hit{Document: "doc", CourseTitle: course})
		},
	}
	tool := NewCourseSearchTool(engine)

	if _, err := tool.Execute(context.Background(), map[string]any{"query": "one"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	course = "Second Course"
	if _, err := tool.Execute(context.Background(), map[string]any{"query": "two"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	citations := tool.LastCitations()
	if len(citations) != 1 {
		t.Fatalf("got %d citations, want 1", len(citations))
	}
	if citations[0].Text != "Second Course" {
		t.Errorf("citation text = %q, want %q", citations[0].Text, "Second Course")
	}
}

func TestExecute_LinkFaultPropagates(t *testing.T) {
	engine := &mockEngine{
		searchFn: func(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults {
			return hitsResult(retrieval.Hit{Document: "doc", CourseTitle: "Course", LessonNumber: intp(1)})
		},
		lessonLinkFn: func(ctx context.Context, courseTitle string, lessonNumber int) (string, error) {
			return "", errors.New("database is locked")
		},
	}
	tool := NewCourseSearchTool(engine)

	result, err := tool.Execute(context.Background(), map[string]any{"query": "test"})
	if err == nil {
		t.Fatal("expected error from link fault")
	}
	if result != "" {
		t.Errorf("result = %q, want empty on fault", result)
	}
	if !strings.Contains(err.Error(), "database is locked") {
		t.Errorf("error = %q, want underlying message", err)
	}
}

func TestResetCitations(t *testing.T) {
	engine := &mockEngine{
		searchFn: func(ctx context.Context, query, courseName string, lessonNumber *int) retrieval.SearchResults {
			return hitsResult(retrieval.Hit{Document: "doc", CourseTitle: "Course"})
		},
	}
	tool := NewCourseSearchTool(engine)

	if _, err := tool.Execute(context.Background(), map[string]any{"query": "test"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(tool.LastCitations()) == 0 {
		t.Fatal("expected citations before reset")
	}

	tool.ResetCitations()

	if got := tool.LastCitations(); len(got) != 0 {
		t.Errorf("citations after reset = %+v, want none", got)
	}
}
