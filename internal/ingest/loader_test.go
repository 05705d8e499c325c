package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lectern/lectern/internal/storage"
)

type storedCourse struct {
	course storage.Course
	chunks []storage.CourseChunk
}

type mockCourseStore struct {
	mu       sync.Mutex
	stored   []storedCourse
	cleared  bool
	addFn    func(ctx context.Context, course storage.Course, chunks []storage.CourseChunk) error
	titlesFn func(ctx context.Context) ([]string, error)
}

func (m *mockCourseStore) AddCourse(ctx context.Context, course storage.Course, chunks []storage.CourseChunk) error {
	if m.addFn != nil {
		return m.addFn(ctx, course, chunks)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = append(m.stored, storedCourse{course: course, chunks: chunks})
	return nil
}

func (m *mockCourseStore) CourseTitles(ctx context.Context) ([]string, error) {
	if m.titlesFn != nil {
		return m.titlesFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	titles := make([]string, 0, len(m.stored))
	for _, s := range m.stored {
		titles = append(titles, s.course.Title)
	}
	return titles, nil
}

func (m *mockCourseStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = true
	m.stored = nil
	return nil
}

func courseDoc(title string) string {
	return fmt.Sprintf(`Course Title: %s
Course Link: https://example.com/%s
Course Instructor: Sam Field

Lesson 0: Opening
The opening lesson has a sentence. It has another sentence too.
`, title, strings.ReplaceAll(strings.ToLower(title), " ", "-"))
}

func TestAddCourseDocument(t *testing.T) {
	store := &mockCourseStore{}
	loader := NewLoader(store, nil)
	path := writeDocument(t, "go.txt", courseDoc("Go Basics"))

	course, chunks, err := loader.AddCourseDocument(context.Background(), path)
	if err != nil {
		t.Fatalf("AddCourseDocument error: %v", err)
	}
	if course.Title != "Go Basics" {
		t.Errorf("Title = %q", course.Title)
	}
	if chunks == 0 {
		t.Error("no chunks reported")
	}
	if len(store.stored) != 1 {
		t.Fatalf("store received %d courses, want 1", len(store.stored))
	}
	if got := len(store.stored[0].chunks); got != chunks {
		t.Errorf("store received %d chunks, loader reported %d", got, chunks)
	}
}

func TestAddCourseDocument_ParseError(t *testing.T) {
	store := &mockCourseStore{}
	loader := NewLoader(store, nil)
	path := writeDocument(t, "broken.txt", "no header at all\njust text\n")

	_, _, err := loader.AddCourseDocument(context.Background(), path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if len(store.stored) != 0 {
		t.Errorf("store received %d courses, want 0", len(store.stored))
	}
}

func TestAddCourseDocument_StoreError(t *testing.T) {
	store := &mockCourseStore{
		addFn: func(context.Context, storage.Course, []storage.CourseChunk) error {
			return fmt.Errorf("vector store offline")
		},
	}
	loader := NewLoader(store, nil)
	path := writeDocument(t, "go.txt", courseDoc("Go Basics"))

	_, _, err := loader.AddCourseDocument(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "vector store offline") {
		t.Fatalf("error = %v, want store failure", err)
	}
}

func TestAddCourseFolder(t *testing.T) {
	dir := t.TempDir()
	writeFolderDoc(t, dir, "a.txt", courseDoc("Course A"))
	writeFolderDoc(t, dir, "b.txt", courseDoc("Course B"))
	writeFolderDoc(t, dir, "notes.md", courseDoc("Ignored"))
	writeFolderDoc(t, dir, "broken.txt", "not a course document\n")

	store := &mockCourseStore{}
	loader := NewLoader(store, nil)

	courses, chunks, err := loader.AddCourseFolder(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("AddCourseFolder error: %v", err)
	}
	if courses != 2 {
		t.Errorf("courses = %d, want 2", courses)
	}
	if chunks == 0 {
		t.Error("no chunks reported")
	}
	titles := make(map[string]bool)
	for _, s := range store.stored {
		titles[s.course.Title] = true
	}
	if !titles["Course A"] || !titles["Course B"] {
		t.Errorf("stored titles = %v", titles)
	}
	if titles["Ignored"] {
		t.Error("markdown file was ingested")
	}
}

func TestAddCourseFolder_SkipsExisting(t *testing.T) {
	dir := t.TempDir()
	writeFolderDoc(t, dir, "a.txt", courseDoc("Course A"))
	writeFolderDoc(t, dir, "b.txt", courseDoc("Course B"))

	store := &mockCourseStore{
		titlesFn: func(context.Context) ([]string, error) {
			return []string{"Course A"}, nil
		},
	}
	loader := NewLoader(store, nil)

	courses, _, err := loader.AddCourseFolder(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("AddCourseFolder error: %v", err)
	}
	if courses != 1 {
		t.Errorf("courses = %d, want 1", courses)
	}
	if len(store.stored) != 1 || store.stored[0].course.Title != "Course B" {
		t.Errorf("stored = %+v, want only Course B", store.stored)
	}
}

func TestAddCourseFolder_DuplicateTitleAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFolderDoc(t, dir, "a.txt", courseDoc("Same Course"))
	writeFolderDoc(t, dir, "b.txt", courseDoc("Same Course"))

	store := &mockCourseStore{}
	loader := NewLoader(store, nil)

	courses, _, err := loader.AddCourseFolder(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("AddCourseFolder error: %v", err)
	}
	if courses != 1 {
		t.Errorf("courses = %d, want 1", courses)
	}
}

func TestAddCourseFolder_ClearExisting(t *testing.T) {
	dir := t.TempDir()
	writeFolderDoc(t, dir, "a.txt", courseDoc("Course A"))

	store := &mockCourseStore{}
	loader := NewLoader(store, nil)

	if _, _, err := loader.AddCourseFolder(context.Background(), dir, true); err != nil {
		t.Fatalf("AddCourseFolder error: %v", err)
	}
	if !store.cleared {
		t.Error("ClearAll was not called")
	}
	if len(store.stored) != 1 {
		t.Errorf("stored %d courses after clear, want 1", len(store.stored))
	}
}

func TestAddCourseFolder_MissingDir(t *testing.T) {
	store := &mockCourseStore{}
	loader := NewLoader(store, nil)

	courses, chunks, err := loader.AddCourseFolder(context.Background(), filepath.Join(t.TempDir(), "absent"), false)
	if err != nil {
		t.Fatalf("AddCourseFolder error: %v", err)
	}
	if courses != 0 || chunks != 0 {
		t.Errorf("courses=%d chunks=%d, want 0/0", courses, chunks)
	}
}

func writeFolderDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}
