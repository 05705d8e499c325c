package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDocument = `Course Title: Building RAG Applications
Course Link: https://example.com/courses/rag
Course Instructor: Dana Smith

Lesson 0: Introduction
Lesson Link: https://example.com/courses/rag/lesson-0
Welcome to the course. This lesson covers what retrieval augmentation means.

Lesson 1: Embeddings
Lesson Link: https://example.com/courses/rag/lesson-1
An embedding maps text to a vector. Similar texts map to nearby vectors.
`

func writeDocument(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestParse_FullDocument(t *testing.T) {
	doc, err := Parse(sampleDocument)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if doc.Course.Title != "Building RAG Applications" {
		t.Errorf("Title = %q", doc.Course.Title)
	}
	if doc.Course.Link != "https://example.com/courses/rag" {
		t.Errorf("Link = %q", doc.Course.Link)
	}
	if doc.Course.Instructor != "Dana Smith" {
		t.Errorf("Instructor = %q", doc.Course.Instructor)
	}

	if len(doc.Lessons) != 2 {
		t.Fatalf("parsed %d lessons, want 2", len(doc.Lessons))
	}
	first := doc.Lessons[0]
	if first.Lesson.Number != 0 || first.Lesson.Title != "Introduction" {
		t.Errorf("lesson 0 = %d %q", first.Lesson.Number, first.Lesson.Title)
	}
	if first.Lesson.Link != "https://example.com/courses/rag/lesson-0" {
		t.Errorf("lesson 0 link = %q", first.Lesson.Link)
	}
	if !strings.Contains(first.Text, "retrieval augmentation") {
		t.Errorf("lesson 0 text = %q", first.Text)
	}
	second := doc.Lessons[1]
	if second.Lesson.Number != 1 || second.Lesson.Title != "Embeddings" {
		t.Errorf("lesson 1 = %d %q", second.Lesson.Number, second.Lesson.Title)
	}

	if len(doc.Course.Lessons) != 2 {
		t.Fatalf("course carries %d lessons, want 2", len(doc.Course.Lessons))
	}
	if doc.Course.Lessons[1].Title != "Embeddings" {
		t.Errorf("course lesson 1 = %q", doc.Course.Lessons[1].Title)
	}
}

func TestParse_MissingTitle(t *testing.T) {
	_, err := Parse("Course Link: https://example.com\n\nLesson 1: Something\ntext\n")
	if err == nil {
		t.Fatal("expected error for document without a title")
	}
	if !strings.Contains(err.Error(), "Course Title") {
		t.Errorf("error = %q, want mention of Course Title", err)
	}
}

func TestParse_HeaderOrderTolerant(t *testing.T) {
	doc, err := Parse("Course Instructor: Pat Lee\nCourse Title: Order Test\nCourse Link: https://example.com/x\n")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if doc.Course.Title != "Order Test" {
		t.Errorf("Title = %q", doc.Course.Title)
	}
	if doc.Course.Instructor != "Pat Lee" {
		t.Errorf("Instructor = %q", doc.Course.Instructor)
	}
	if doc.Course.Link != "https://example.com/x" {
		t.Errorf("Link = %q", doc.Course.Link)
	}
}

func TestParse_PreambleBeforeLessons(t *testing.T) {
	doc, err := Parse(`Course Title: Preamble Test

This course assumes no prior knowledge.
Bring your own laptop.

Lesson 1: Start
The first lesson.
`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !strings.Contains(doc.Preamble, "no prior knowledge") {
		t.Errorf("Preamble = %q", doc.Preamble)
	}
	if !strings.Contains(doc.Preamble, "laptop") {
		t.Errorf("Preamble = %q", doc.Preamble)
	}
	if len(doc.Lessons) != 1 {
		t.Fatalf("parsed %d lessons, want 1", len(doc.Lessons))
	}
	if strings.Contains(doc.Lessons[0].Text, "laptop") {
		t.Errorf("preamble leaked into lesson text: %q", doc.Lessons[0].Text)
	}
}

func TestParse_NoLessons(t *testing.T) {
	doc, err := Parse("Course Title: Flat Course\n\nAll the content lives at the course level.\n")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(doc.Lessons) != 0 {
		t.Errorf("parsed %d lessons, want 0", len(doc.Lessons))
	}
	if doc.Preamble != "All the content lives at the course level." {
		t.Errorf("Preamble = %q", doc.Preamble)
	}
}

func TestParse_LessonWithoutLink(t *testing.T) {
	doc, err := Parse("Course Title: Linkless\n\nLesson 3: No Link Here\nJust content right away.\n")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(doc.Lessons) != 1 {
		t.Fatalf("parsed %d lessons, want 1", len(doc.Lessons))
	}
	l := doc.Lessons[0]
	if l.Lesson.Link != "" {
		t.Errorf("Link = %q, want empty", l.Lesson.Link)
	}
	if l.Text != "Just content right away." {
		t.Errorf("Text = %q", l.Text)
	}
}

func TestParse_CRLF(t *testing.T) {
	text := strings.ReplaceAll(sampleDocument, "\n", "\r\n")
	doc, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if doc.Course.Title != "Building RAG Applications" {
		t.Errorf("Title = %q", doc.Course.Title)
	}
	if len(doc.Lessons) != 2 {
		t.Errorf("parsed %d lessons, want 2", len(doc.Lessons))
	}
	if strings.Contains(doc.Lessons[0].Text, "\r") {
		t.Errorf("lesson text kept carriage returns: %q", doc.Lessons[0].Text)
	}
}

func TestParseFile_Txt(t *testing.T) {
	path := writeDocument(t, "course.txt", sampleDocument)
	doc, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile error: %v", err)
	}
	if doc.Course.Title != "Building RAG Applications" {
		t.Errorf("Title = %q", doc.Course.Title)
	}
}

func TestParseFile_UnsupportedExtension(t *testing.T) {
	path := writeDocument(t, "course.md", sampleDocument)
	_, err := ParseFile(path)
	if err == nil {
		t.Fatal("expected error for .md file")
	}
	if !strings.Contains(err.Error(), "unsupported document type") {
		t.Errorf("error = %q", err)
	}
}

func TestParseFile_Missing(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestIsIngestible(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"course.txt", true},
		{"course.TXT", true},
		{"slides.pdf", true},
		{"notes.md", false},
		{"archive.tar.gz", false},
		{"no_extension", false},
	}
	for _, tc := range cases {
		if got := IsIngestible(tc.path); got != tc.want {
			t.Errorf("IsIngestible(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
