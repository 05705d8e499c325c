// Package ingest turns course documents into catalog entries and
// embeddable chunks, and keeps the catalog current through a job
// worker and a docs-folder watcher.
package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/lectern/lectern/internal/storage"
)

// Document is one parsed course file: the catalog entry plus the raw
// text of each section, before chunking.
type Document struct {
	Course   storage.Course
	Preamble string // course-level text before the first lesson marker
	Lessons  []LessonContent
}

// LessonContent pairs a lesson's catalog row with its body text.
type LessonContent struct {
	Lesson storage.Lesson
	Text   string
}

var lessonMarker = regexp.MustCompile(`^Lesson\s+(\d+):\s*(.*)$`)

// ParseFile reads and parses a course document. Supported extensions
// are .txt (UTF-8 text) and .pdf (text extracted per page).
func ParseFile(path string) (Document, error) {
	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return Document{}, err
		}
		text = string(data)
	case ".pdf":
		extracted, err := extractPDF(path)
		if err != nil {
			return Document{}, fmt.Errorf("extracting %s: %w", filepath.Base(path), err)
		}
		text = extracted
	default:
		return Document{}, fmt.Errorf("unsupported document type: %s", filepath.Base(path))
	}

	doc, err := Parse(text)
	if err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// Parse parses course document text. The header consists of a required
// "Course Title:" line and optional "Course Link:" / "Course Instructor:"
// lines in any order. "Lesson <n>: <title>" lines open lesson sections,
// each optionally followed by a "Lesson Link:" line. Text before the
// first lesson marker that is not part of the header is course-level
// content.
func Parse(text string) (Document, error) {
	var (
		doc      Document
		pre      []string
		cur      *LessonContent
		curLines []string
		sawTitle bool
	)

	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.TrimSpace(strings.Join(curLines, "\n"))
		doc.Lessons = append(doc.Lessons, *cur)
		doc.Course.Lessons = append(doc.Course.Lessons, cur.Lesson)
		cur = nil
		curLines = nil
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		trimmed := strings.TrimSpace(line)

		if m := lessonMarker.FindStringSubmatch(trimmed); m != nil {
			flush()
			number, err := strconv.Atoi(m[1])
			if err != nil {
				return Document{}, fmt.Errorf("lesson number %q: %w", m[1], err)
			}
			cur = &LessonContent{Lesson: storage.Lesson{
				Number: number,
				Title:  strings.TrimSpace(m[2]),
			}}
			if i+1 < len(lines) {
				next := strings.TrimSpace(strings.TrimRight(lines[i+1], "\r"))
				if link, ok := strings.CutPrefix(next, "Lesson Link:"); ok {
					cur.Lesson.Link = strings.TrimSpace(link)
					i++
				}
			}
			continue
		}

		if cur != nil {
			curLines = append(curLines, line)
			continue
		}

		// Header zone: everything before the first lesson marker.
		if v, ok := strings.CutPrefix(trimmed, "Course Title:"); ok {
			doc.Course.Title = strings.TrimSpace(v)
			sawTitle = true
			continue
		}
		if v, ok := strings.CutPrefix(trimmed, "Course Link:"); ok {
			doc.Course.Link = strings.TrimSpace(v)
			continue
		}
		if v, ok := strings.CutPrefix(trimmed, "Course Instructor:"); ok {
			doc.Course.Instructor = strings.TrimSpace(v)
			continue
		}
		if trimmed != "" {
			pre = append(pre, line)
		}
	}
	flush()

	if !sawTitle {
		return Document{}, fmt.Errorf("missing Course Title header")
	}
	if doc.Course.Title == "" {
		return Document{}, fmt.Errorf("empty course title")
	}

	doc.Preamble = strings.TrimSpace(strings.Join(pre, "\n"))
	return doc, nil
}

func extractPDF(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	var buf bytes.Buffer
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extracting page %d: %w", i, err)
		}
		buf.WriteString(text)
		if i < pages {
			buf.WriteByte('\n')
		}
	}
	return buf.String(), nil
}

// IsIngestible reports whether the file extension is one the parser
// understands.
func IsIngestible(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".pdf":
		return true
	}
	return false
}
