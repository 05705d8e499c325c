package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lectern/lectern/internal/storage"
)

// CourseStore receives parsed courses and their chunks.
// *retrieval.Engine satisfies it.
type CourseStore interface {
	AddCourse(ctx context.Context, course storage.Course, chunks []storage.CourseChunk) error
	CourseTitles(ctx context.Context) ([]string, error)
	ClearAll(ctx context.Context) error
}

// Loader parses course documents and feeds them to a CourseStore.
type Loader struct {
	store   CourseStore
	chunker *Chunker
	logger  *slog.Logger
}

// NewLoader creates a Loader. A nil chunker gets the defaults.
func NewLoader(store CourseStore, chunker *Chunker) *Loader {
	if chunker == nil {
		chunker = NewChunker(0, 0)
	}
	return &Loader{
		store:   store,
		chunker: chunker,
		logger:  slog.Default(),
	}
}

// AddCourseDocument parses, chunks, and stores a single course file.
// Returns the course and the number of chunks stored.
func (l *Loader) AddCourseDocument(ctx context.Context, path string) (storage.Course, int, error) {
	doc, err := ParseFile(path)
	if err != nil {
		return storage.Course{}, 0, err
	}

	chunks := l.chunker.BuildChunks(doc)
	if err := l.store.AddCourse(ctx, doc.Course, chunks); err != nil {
		return storage.Course{}, 0, fmt.Errorf("storing course %q: %w", doc.Course.Title, err)
	}
	return doc.Course, len(chunks), nil
}

// AddCourseFolder ingests every .txt and .pdf file in dir that names a
// course not yet in the catalog. With clearExisting, all stored courses
// and chunks are removed first. A file that fails to parse or store is
// logged and skipped. Returns the number of courses and chunks added.
func (l *Loader) AddCourseFolder(ctx context.Context, dir string, clearExisting bool) (int, int, error) {
	if clearExisting {
		l.logger.Info("clearing existing course data")
		if err := l.store.ClearAll(ctx); err != nil {
			return 0, 0, fmt.Errorf("clearing courses: %w", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		l.logger.Warn("docs folder does not exist", "dir", dir)
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("reading docs folder: %w", err)
	}

	titles, err := l.store.CourseTitles(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing existing courses: %w", err)
	}
	existing := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		existing[t] = struct{}{}
	}

	courses, chunks := 0, 0
	for _, entry := range entries {
		if entry.IsDir() || !IsIngestible(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		doc, err := ParseFile(path)
		if err != nil {
			l.logger.Warn("skipping document", "path", path, "error", err)
			continue
		}
		if _, ok := existing[doc.Course.Title]; ok {
			l.logger.Debug("course already ingested", "title", doc.Course.Title)
			continue
		}

		cs := l.chunker.BuildChunks(doc)
		if err := l.store.AddCourse(ctx, doc.Course, cs); err != nil {
			l.logger.Warn("skipping document", "path", path, "error", err)
			continue
		}
		existing[doc.Course.Title] = struct{}{}
		courses++
		chunks += len(cs)
		l.logger.Info("course ingested", "title", doc.Course.Title, "chunks", len(cs))
	}
	return courses, chunks, nil
}
