package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lectern/lectern/internal/storage"
)

// Catalog is the relational course metadata the engine keeps alongside
// the vector collections. storage.Store satisfies it.
type Catalog interface {
	SaveCourse(c storage.Course) error
	GetCourse(title string) (storage.Course, error)
	CourseTitles() ([]string, error)
	CourseCount() (int, error)
	CourseLink(title string) (string, error)
	LessonLink(courseTitle string, lessonNumber int) (string, error)
	DeleteAllCourses() error
}

// Engine owns the course catalog and content collections and answers
// filtered semantic searches over them. Course names given to Search
// are fuzzy: they resolve to the closest catalog title by embedding
// similarity before the content query runs.
type Engine struct {
	embedder      *Embedder
	store         VectorStore
	catalog       Catalog
	maxResults    int
	minSimilarity float32
}

// NewEngine wires an Engine from its embedder, vector store, and course
// catalog. maxResults bounds search hits (default 5 if <= 0).
// minSimilarity, when positive, rejects course-name resolutions whose
// cosine similarity falls below it; 0 accepts every nearest match.
func NewEngine(embedder *Embedder, store VectorStore, catalog Catalog, maxResults int, minSimilarity float32) *Engine {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Engine{
		embedder:      embedder,
		store:         store,
		catalog:       catalog,
		maxResults:    maxResults,
		minSimilarity: minSimilarity,
	}
}

// EnsureCollections creates both vector collections if they do not
// exist. Called once at startup before any ingest or search.
func (e *Engine) EnsureCollections(ctx context.Context) error {
	for _, c := range []string{CatalogCollection, ContentCollection} {
		if err := e.store.EnsureCollection(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Search answers a content query, optionally restricted to a fuzzy
// course name and/or lesson number. Failures are reported inside the
// SearchResults, never as a Go error: an unresolvable course name
// yields "No course found matching '<name>'" and an embed or store
// fault yields "Search error: <msg>".
func (e *Engine) Search(ctx context.Context, query, courseName string, lessonNumber *int) SearchResults {
	var courseTitle string
	if courseName != "" {
		title, err := e.ResolveCourseName(ctx, courseName)
		if err != nil {
			slog.Debug("course name resolution failed", "name", courseName, "error", err)
			return errorResults(fmt.Sprintf("No course found matching '%s'", courseName))
		}
		courseTitle = title
	}

	filter := BuildFilter(courseTitle, lessonNumber)

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return errorResults(fmt.Sprintf("Search error: %s", err))
	}

	scored, err := e.store.Search(ctx, ContentCollection, vec, e.maxResults, filter)
	if err != nil {
		return errorResults(fmt.Sprintf("Search error: %s", err))
	}

	return hitResults(scored)
}

// ResolveCourseName matches a partial or approximate course name to the
// closest catalog title. Exact titles resolve to themselves.
func (e *Engine) ResolveCourseName(ctx context.Context, name string) (string, error) {
	vec, err := e.embedder.Embed(ctx, name)
	if err != nil {
		return "", err
	}

	matches, err := e.store.Search(ctx, CatalogCollection, vec, 1, Filter{})
	if err != nil {
		return "", fmt.Errorf("searching catalog: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no course matching %q", name)
	}
	if e.minSimilarity > 0 && 1-matches[0].Distance < e.minSimilarity {
		return "", fmt.Errorf("no course matching %q", name)
	}
	return matches[0].CourseTitle, nil
}

// AddCourse stores a course and its content chunks: the relational
// catalog row, the title embedding in the catalog collection, and the
// chunk embeddings in the content collection. Re-adding a title
// replaces all three.
func (e *Engine) AddCourse(ctx context.Context, course storage.Course, chunks []storage.CourseChunk) error {
	if course.Title == "" {
		return errors.New("course title is empty")
	}

	if err := e.catalog.SaveCourse(course); err != nil {
		return fmt.Errorf("saving course %q: %w", course.Title, err)
	}

	titleVec, err := e.embedder.Embed(ctx, course.Title)
	if err != nil {
		return err
	}
	catalogRec := Record{
		ID:          course.Title,
		Document:    course.Title,
		CourseTitle: course.Title,
		Embedding:   titleVec,
	}
	if err := e.store.Upsert(ctx, CatalogCollection, []Record{catalogRec}); err != nil {
		return fmt.Errorf("upserting catalog record: %w", err)
	}

	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	records := make([]Record, len(chunks))
	for i, ch := range chunks {
		records[i] = Record{
			ID:           ChunkID(ch.CourseTitle, ch.ChunkIndex),
			Document:     ch.Content,
			CourseTitle:  ch.CourseTitle,
			LessonNumber: ch.LessonNumber,
			ChunkIndex:   ch.ChunkIndex,
			Embedding:    vecs[i],
		}
	}
	if err := e.store.Upsert(ctx, ContentCollection, records); err != nil {
		return fmt.Errorf("upserting content records: %w", err)
	}
	return nil
}

// ChunkID derives the content-collection id for a chunk: the course
// title with spaces replaced by underscores, then the chunk index.
func ChunkID(courseTitle string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", strings.ReplaceAll(courseTitle, " ", "_"), chunkIndex)
}

// CourseTitles returns all cataloged course titles in ingestion order.
func (e *Engine) CourseTitles(ctx context.Context) ([]string, error) {
	return e.catalog.CourseTitles()
}

// CourseCount returns the number of cataloged courses.
func (e *Engine) CourseCount(ctx context.Context) (int, error) {
	return e.catalog.CourseCount()
}

// ChunkCount returns the number of stored content chunks.
func (e *Engine) ChunkCount(ctx context.Context) (int, error) {
	return e.store.Count(ctx, ContentCollection)
}

// GetCourse returns the catalog entry for an exact title, including its
// lessons. Returns storage.ErrNotFound for unknown titles.
func (e *Engine) GetCourse(ctx context.Context, title string) (storage.Course, error) {
	return e.catalog.GetCourse(title)
}

// CourseLink returns the link for a course, or the empty string when
// the course is unknown or has no link.
func (e *Engine) CourseLink(ctx context.Context, title string) (string, error) {
	link, err := e.catalog.CourseLink(title)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return link, err
}

// LessonLink returns the link for a lesson, or the empty string when
// the course or lesson is unknown. A missing lesson is not an error;
// only storage faults are.
func (e *Engine) LessonLink(ctx context.Context, courseTitle string, lessonNumber int) (string, error) {
	link, err := e.catalog.LessonLink(courseTitle, lessonNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return link, err
}

// ClearAll removes every course from the catalog and both vector
// collections. Sessions survive.
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.store.Clear(ctx, ContentCollection); err != nil {
		return err
	}
	if err := e.store.Clear(ctx, CatalogCollection); err != nil {
		return err
	}
	if err := e.catalog.DeleteAllCourses(); err != nil {
		return fmt.Errorf("deleting courses: %w", err)
	}
	return nil
}
