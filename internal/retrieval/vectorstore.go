package retrieval

import (
	"context"
	"time"
)

// Collection names for the two vector indexes the engine maintains.
// The catalog holds one record per course title and exists purely for
// fuzzy course-name resolution; the content collection holds the
// chunked course material that queries actually search.
const (
	CatalogCollection = "course_catalog"
	ContentCollection = "course_content"
)

// Record is a single embedded document stored in a collection.
// CourseTitle and LessonNumber carry the metadata that filtered
// searches match against; LessonNumber is nil for records that do not
// belong to a numbered lesson (catalog entries, course overviews).
type Record struct {
	ID           string
	Document     string
	CourseTitle  string
	LessonNumber *int
	ChunkIndex   int
	Embedding    []float32
	CreatedAt    time.Time
}

// ScoredRecord pairs a record with its distance from the query vector.
// Distance is 1 minus cosine similarity, so 0 is identical and lower
// is closer.
type ScoredRecord struct {
	Record
	Distance float32
}

// Filter restricts a search to records matching course and/or lesson
// metadata. The zero value matches everything. A non-empty CourseTitle
// requires an exact title match; a non-nil LessonNumber requires an
// exact lesson match; setting both requires both.
type Filter struct {
	CourseTitle  string
	LessonNumber *int
}

// IsZero reports whether the filter imposes no constraints.
func (f Filter) IsZero() bool {
	return f.CourseTitle == "" && f.LessonNumber == nil
}

// BuildFilter constructs the search filter for a resolved course title
// and an optional lesson number. An empty title with a nil lesson
// yields the unconstrained filter.
func BuildFilter(courseTitle string, lessonNumber *int) Filter {
	return Filter{CourseTitle: courseTitle, LessonNumber: lessonNumber}
}

// VectorStore is the interface for embedded record storage and
// similarity search. Implementations must apply Filter during search,
// not after, so topK always refers to matching records.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist.
	// Idempotent.
	EnsureCollection(ctx context.Context, collection string) error

	// Upsert inserts records, replacing any existing record with the
	// same ID in the same collection.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Search returns up to topK records closest to the query embedding,
	// restricted to those matching the filter, ordered by ascending
	// distance.
	Search(ctx context.Context, collection string, embedding []float32, topK int, filter Filter) ([]ScoredRecord, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// Clear removes all records from the collection.
	Clear(ctx context.Context, collection string) error

	Close() error
}
