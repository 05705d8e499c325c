package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Course is one catalog entry. The title doubles as the primary key and
// ingestion treats a saved course as immutable apart from full re-ingests.
type Course struct {
	Title      string
	Link       string
	Instructor string
	CreatedAt  time.Time
	Lessons    []Lesson
}

// Lesson belongs to exactly one course. Numbers are unique within a
// course but need not be contiguous.
type Lesson struct {
	Number int
	Title  string
	Link   string
}

// CourseChunk is one embeddable piece of course text. LessonNumber is
// nil for course-level content that precedes any lesson; ChunkIndex is
// the chunk's position within the whole course document.
type CourseChunk struct {
	Content      string
	CourseTitle  string
	LessonNumber *int
	ChunkIndex   int
}

// Session groups the exchanges of one conversation.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// Exchange is one completed user/assistant turn within a session.
type Exchange struct {
	SessionID string
	UserQuery string
	Answer    string
	CreatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
