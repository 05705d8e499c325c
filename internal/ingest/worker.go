package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/lectern/lectern/internal/storage"
)

// JobTypeIngestFile is the job type the worker claims. The payload is
// {"path": "<document path>"}.
const JobTypeIngestFile = "ingest_file"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// DocumentLoader ingests one course document. *Loader satisfies it.
type DocumentLoader interface {
	AddCourseDocument(ctx context.Context, path string) (storage.Course, int, error)
}

// Worker processes ingest_file jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	loader DocumentLoader
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, loader DocumentLoader, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		loader: loader,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled. Idle polls are jittered so
// several workers sharing one queue do not claim in lockstep.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		delay := w.poll
		if jitter := w.poll / 2; jitter > 0 {
			delay += rand.N(jitter)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// RunOnce claims and processes a single ingest_file job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeIngestFile})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type filePayload struct {
	Path string `json:"path"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload filePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.Path == "" {
		return fmt.Errorf("payload has no path")
	}

	course, chunks, err := w.loader.AddCourseDocument(ctx, payload.Path)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", payload.Path, err)
	}

	w.logger.Info("document ingested", "path", payload.Path, "course", course.Title, "chunks", chunks)
	return nil
}

// NewFileJob builds an ingest_file job for the given document path.
func NewFileJob(path string) storage.Job {
	payload, _ := json.Marshal(filePayload{Path: path})
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeIngestFile,
		PayloadJSON: string(payload),
	}
}
