package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lectern/lectern/internal/ingest"
)

// AddDocumentsRequest names a document file or a folder of documents
// on the server's filesystem.
type AddDocumentsRequest struct {
	Path string `json:"path"`
}

// AddDocumentsResponse lists the queued ingest jobs.
type AddDocumentsResponse struct {
	JobIDs []string `json:"job_ids"`
	Status string   `json:"status"`
}

func handleAddDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AddDocumentsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}

		info, err := os.Stat(req.Path)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path not accessible: %v", err)
			return
		}

		var paths []string
		if info.IsDir() {
			entries, err := os.ReadDir(req.Path)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "reading directory: %v", err)
				return
			}
			for _, entry := range entries {
				if entry.IsDir() || !ingest.IsIngestible(entry.Name()) {
					continue
				}
				paths = append(paths, filepath.Join(req.Path, entry.Name()))
			}
		} else {
			if !ingest.IsIngestible(req.Path) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported document type: %s", filepath.Base(req.Path))
				return
			}
			paths = []string{req.Path}
		}

		jobIDs := make([]string, 0, len(paths))
		for _, path := range paths {
			job := ingest.NewFileJob(path)
			if err := deps.Jobs.EnqueueJob(job); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
				return
			}
			jobIDs = append(jobIDs, job.ID)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AddDocumentsResponse{JobIDs: jobIDs, Status: "queued"})
	}
}
