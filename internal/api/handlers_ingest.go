package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/redliner/internal/parser"
	"github.com/dgallion1/redliner/internal/pipeline"
)

// uploadError is an upload rejected before it reaches the pipeline.
type uploadError struct {
	code int
	msg  string
}

func (e *uploadError) Error() string { return e.msg }

// handleIngest queues one uploaded file for review. The optional doc_id names
// the document the job registers.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.parseUploadForm(w, r, s.cfg.MaxUploadBytes+1<<20) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		jsonError(w, "file is required", http.StatusBadRequest)
		return
	}
	docID := r.FormValue("doc_id")
	if err := s.validate.Var(docID, "omitempty,max=128,printascii,excludesall=/?#"); err != nil {
		jsonError(w, "invalid doc_id", http.StatusBadRequest)
		return
	}

	job, err := s.submitUpload(files[0], r.FormValue("title"), docID)
	if err != nil {
		code := http.StatusServiceUnavailable
		var ue *uploadError
		if errors.As(err, &ue) {
			code = ue.code
		}
		jsonError(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted(job))
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// handleBatchIngest queues every file in the "files" field. Each file gets
// its own job and result entry; one bad file does not fail the batch.
func (s *Server) handleBatchIngest(w http.ResponseWriter, r *http.Request) {
	if !s.parseUploadForm(w, r, s.cfg.MaxUploadBytes*10+10<<20) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(files))
	for _, fh := range files {
		job, err := s.submitUpload(fh, "", "")
		if err != nil {
			results = append(results, map[string]any{
				"filename": sanitizeFilename(fh.Filename),
				"error":    err.Error(),
			})
			continue
		}
		results = append(results, jobAccepted(job))
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": results})
}

func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request, limit int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// submitUpload reads fh and queues it as a new job.
func (s *Server) submitUpload(fh *multipart.FileHeader, title, docID string) (*pipeline.Job, error) {
	filename := sanitizeFilename(fh.Filename)
	if !parser.IsSupportedExtension(filename) {
		return nil, &uploadError{http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename))}
	}
	data, err := s.readUpload(fh)
	if err != nil {
		return nil, err
	}
	job := pipeline.NewJob(filename, title, docID, data)
	if err := s.orchestrator.Submit(job); err != nil {
		return nil, err
	}
	s.log.Info("upload queued", "job_id", job.ID, "doc_id", job.DocID, "filename", filename, "bytes", len(data))
	return job, nil
}

func (s *Server) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, &uploadError{http.StatusBadRequest, "failed to open file"}
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, &uploadError{http.StatusBadRequest, "failed to read file"}
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)}
	}
	return data, nil
}

func jobAccepted(job *pipeline.Job) map[string]any {
	snap := job.Snapshot()
	return map[string]any{
		"job_id":   snap.ID,
		"doc_id":   snap.DocID,
		"filename": snap.Filename,
		"status":   snap.Status,
		"poll_url": fmt.Sprintf("/api/ingest/%s/status", snap.ID),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
