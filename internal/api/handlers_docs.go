package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/redliner/internal/export"
	"github.com/dgallion1/redliner/internal/extract"
	"github.com/dgallion1/redliner/internal/parser"
	"github.com/dgallion1/redliner/internal/redline"
	"github.com/dgallion1/redliner/internal/session"
)

// handleCreateDocument registers content together with externally produced
// suggestions.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if !s.decode(w, r, &req) {
		return
	}
	var meta redline.Metadata
	if req.FileName != "" {
		meta.FileName = sanitizeFilename(req.FileName)
		meta.FileType = parser.FileType(meta.FileName)
	}
	doc := redline.NewDocument(req.ID, req.Content, meta, suggestions(req.Suggestions))

	sess, err := s.sessions.Create(r.Context(), doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Render())
}

// handleListDocuments lists stored documents, newest first.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		jsonError(w, "document storage unavailable", http.StatusServiceUnavailable)
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	docs, err := s.repo.List(r.Context(), offset, limit)
	if err != nil {
		s.writeError(w, fmt.Errorf("list documents: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Document())
}

// handleDeleteDocument closes the session and removes the stored document.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if err := s.sessions.Delete(r.Context(), docID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": docID})
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Render())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatText)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	doc := sess.Document()

	var buf bytes.Buffer
	if err := s.exporter.Export(&buf, doc, format); err != nil {
		s.writeError(w, fmt.Errorf("export %s: %w", format, err))
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(doc, format)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, &buf)
}

// handleReload re-extracts the document from an optional uploaded file and
// replaces its suggestions. Without a file the stored content is reused.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var src *extract.Source
	if fhs := r.MultipartForm.File["file"]; len(fhs) > 0 {
		filename := sanitizeFilename(fhs[0].Filename)
		if !parser.IsSupportedExtension(filename) {
			jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
			return
		}
		data, err := s.readUpload(fhs[0])
		if err != nil {
			jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		src = &extract.Source{FileName: filename, Data: data}
	}

	var in reloadSuggestions
	if raw := r.FormValue("suggestions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Suggestions); err != nil {
			jsonError(w, "invalid suggestions: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.validate.Struct(in); err != nil {
			jsonError(w, validationMessage(err), http.StatusBadRequest)
			return
		}
	}

	select {
	case res := <-sess.Reload(r.Context(), s.extractor, src, suggestions(in.Suggestions)):
		writeJSON(w, http.StatusOK, map[string]any{
			"tier":       res.Tier,
			"superseded": res.Superseded,
			"view":       sess.Render(),
		})
	case <-r.Context().Done():
	}
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, func(sess *session.Session) (session.View, error) {
		return sess.Accept(r.Context(), chi.URLParam(r, "suggestionID"))
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, func(sess *session.Session) (session.View, error) {
		return sess.Reject(r.Context(), chi.URLParam(r, "suggestionID"))
	})
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.review(w, r, func(sess *session.Session) (session.View, error) {
		return sess.Modify(r.Context(), chi.URLParam(r, "suggestionID"), req.SuggestedText)
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.review(w, r, func(sess *session.Session) (session.View, error) {
		return sess.Select(r.Context(), req.ID)
	})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !s.decode(w, r, &req) {
		return
	}
	dir := redline.Next
	if req.Direction == "prev" {
		dir = redline.Prev
	}
	s.review(w, r, func(sess *session.Session) (session.View, error) {
		return sess.Navigate(r.Context(), dir)
	})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if !s.decode(w, r, &req) {
		return
	}
	f := redline.Filter{Type: redline.SuggestionType(req.Type), Severity: redline.Severity(req.Severity)}
	s.review(w, r, func(sess *session.Session) (session.View, error) {
		return sess.SetFilter(r.Context(), f)
	})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, view, err := sess.Edit(r.Context(), req.StartPos, req.EndPos, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edit": res, "view": view})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	n, view, err := sess.ApplyAccepted(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": n, "view": view})
}

// review runs a session operation that answers with the new view.
func (s *Server) review(w http.ResponseWriter, r *http.Request, op func(*session.Session) (session.View, error)) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := op(sess)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return sess, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
