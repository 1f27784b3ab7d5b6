package server

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"fieldscope/internal/app"
	"fieldscope/pkg/domain"
)

// /api/pictures
func (s *Server) handlePictures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.authenticated(func(w http.ResponseWriter, r *http.Request, _ domain.User) {
		s.handleUploadPictures(w, r)
	}).ServeHTTP(w, r)
}

func (s *Server) handleUploadPictures(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
		return
	}
	maxBytes := s.app.MaxUploadBytes()
	// generous envelope around the per-file limit for multipart overhead
	r.Body = http.MaxBytesReader(w, r.Body, 8*maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	confirmationID := strings.TrimSpace(r.FormValue("confirmationId"))
	if confirmationID == "" {
		writeError(w, http.StatusBadRequest, "confirmationId is required")
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required (field: files)")
		return
	}
	uploads := make([]app.Upload, 0, len(r.MultipartForm.File["files"]))
	for _, header := range r.MultipartForm.File["files"] {
		file, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		file.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		uploads = append(uploads, app.Upload{Filename: header.Filename, Data: data})
	}
	pictures, err := s.app.AttachPictures(r.Context(), s.caller(r), confirmationID, uploads)
	if err != nil {
		s.audit(r, "api.picture.upload", "fail", "confirmation_id", confirmationID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.picture.upload", "success",
		"confirmation_id", confirmationID, "count", strconv.Itoa(len(pictures)))
	writeJSON(w, http.StatusCreated, map[string]any{"items": pictures})
}

// /api/pictures/{id}/details, /api/pictures/{id}/contents, /api/pictures/{id}
func (s *Server) handlePictureByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/pictures/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "details":
			s.handlePictureDetails(w, r, id)
		case "contents":
			s.handlePictureContents(w, r, id)
		default:
			http.NotFound(w, r)
		}
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
		return
	}
	if err := s.app.DeletePicture(r.Context(), s.caller(r), id); err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.picture.delete", "success", "picture_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePictureDetails(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	pic, err := s.app.PictureDetails(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pic)
}

func (s *Server) handlePictureContents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	pic, rc, err := s.app.OpenPicture(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentTypeForFilename(pic.OriginalFilename))
	if pic.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(pic.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func contentTypeForFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
