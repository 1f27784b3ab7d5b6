package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"fieldscope/pkg/domain"
	"fieldscope/pkg/store"
)

type tagRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// /api/tags (wrapped in authenticated by routes)
func (s *Server) handleTags(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		filter := store.TagFilter{
			PageRequest: parsePage(r),
			Name:        strings.TrimSpace(r.URL.Query().Get("name")),
		}
		page, err := s.app.ListTags(r.Context(), filter)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPost:
		if !s.requireModerator(w, r, user) {
			return
		}
		if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
			return
		}
		var req tagRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		tag, err := s.app.CreateTag(r.Context(), req.Name)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tag)
	default:
		methodNotAllowed(w)
	}
}

// /api/tags/{id} (wrapped in authenticated by routes)
func (s *Server) handleTagByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/tags/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		tag, err := s.app.GetTag(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tag)
	case http.MethodPut:
		if !s.requireModerator(w, r, user) {
			return
		}
		if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
			return
		}
		var req tagRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ID != "" && req.ID != id {
			writeError(w, http.StatusBadRequest, "path and body ids do not match")
			return
		}
		tag, err := s.app.RenameTag(r.Context(), id, req.Name)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tag)
	case http.MethodDelete:
		if !s.requireModerator(w, r, user) {
			return
		}
		if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
			return
		}
		if err := s.app.DeleteTag(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) requireModerator(w http.ResponseWriter, r *http.Request, user domain.User) bool {
	if domain.RoleRank(user.Role) < domain.RoleRank(domain.RoleModerator) {
		s.audit(r, "api.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}
