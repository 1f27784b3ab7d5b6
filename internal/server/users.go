package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldscope/pkg/domain"
	"fieldscope/pkg/store"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type banRequest struct {
	Permanent   bool       `json:"permanent"`
	BannedUntil *time.Time `json:"bannedUntil,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many registration attempts") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many password change attempts") {
		s.audit(r, "api.password.change", "rate_limited")
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword); err != nil {
		s.audit(r, "api.password.change", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.password.change", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

// /api/users (wrapped in roleAtLeast(moderator) by routes)
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter := store.UserFilter{
		PageRequest: parsePage(r),
		Username:    strings.TrimSpace(r.URL.Query().Get("username")),
	}
	page, err := s.app.ListUsers(r.Context(), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// /api/users/{id}/role and /api/users/{id}/ban
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	switch parts[1] {
	case "role":
		s.roleAtLeast(domain.RoleAdmin, func(w http.ResponseWriter, r *http.Request, caller domain.User) {
			s.handleSetRole(w, r, caller, id)
		}).ServeHTTP(w, r)
	case "ban":
		s.roleAtLeast(domain.RoleModerator, func(w http.ResponseWriter, r *http.Request, caller domain.User) {
			s.handleSetBan(w, r, caller, id)
		}).ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request, caller domain.User, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req roleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.SetUserRole(r.Context(), caller, id, req.Role)
	if err != nil {
		s.audit(r, "api.user.role", "fail", "user_id", caller.ID, "target_id", id, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.user.role", "success", "user_id", caller.ID, "target_id", id, "role", string(user.Role))
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSetBan(w http.ResponseWriter, r *http.Request, caller domain.User, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req banRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.SetUserBan(r.Context(), caller, id, req.Permanent, req.BannedUntil)
	if err != nil {
		s.audit(r, "api.user.ban", "fail", "user_id", caller.ID, "target_id", id, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.user.ban", "success", "user_id", caller.ID, "target_id", id)
	writeJSON(w, http.StatusOK, user)
}
