package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"fieldscope/internal/app"
	"fieldscope/pkg/domain"
	"fieldscope/pkg/store"
)

type confirmationRequest struct {
	ID            string `json:"id,omitempty"`
	ObservationID string `json:"observationId,omitempty"`
	OwnerID       string `json:"ownerId,omitempty"`
	Confirmed     bool   `json:"confirmed"`
	Description   string `json:"description"`
}

func (req confirmationRequest) input() app.ConfirmationInput {
	return app.ConfirmationInput{
		OwnerID:       req.OwnerID,
		ObservationID: req.ObservationID,
		Confirmed:     req.Confirmed,
		Description:   req.Description,
	}
}

// /api/confirmations
func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListConfirmations(w, r)
	case http.MethodPost:
		s.authenticated(s.handleCreateConfirmation).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListConfirmations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ConfirmationFilter{
		PageRequest:   parsePage(r),
		ObservationID: strings.TrimSpace(q.Get("observationId")),
		OwnerID:       strings.TrimSpace(q.Get("ownerId")),
	}
	if raw := strings.TrimSpace(q.Get("confirmed")); raw != "" {
		confirmed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "confirmed must be true or false")
			return
		}
		filter.Confirmed = &confirmed
	}
	page, err := s.app.ListConfirmations(r.Context(), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateConfirmation(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
		return
	}
	var req confirmationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conf, err := s.app.CreateConfirmation(r.Context(), user, req.input())
	if err != nil {
		s.audit(r, "api.confirmation.create", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conf)
}

// /api/confirmations/{id}
func (s *Server) handleConfirmationByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/confirmations/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		conf, err := s.app.GetConfirmation(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conf)
	case http.MethodPut:
		if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
			return
		}
		var req confirmationRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ID != "" && req.ID != id {
			writeError(w, http.StatusBadRequest, "path and body ids do not match")
			return
		}
		conf, err := s.app.UpdateConfirmation(r.Context(), s.caller(r), id, req.input())
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conf)
	case http.MethodDelete:
		if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
			return
		}
		if err := s.app.DeleteConfirmation(r.Context(), s.caller(r), id); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "api.confirmation.delete", "success", "confirmation_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}
