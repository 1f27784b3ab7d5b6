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

type observationRequest struct {
	ID       string        `json:"id,omitempty"`
	Title    string        `json:"title"`
	OwnerID  string        `json:"ownerId,omitempty"`
	Location *domain.Point `json:"location,omitempty"`
	Boundary domain.Ring   `json:"boundary,omitempty"`
	Tags     []string      `json:"tags,omitempty"`
}

func (req observationRequest) input() app.ObservationInput {
	return app.ObservationInput{
		Title:    req.Title,
		OwnerID:  req.OwnerID,
		Location: req.Location,
		Boundary: req.Boundary,
		TagNames: req.Tags,
	}
}

// /api/observations
func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListObservations(w, r)
	case http.MethodPost:
		s.authenticated(s.handleCreateObservation).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListObservations(w http.ResponseWriter, r *http.Request) {
	filter, err := observationFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.app.ListObservations(r.Context(), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateObservation(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
		s.audit(r, "api.observation.create", "rate_limited")
		return
	}
	var req observationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	obs, err := s.app.CreateObservation(r.Context(), user, req.input())
	if err != nil {
		s.audit(r, "api.observation.create", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.observation.create", "success", "user_id", user.ID, "observation_id", obs.ID)
	writeJSON(w, http.StatusCreated, obs)
}

// /api/observations/{id}
func (s *Server) handleObservationByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/observations/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		obs, err := s.app.GetObservation(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, obs)
	case http.MethodPut:
		if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
			return
		}
		var req observationRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ID != "" && req.ID != id {
			writeError(w, http.StatusBadRequest, "path and body ids do not match")
			return
		}
		obs, err := s.app.UpdateObservation(r.Context(), s.caller(r), id, req.input())
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, obs)
	case http.MethodDelete:
		if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
			return
		}
		if err := s.app.DeleteObservation(r.Context(), s.caller(r), id); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "api.observation.delete", "success", "observation_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func observationFilterFromQuery(r *http.Request) (store.ObservationFilter, error) {
	q := r.URL.Query()
	filter := store.ObservationFilter{
		PageRequest: parsePage(r),
		Title:       strings.TrimSpace(q.Get("title")),
		OwnerID:     strings.TrimSpace(q.Get("ownerId")),
	}
	if raw := strings.TrimSpace(q.Get("tags")); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				filter.TagNames = append(filter.TagNames, name)
			}
		}
	}
	if raw := strings.TrimSpace(q.Get("bbox")); raw != "" {
		vals, err := parseFloats(raw, 4)
		if err != nil {
			return filter, errBadBBox
		}
		filter.BBox = &domain.BoundingBox{
			MinLat: vals[0], MinLng: vals[1],
			MaxLat: vals[2], MaxLng: vals[3],
		}
	}
	if raw := strings.TrimSpace(q.Get("near")); raw != "" {
		vals, err := parseFloats(raw, 3)
		if err != nil || vals[2] <= 0 {
			return filter, errBadNear
		}
		filter.Near = &domain.Proximity{
			Center:       domain.Point{Lat: vals[0], Lng: vals[1]},
			RadiusMeters: vals[2],
		}
	}
	return filter, nil
}

var (
	errBadBBox = jsonParamError("bbox must be minLat,minLng,maxLat,maxLng")
	errBadNear = jsonParamError("near must be lat,lng,radiusMeters with a positive radius")
)

type jsonParamError string

func (e jsonParamError) Error() string { return string(e) }

func parseFloats(raw string, want int) ([]float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != want {
		return nil, jsonParamError("wrong number of values")
	}
	out := make([]float64, want)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, jsonParamError("invalid number")
		}
		out[i] = v
	}
	return out, nil
}
