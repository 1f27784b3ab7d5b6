package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldscope/internal/app"
	"fieldscope/internal/authz"
	"fieldscope/internal/ratelimit"
	"fieldscope/internal/util"
	"fieldscope/pkg/auth"
	"fieldscope/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                     *app.App
	RedisAddr               string
	RedisPassword           string
	LoginRateLimitPerMinute int
	WriteRateLimitPerMinute int
}

// Server exposes the REST endpoints for the observation API.
type Server struct {
	app          *app.App
	mux          *http.ServeMux
	loginLimiter *ratelimit.FixedWindowLimiter
	writeLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	writeLimit := cfg.WriteRateLimitPerMinute
	if writeLimit <= 0 {
		writeLimit = 60
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "fieldscope:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	writeLimiter, err := newLimiter("write", writeLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:          cfg.App,
		mux:          http.NewServeMux(),
		loginLimiter: loginLimiter,
		writeLimiter: writeLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth & users
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/me/password", s.authenticated(s.handleChangePassword))
	s.mux.Handle("/api/users", s.roleAtLeast(domain.RoleModerator, s.handleUsers))
	s.mux.HandleFunc("/api/users/", s.handleUserByID)

	// observations & confirmations
	s.mux.HandleFunc("/api/observations", s.handleObservations)
	s.mux.HandleFunc("/api/observations/", s.handleObservationByID)
	s.mux.HandleFunc("/api/confirmations", s.handleConfirmations)
	s.mux.HandleFunc("/api/confirmations/", s.handleConfirmationByID)

	// pictures
	s.mux.HandleFunc("/api/pictures", s.handlePictures)
	s.mux.HandleFunc("/api/pictures/", s.handlePictureByID)

	// tags
	s.mux.Handle("/api/tags", s.authenticated(s.handleTags))
	s.mux.Handle("/api/tags/", s.authenticated(s.handleTagByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "api.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) roleAtLeast(role domain.UserRole, next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if domain.RoleRank(user.Role) < domain.RoleRank(role) {
			s.audit(r, "api.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	user, ok := s.app.UserFromToken(r.Context(), token)
	if !ok {
		s.audit(r, "api.token.verify", "fail", "reason", "invalid_or_revoked")
		return domain.User{}, false
	}
	return user, true
}

// caller resolves the request's identity for the ownership policy. Missing
// or invalid credentials yield the anonymous caller; the policy turns that
// into a 401 where it matters.
func (s *Server) caller(r *http.Request) authz.Caller {
	if user, ok := s.authorize(r); ok {
		return authz.CallerFromUser(user)
	}
	return authz.Caller{}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// parsePage reads the shared pagination query parameters. Absent values get
// defaults; degenerate values are passed through so list responses can echo
// them per the envelope contract.
func parsePage(r *http.Request) domain.PageRequest {
	page := domain.PageRequest{PageIndex: 1, PageSize: 20}
	if raw := r.URL.Query().Get("pageIndex"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			page.PageIndex = n
		}
	}
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			page.PageSize = n
		}
	}
	if page.PageSize > 200 {
		page.PageSize = 200
	}
	return page
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError translates domain error sentinels into HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	var banErr *app.TemporaryBanError
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrPermanentlyBanned):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &banErr):
		writeError(w, http.StatusForbidden, banErr.Error())
	case errors.Is(err, app.ErrUsernameAlreadyExists),
		errors.Is(err, app.ErrEmailAlreadyExists),
		errors.Is(err, app.ErrTagAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
	case app.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logger := util.LoggerFromContext(r.Context())
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
