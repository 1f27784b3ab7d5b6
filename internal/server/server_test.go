package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"fieldscope/internal/app"
	"fieldscope/pkg/auth"
	"fieldscope/pkg/domain"
	"fieldscope/pkg/storage"
	"fieldscope/pkg/store"
)

type testServer struct {
	srv   *Server
	store *store.MemoryStore
	app   *app.App
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	sessions, err := auth.NewSessionManager("test-secret", time.Hour, "")
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	mem := store.NewMemoryStore()
	appCore, err := app.New(app.Config{Store: mem, Blobs: blobs, Sessions: sessions})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	redis := miniredis.RunT(t)
	srv, err := New(Config{
		App:                     appCore,
		RedisAddr:               redis.Addr(),
		LoginRateLimitPerMinute: 1000,
		WriteRateLimitPerMinute: 1000,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return testServer{srv: srv, store: mem, app: appCore}
}

func (ts testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts testServer) registerUser(t *testing.T, username string, role domain.UserRole) (domain.User, string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "long enough password",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d: %s", username, rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if role != domain.RoleUser {
		user, ok, err := ts.store.GetUserByID(resp.User.ID)
		if err != nil || !ok {
			t.Fatalf("load user: ok=%v err=%v", ok, err)
		}
		user.Role = role
		if err := ts.store.SaveUser(user); err != nil {
			t.Fatalf("save role: %v", err)
		}
		resp.User = user
	}
	return resp.User, resp.Token
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRegisterConflictAndLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.registerUser(t, "alice", domain.RoleUser)

	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "fresh@example.com",
		"password": "long enough password",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want 409", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"login":    "alice",
		"password": "long enough password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"login":    "alice",
		"password": "wrong password!",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", rec.Code)
	}
}

func TestLoginBannedUserGets403(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.registerUser(t, "alice", domain.RoleUser)
	user.PermanentlyBanned = true
	if err := ts.store.SaveUser(user); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"login":    "alice",
		"password": "long enough password",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "permanently banned") {
		t.Fatalf("body = %s, want ban message", rec.Body.String())
	}
}

func TestObservationAuthorizationMatrix(t *testing.T) {
	ts := newTestServer(t)
	_, ownerToken := ts.registerUser(t, "alice", domain.RoleUser)
	_, strangerToken := ts.registerUser(t, "bob", domain.RoleUser)
	_, modToken := ts.registerUser(t, "mia", domain.RoleModerator)

	create := map[string]any{
		"title":    "Heron nest",
		"location": map[string]float64{"lat": 1, "lng": 2},
	}
	if rec := ts.do(t, http.MethodPost, "/api/observations", "", create); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create status = %d, want 401", rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/api/observations", ownerToken, create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var obs domain.Observation
	if err := json.Unmarshal(rec.Body.Bytes(), &obs); err != nil {
		t.Fatalf("decode observation: %v", err)
	}

	// anonymous read is allowed
	if rec := ts.do(t, http.MethodGet, "/api/observations/"+obs.ID, "", nil); rec.Code != http.StatusOK {
		t.Fatalf("anonymous get status = %d, want 200", rec.Code)
	}

	update := map[string]any{
		"title":    "Heron nest (revised)",
		"location": map[string]float64{"lat": 1, "lng": 2},
	}
	if rec := ts.do(t, http.MethodPut, "/api/observations/"+obs.ID, "", update); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous update status = %d, want 401", rec.Code)
	}
	if rec := ts.do(t, http.MethodPut, "/api/observations/"+obs.ID, strangerToken, update); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger update status = %d, want 403", rec.Code)
	}
	if rec := ts.do(t, http.MethodPut, "/api/observations/"+obs.ID, ownerToken, update); rec.Code != http.StatusOK {
		t.Fatalf("owner update status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodDelete, "/api/observations/"+obs.ID, modToken, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("moderator delete status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestObservationPathBodyIDMismatch(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerUser(t, "alice", domain.RoleUser)
	rec := ts.do(t, http.MethodPost, "/api/observations", token, map[string]any{
		"title":    "One",
		"location": map[string]float64{"lat": 1, "lng": 2},
	})
	var obs domain.Observation
	if err := json.Unmarshal(rec.Body.Bytes(), &obs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec = ts.do(t, http.MethodPut, "/api/observations/"+obs.ID, token, map[string]any{
		"id":       "different-id",
		"title":    "Two",
		"location": map[string]float64{"lat": 1, "lng": 2},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestObservationValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerUser(t, "alice", domain.RoleUser)

	rec := ts.do(t, http.MethodPost, "/api/observations", token, map[string]any{"title": "No place"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing location status = %d, want 400", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/api/observations", token, map[string]any{
		"title":   "Spoof",
		"ownerId": "someone-else",
		"location": map[string]float64{
			"lat": 1, "lng": 2,
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("owner mismatch status = %d, want 400", rec.Code)
	}
}

func TestObservationListEnvelopeAndFilters(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerUser(t, "alice", domain.RoleUser)
	for i := 0; i < 25; i++ {
		rec := ts.do(t, http.MethodPost, "/api/observations", token, map[string]any{
			"title":    fmt.Sprintf("Sighting %02d", i),
			"location": map[string]float64{"lat": float64(i), "lng": 0},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed %d: status %d", i, rec.Code)
		}
	}

	rec := ts.do(t, http.MethodGet, "/api/observations?pageIndex=2&pageSize=10", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var page struct {
		Items      []domain.Observation `json:"items"`
		PageIndex  int                  `json:"pageIndex"`
		PageSize   int                  `json:"pageSize"`
		TotalItems int64                `json:"totalItems"`
		TotalPages int                  `json:"totalPages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.TotalItems != 25 || page.TotalPages != 3 {
		t.Fatalf("totals = %d/%d, want 25/3", page.TotalItems, page.TotalPages)
	}
	if len(page.Items) != 10 || page.PageIndex != 2 || page.PageSize != 10 {
		t.Fatalf("envelope = %d items, index %d, size %d", len(page.Items), page.PageIndex, page.PageSize)
	}

	// degenerate page size echoes inputs with an empty page
	rec = ts.do(t, http.MethodGet, "/api/observations?pageIndex=1&pageSize=0", "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode degenerate page: %v", err)
	}
	if len(page.Items) != 0 || page.PageSize != 0 || page.TotalPages != 0 {
		t.Fatalf("degenerate envelope = %+v", page)
	}

	// bbox filter
	rec = ts.do(t, http.MethodGet, "/api/observations?bbox=-0.5,-0.5,4.5,0.5&pageSize=50", "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode bbox page: %v", err)
	}
	if page.TotalItems != 5 {
		t.Fatalf("bbox totalItems = %d, want 5", page.TotalItems)
	}
	if rec := ts.do(t, http.MethodGet, "/api/observations?bbox=bad", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad bbox status = %d, want 400", rec.Code)
	}
}

func TestUsersEndpointRequiresModerator(t *testing.T) {
	ts := newTestServer(t)
	_, userToken := ts.registerUser(t, "alice", domain.RoleUser)
	_, modToken := ts.registerUser(t, "mia", domain.RoleModerator)

	if rec := ts.do(t, http.MethodGet, "/api/users", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/users", userToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("user status = %d, want 403", rec.Code)
	}
	rec := ts.do(t, http.MethodGet, "/api/users", modToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("moderator status = %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "passwordHash") {
		t.Fatal("password hash leaked in user listing")
	}
}

func TestRoleAndBanEndpoints(t *testing.T) {
	ts := newTestServer(t)
	target, _ := ts.registerUser(t, "alice", domain.RoleUser)
	_, modToken := ts.registerUser(t, "mia", domain.RoleModerator)
	_, adminToken := ts.registerUser(t, "root", domain.RoleAdmin)

	// role changes are admin-only
	if rec := ts.do(t, http.MethodPut, "/api/users/"+target.ID+"/role", modToken, map[string]string{"role": "moderator"}); rec.Code != http.StatusForbidden {
		t.Fatalf("moderator role change status = %d, want 403", rec.Code)
	}
	if rec := ts.do(t, http.MethodPut, "/api/users/"+target.ID+"/role", adminToken, map[string]string{"role": "superuser"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid role status = %d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodPut, "/api/users/"+target.ID+"/role", adminToken, map[string]string{"role": "moderator"}); rec.Code != http.StatusOK {
		t.Fatalf("role change status = %d: %s", rec.Code, rec.Body.String())
	}

	// bans are moderator+
	rec := ts.do(t, http.MethodPut, "/api/users/"+target.ID+"/ban", modToken, map[string]any{"permanent": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("ban status = %d: %s", rec.Code, rec.Body.String())
	}
	var banned domain.User
	if err := json.Unmarshal(rec.Body.Bytes(), &banned); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !banned.PermanentlyBanned {
		t.Fatal("ban not applied")
	}
}

func TestPictureUploadAndContentsRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerUser(t, "alice", domain.RoleUser)
	rec := ts.do(t, http.MethodPost, "/api/confirmations", token, map[string]any{"confirmed": true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create confirmation: %d: %s", rec.Code, rec.Body.String())
	}
	var conf domain.Confirmation
	if err := json.Unmarshal(rec.Body.Bytes(), &conf); err != nil {
		t.Fatalf("decode confirmation: %v", err)
	}

	payload := []byte("these are image bytes")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("confirmationId", conf.ID); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("files", "nest.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("write file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/pictures", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	upRec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(upRec, req)
	if upRec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", upRec.Code, upRec.Body.String())
	}
	var upResp struct {
		Items []domain.Picture `json:"items"`
	}
	if err := json.Unmarshal(upRec.Body.Bytes(), &upResp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if len(upResp.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(upResp.Items))
	}
	pic := upResp.Items[0]

	detailsRec := ts.do(t, http.MethodGet, "/api/pictures/"+pic.ID+"/details", "", nil)
	if detailsRec.Code != http.StatusOK {
		t.Fatalf("details status = %d", detailsRec.Code)
	}
	if strings.Contains(detailsRec.Body.String(), "storageKey") {
		t.Fatal("storage key leaked in details")
	}

	contentsRec := ts.do(t, http.MethodGet, "/api/pictures/"+pic.ID+"/contents", "", nil)
	if contentsRec.Code != http.StatusOK {
		t.Fatalf("contents status = %d", contentsRec.Code)
	}
	if got := contentsRec.Header().Get("Content-Type"); !strings.HasPrefix(got, "image/jpeg") {
		t.Fatalf("content type = %q, want image/jpeg", got)
	}
	if !bytes.Equal(contentsRec.Body.Bytes(), payload) {
		t.Fatal("contents do not match the uploaded bytes")
	}

	if rec := ts.do(t, http.MethodDelete, "/api/pictures/"+pic.ID, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodGet, "/api/pictures/"+pic.ID+"/details", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("details after delete = %d, want 404", rec.Code)
	}
}

func TestPictureUploadRequiresConfirmation(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerUser(t, "alice", domain.RoleUser)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("confirmationId", "missing")
	fw, _ := mw.CreateFormFile("files", "nest.jpg")
	_, _ = fw.Write([]byte("x"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/pictures", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTagEndpointsRoleGating(t *testing.T) {
	ts := newTestServer(t)
	_, userToken := ts.registerUser(t, "alice", domain.RoleUser)
	_, modToken := ts.registerUser(t, "mia", domain.RoleModerator)

	if rec := ts.do(t, http.MethodGet, "/api/tags", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list status = %d, want 401", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/tags", userToken, map[string]string{"name": "birds"}); rec.Code != http.StatusForbidden {
		t.Fatalf("user create status = %d, want 403", rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/api/tags", modToken, map[string]string{"name": "birds"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("moderator create status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodPost, "/api/tags", modToken, map[string]string{"name": "birds"}); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate tag status = %d, want 409", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/tags?name=bird", userToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("user list status = %d", rec.Code)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	sessions, err := auth.NewSessionManager("test-secret", time.Hour, "")
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	appCore, err := app.New(app.Config{Store: store.NewMemoryStore(), Blobs: blobs, Sessions: sessions})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	redis := miniredis.RunT(t)
	srv, err := New(Config{
		App:                     appCore,
		RedisAddr:               redis.Addr(),
		LoginRateLimitPerMinute: 2,
		WriteRateLimitPerMinute: 2,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := testServer{srv: srv}

	body := map[string]string{"login": "ghost", "password": "whatever pass"}
	for i := 0; i < 2; i++ {
		if rec := ts.do(t, http.MethodPost, "/api/auth/login", "", body); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i, rec.Code)
		}
	}
	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}
