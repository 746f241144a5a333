package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"guacplayer/internal/auth"
	"guacplayer/internal/observability/logging"
	"guacplayer/internal/observability/metrics"
	"guacplayer/internal/recordings"
	"guacplayer/internal/testsupport"
)

type testEnv struct {
	handler *Handler
	repo    *testsupport.RepositoryStub
	store   *recordings.Store
	tokens  *auth.TokenManager
	metrics *metrics.Recorder
	now     time.Time
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:    testsupport.NewRepositoryStub(),
		metrics: metrics.New(),
		now:     time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	var err error
	env.tokens, err = auth.NewTokenManager("test-secret", auth.WithClock(func() time.Time { return env.now }))
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	env.store, err = recordings.NewStore(t.TempDir(), recordings.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	opts = append([]Option{WithLogger(logging.Discard()), WithMetrics(env.metrics)}, opts...)
	env.handler, err = NewHandler(env.repo, env.tokens, env.store, opts...)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return env
}

// withParams attaches chi route parameters to r.
func withParams(r *http.Request, pairs ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(pairs); i += 2 {
		rctx.URLParams.Add(pairs[i], pairs[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withIdentity(r *http.Request, id int64, username string) *http.Request {
	return r.WithContext(ContextWithIdentity(r.Context(), auth.Identity{UserID: id, Username: username}))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, rec, &body)
	return body["error"]
}

func scrape(t *testing.T, recorder *metrics.Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestNewHandlerRequiresDependencies(t *testing.T) {
	env := newTestEnv(t)
	if _, err := NewHandler(nil, env.tokens, env.store); err == nil {
		t.Fatal("expected error without repository")
	}
	if _, err := NewHandler(env.repo, nil, env.store); err == nil {
		t.Fatal("expected error without token manager")
	}
	if _, err := NewHandler(env.repo, env.tokens, nil); err == nil {
		t.Fatal("expected error without recordings store")
	}
	if env.handler.Catalog == nil {
		t.Fatal("expected connections service to be built from the repository")
	}
}

func TestOptionsAreApplied(t *testing.T) {
	env := newTestEnv(t, WithVersion("2.3.4"), WithDefaultPerPage(50), WithDefaultPerPage(1000))
	if env.handler.Version != "2.3.4" {
		t.Fatalf("expected version override, got %q", env.handler.Version)
	}
	if env.handler.DefaultPerPage != 50 {
		t.Fatalf("expected default per page 50, got %d", env.handler.DefaultPerPage)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "healthy" || body["service"] != "GuacPlayer Backend" || body["version"] != "1.0.0" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestReady(t *testing.T) {
	var throttleErr error
	env := newTestEnv(t, WithHealthCheck("login_throttle", func(context.Context) error { return throttleErr }))

	rec := httptest.NewRecorder()
	env.handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status     string            `json:"status"`
		Components []componentStatus `json:"components"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "ok" || len(body.Components) != 3 {
		t.Fatalf("unexpected readiness body %+v", body)
	}

	env.repo.FailOn("Ping", errors.New("dial tcp 10.0.0.1:5432: connection refused"))
	throttleErr = errors.New("redis down")
	rec = httptest.NewRecorder()
	env.handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when degraded, got %d", rec.Code)
	}
	decodeBody(t, rec, &body)
	if body.Status != "degraded" {
		t.Fatalf("expected degraded status, got %q", body.Status)
	}
	for _, component := range body.Components {
		if strings.Contains(component.Error, "10.0.0.1") {
			t.Fatalf("readiness leaked internal detail: %+v", component)
		}
	}
	if body.Components[0].Status != "degraded" || body.Components[1].Status != "ok" || body.Components[2].Status != "degraded" {
		t.Fatalf("unexpected component states %+v", body.Components)
	}
}

func TestWriteRequestError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteRequestError(rec, NotFoundError("recording not found"))
	if rec.Code != http.StatusNotFound || errorMessage(t, rec) != "recording not found" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	WriteRequestError(rec, errors.New("pq: password authentication failed"))
	if rec.Code != http.StatusInternalServerError || errorMessage(t, rec) != "internal server error" {
		t.Fatalf("expected generic 500, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	WriteRequestError(rec, RequestError{Message: "no status"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected zero status to become 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
}

func TestDecodeJSON(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		wantErr     bool
	}{
		{name: "valid", contentType: "application/json", body: `{"username":"a"}`},
		{name: "charset", contentType: "application/json; charset=utf-8", body: `{"username":"a"}`},
		{name: "form", contentType: "application/x-www-form-urlencoded", body: `username=a`, wantErr: true},
		{name: "missing type", contentType: "", body: `{"username":"a"}`, wantErr: true},
		{name: "empty", contentType: "application/json", body: ``, wantErr: true},
		{name: "garbage", contentType: "application/json", body: `{"username":`, wantErr: true},
		{name: "too large", contentType: "application/json", body: `{"username":"` + strings.Repeat("a", maxJSONBodyBytes) + `"}`, wantErr: true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tc.body))
		if tc.contentType != "" {
			req.Header.Set("Content-Type", tc.contentType)
		}
		var dest loginRequest
		err := decodeJSON(httptest.NewRecorder(), req, &dest)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: decodeJSON error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}
