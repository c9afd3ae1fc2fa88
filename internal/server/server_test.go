package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/czhmisaka/Html2Img/internal/model"
	"github.com/czhmisaka/Html2Img/internal/pipeline"
	"github.com/czhmisaka/Html2Img/internal/render"
	"github.com/czhmisaka/Html2Img/internal/sanitize"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

type fakeService struct {
	cacheEnabled bool
	hit          bool
	renderErr    error

	renders      int
	cachedCalls  int
	lastRequest  pipeline.Request
	lastSanitize sanitize.Options
}

func (f *fakeService) Sanitize(markup string, opts sanitize.Options) (string, error) {
	f.lastSanitize = opts
	if markup == "" {
		return "", model.Invalid("html", "must not be empty")
	}
	return "clean:" + markup, nil
}

func (f *fakeService) Render(ctx context.Context, req pipeline.Request) (*render.Result, error) {
	f.renders++
	f.lastRequest = req
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return &render.Result{Data: []byte("raw"), ContentType: "image/jpeg"}, nil
}

func (f *fakeService) RenderCached(ctx context.Context, req pipeline.Request) (*pipeline.CachedResult, error) {
	f.cachedCalls++
	f.lastRequest = req
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return &pipeline.CachedResult{
		Key:    testKey,
		Hit:    f.hit,
		Result: &render.Result{Data: []byte("cached"), ContentType: "image/png"},
	}, nil
}

func (f *fakeService) Lookup(key string) (*render.Result, error) {
	if key != testKey {
		return nil, model.ErrNotFound
	}
	return &render.Result{Data: []byte("stored"), ContentType: "image/png"}, nil
}

func (f *fakeService) CacheEnabled() bool {
	return f.cacheEnabled
}

func newTestServer(svc Service) *Server {
	cfg := model.DefaultConfig().Server
	cfg.RequestsPerSecond = 0
	return New(svc, cfg, zerolog.Nop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSanitize(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestServer(svc), http.MethodPost, "/api/sanitize",
		`{"html":"<p>x</p>","options":{"removeEventHandlers":true,"removeTags":["img"]}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"clean:<p>x</p>"}`, rec.Body.String())
	assert.True(t, svc.lastSanitize.RemoveEventHandlers)
	assert.Equal(t, []string{"img"}, svc.lastSanitize.RemoveTags)
}

func TestSanitize_EmptyHTML(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}), http.MethodPost, "/api/sanitize", `{"html":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "html")
}

func TestScreenshot_CacheMissAndHit(t *testing.T) {
	for _, tt := range []struct {
		hit  bool
		want string
	}{{false, "MISS"}, {true, "HIT"}} {
		svc := &fakeService{cacheEnabled: true, hit: tt.hit}
		rec := do(t, newTestServer(svc), http.MethodPost, "/api/screenshot",
			`{"html":"<p>x</p>","options":{"width":800,"type":"png"}}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, tt.want, rec.Header().Get(headerCache))
		assert.Equal(t, testKey, rec.Header().Get(headerCacheKey))
		assert.Equal(t, "cached", rec.Body.String())
		assert.Equal(t, 800, svc.lastRequest.Options.Width)
	}
}

func TestScreenshot_CacheOptOut(t *testing.T) {
	svc := &fakeService{cacheEnabled: true}
	rec := do(t, newTestServer(svc), http.MethodPost, "/api/screenshot",
		`{"html":"<p>x</p>","cache":false,"sanitize":{"removeEventHandlers":true}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.renders)
	assert.Zero(t, svc.cachedCalls)
	assert.Empty(t, rec.Header().Get(headerCache))
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	require.NotNil(t, svc.lastRequest.Sanitize)
	assert.True(t, svc.lastRequest.Sanitize.RemoveEventHandlers)
}

func TestScreenshot_CacheDisabled(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestServer(svc), http.MethodPost, "/api/screenshot", `{"html":"<p>x</p>"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.renders)
	assert.Zero(t, svc.cachedCalls)
}

func TestScreenshot_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", model.Invalid("width", "must not be negative"), http.StatusBadRequest, "width"},
		{"render failure", &render.Failure{Stage: render.StageLoad, Err: errors.New("crash")}, http.StatusInternalServerError, "screenshot failed"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(&fakeService{cacheEnabled: true, renderErr: tt.err}),
				http.MethodPost, "/api/screenshot", `{"html":"<p>x</p>"}`)
			assert.Equal(t, tt.status, rec.Code)
			msg := decodeError(t, rec)
			assert.Contains(t, msg, tt.message)
			assert.NotContains(t, msg, "crash")
			assert.NotContains(t, msg, "fire")
		})
	}
}

func TestScreenshot_MalformedJSON(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}), http.MethodPost, "/api/screenshot", `{"html":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpoint(t *testing.T) {
	svc := &fakeService{cacheEnabled: true, hit: true}
	rec := do(t, newTestServer(svc), http.MethodPost, "/api/cache", `{"html":"<p>x</p>"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body cacheResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, cacheResponse{ID: testKey, URL: "/cache/" + testKey + ".png", Cached: true}, body)
}

func TestCacheEndpoint_Disabled(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}), http.MethodPost, "/api/cache", `{"html":"<p>x</p>"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCachedImage(t *testing.T) {
	s := newTestServer(&fakeService{cacheEnabled: true})

	for _, path := range []string{"/cache/" + testKey, "/cache/" + testKey + ".png"} {
		rec := do(t, s, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "stored", rec.Body.String())
	}

	rec := do(t, s, http.MethodGet, "/cache/ffffffffffffffffffffffffffffffff.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "image not found", decodeError(t, rec))
}

func TestRateLimit(t *testing.T) {
	cfg := model.DefaultConfig().Server
	cfg.RequestsPerSecond = 1
	cfg.Burst = 1
	s := New(&fakeService{}, cfg, zerolog.Nop())

	first := do(t, s, http.MethodPost, "/api/sanitize", `{"html":"<p>x</p>"}`)
	assert.Equal(t, http.StatusOK, first.Code)

	second := do(t, s, http.MethodPost, "/api/sanitize", `{"html":"<p>x</p>"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	// health is not rate limited
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "").Code)
}

func rateLimited(t *testing.T, s *Server, remoteAddr, forwardedFor string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sanitize", strings.NewReader(`{"html":"<p>x</p>"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimit_IgnoresForwardedForByDefault(t *testing.T) {
	cfg := model.DefaultConfig().Server
	cfg.RequestsPerSecond = 1
	cfg.Burst = 1
	s := New(&fakeService{}, cfg, zerolog.Nop())

	assert.Equal(t, http.StatusOK, rateLimited(t, s, "192.0.2.10:4000", "203.0.113.1"))
	for i := 2; i <= 5; i++ {
		spoofed := fmt.Sprintf("203.0.113.%d", i)
		assert.Equal(t, http.StatusTooManyRequests, rateLimited(t, s, "192.0.2.10:4000", spoofed))
	}

	// Another socket peer has its own budget.
	assert.Equal(t, http.StatusOK, rateLimited(t, s, "192.0.2.11:4000", "203.0.113.1"))
}

func TestRateLimit_TrustProxyKeysOnForwardedFor(t *testing.T) {
	cfg := model.DefaultConfig().Server
	cfg.RequestsPerSecond = 1
	cfg.Burst = 1
	cfg.TrustProxy = true
	s := New(&fakeService{}, cfg, zerolog.Nop())

	assert.Equal(t, http.StatusOK, rateLimited(t, s, "127.0.0.1:4000", "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, rateLimited(t, s, "127.0.0.1:4000", "203.0.113.1"))
	assert.Equal(t, http.StatusOK, rateLimited(t, s, "127.0.0.1:4000", "203.0.113.2"))
}

func TestBodyLimit(t *testing.T) {
	cfg := model.DefaultConfig().Server
	cfg.RequestsPerSecond = 0
	cfg.BodyLimit = "1K"
	s := New(&fakeService{}, cfg, zerolog.Nop())

	body := `{"html":"` + strings.Repeat("a", 4096) + `"}`
	rec := do(t, s, http.MethodPost, "/api/sanitize", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	cfg := model.DefaultConfig().Server
	cfg.Addr = "127.0.0.1:0"
	s := New(&fakeService{}, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	assert.NoError(t, <-done)
}
