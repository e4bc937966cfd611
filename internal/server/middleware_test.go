package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fabworks/piecemark/internal/auth/apikey"
	"github.com/fabworks/piecemark/internal/auth/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		target string
		want   string
	}{
		{
			"bearer header",
			func(r *http.Request) { r.Header.Set("Authorization", "Bearer key-from-bearer") },
			"/api/v1/search",
			"key-from-bearer",
		},
		{
			"x-api-key header",
			func(r *http.Request) { r.Header.Set("X-API-Key", "key-from-header") },
			"/api/v1/search",
			"key-from-header",
		},
		{
			"query parameter",
			func(r *http.Request) {},
			"/api/v1/search?api_key=key-from-query",
			"key-from-query",
		},
		{
			"bearer wins over header",
			func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer first")
				r.Header.Set("X-API-Key", "second")
			},
			"/api/v1/search",
			"first",
		},
		{
			"no key",
			func(r *http.Request) {},
			"/api/v1/search",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			tt.setup(r)
			if got := extractAPIKey(r); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

// The auth middleware rejects keyless requests before it ever consults the
// validator, so these paths are testable without a database.

func TestAuthMissingKey(t *testing.T) {
	handler := Auth(nil)(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=beam", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json error body, got %q", ct)
	}
}

func TestAuthExemptsHealth(t *testing.T) {
	handler := Auth(nil)(okHandler())

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200 without credentials, got %d", path, w.Code)
		}
	}
}

func TestGetKeyInfo(t *testing.T) {
	if info := GetKeyInfo(context.Background()); info != nil {
		t.Errorf("expected nil KeyInfo on bare context, got %+v", info)
	}

	want := &apikey.KeyInfo{ID: "k1", Name: "test"}
	ctx := context.WithValue(context.Background(), apiKeyInfoKey, want)
	if got := GetKeyInfo(ctx); got != want {
		t.Errorf("expected stored KeyInfo, got %+v", got)
	}
}

func TestRateLimitEnforced(t *testing.T) {
	limiter := ratelimit.New(time.Minute)
	defer limiter.Stop()
	handler := RateLimit(limiter)(okHandler())

	info := &apikey.KeyInfo{ID: "k1", Name: "test", RateLimit: 2}
	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=beam", nil)
		r = r.WithContext(context.WithValue(r.Context(), apiKeyInfoKey, info))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := do(); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit exhausted, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

func TestRateLimitPassesWithoutKey(t *testing.T) {
	limiter := ratelimit.New(time.Minute)
	defer limiter.Stop()
	handler := RateLimit(limiter)(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=beam", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	// No KeyInfo in context: auth is responsible for rejecting, not us.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCORSPreflights(t *testing.T) {
	handler := CORS(DefaultCORSConfig())(okHandler())

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	r.Header.Set("Origin", "https://viewer.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://viewer.example.com" {
		t.Errorf("expected origin echoed, got %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected allowed methods header")
	}
}

func TestCORSIgnoresSameOrigin(t *testing.T) {
	handler := CORS(DefaultCORSConfig())(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=beam", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS headers without an Origin, got %q", got)
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://allowed.example.com"}
	handler := CORS(cfg)(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=beam", nil)
	r.Header.Set("Origin", "https://other.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin for foreign origin, got %q", got)
	}
}
