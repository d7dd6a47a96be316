package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header map[string]string
		want   int
	}{
		{"disabled passes through", "", nil, http.StatusOK},
		{"missing token", "secret", nil, http.StatusUnauthorized},
		{"bearer token", "secret", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"api key header", "secret", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"wrong token", "secret", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			Auth(tt.key)(okHandler()).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()

	CORS([]string{"https://dash.example.com"})(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()

	CORS([]string{"https://dash.example.com"})(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin = %q, want empty", got)
	}
}

type stubLimiter struct {
	allowed bool
	err     error
	key     string
}

func (l *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.key = key
	return l.allowed, l.err
}

func TestRateLimit(t *testing.T) {
	limiter := &stubLimiter{allowed: false}
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()

	RateLimit(limiter, 10, time.Minute)(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if limiter.key != "api:10.1.2.3" {
		t.Errorf("key = %q", limiter.key)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &stubLimiter{allowed: false, err: context.DeadlineExceeded}
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rec := httptest.NewRecorder()

	RateLimit(limiter, 10, time.Minute)(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 on limiter error", rec.Code)
	}
}

func TestRateLimitHonorsForwardedFor(t *testing.T) {
	limiter := &stubLimiter{allowed: true}
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()

	RateLimit(limiter, 10, time.Minute)(okHandler()).ServeHTTP(rec, req)

	if limiter.key != "api:203.0.113.7" {
		t.Errorf("key = %q", limiter.key)
	}
}
