package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	h := Auth(SplitKeys("retired, secret"), "/api/health")(ok)
	cases := []struct {
		name   string
		path   string
		header string
		value  string
		want   int
	}{
		{"public path", "/api/health", "", "", http.StatusOK},
		{"missing token", "/api/vaults", "", "", http.StatusUnauthorized},
		{"wrong key", "/api/vaults", "X-API-Key", "nope", http.StatusUnauthorized},
		{"api key", "/api/vaults", "X-API-Key", "secret", http.StatusOK},
		{"rotated key", "/api/vaults", "X-API-Key", "retired", http.StatusOK},
		{"bearer", "/api/vaults", "Authorization", "Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func (s *stubLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	denied := &stubLimiter{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	RateLimit(denied, 1, time.Second, logger)(ok).ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("denied status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	// A caller account gets its own budget.
	req = httptest.NewRequest(http.MethodPost, "/api/vaults/0x01/deposit", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("X-Caller", "0x00000000000000000000000000000000000000AB")
	RateLimit(denied, 1, time.Second, logger)(ok).ServeHTTP(httptest.NewRecorder(), req)

	want := []string{"api:ip:203.0.113.7", "api:caller:0x00000000000000000000000000000000000000ab"}
	if len(denied.keys) != 2 || denied.keys[0] != want[0] || denied.keys[1] != want[1] {
		t.Fatalf("keys = %v", denied.keys)
	}

	// Limiter outages fail open.
	broken := &stubLimiter{err: errors.New("redis down")}
	rec = httptest.NewRecorder()
	RateLimit(broken, 1, time.Second, logger)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("broken limiter status = %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com/"})(ok)

	preflight := httptest.NewRequest(http.MethodOptions, "/api/vaults", nil)
	preflight.Header.Set("Origin", "https://app.example.com")
	preflight.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-Caller") {
		t.Fatalf("allowed headers = %q", got)
	}

	foreign := httptest.NewRequest(http.MethodOptions, "/api/vaults", nil)
	foreign.Header.Set("Origin", "https://evil.example.com")
	foreign.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, foreign)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign preflight status = %d", rec.Code)
	}

	simple := httptest.NewRequest(http.MethodGet, "/api/vaults", nil)
	simple.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, simple)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign request: status %d, allow-origin %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestLoggingRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	var seen string
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req-123" || rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("request id: handler %q, header %q", seen, rec.Header().Get(RequestIDHeader))
	}
	line := buf.String()
	if !strings.Contains(line, `"level":"ERROR"`) || !strings.Contains(line, `"status":500`) {
		t.Fatalf("log line = %s", line)
	}
}
