package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/onixbyte/helix/internal/audit"
	"github.com/onixbyte/helix/internal/ids"
)

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestIDFromContext(r.Context())
	}))

	incoming := ids.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, incoming)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != incoming || rr.Header().Get(requestIDHeader) != incoming {
		t.Fatalf("expected %s to be kept, got ctx=%s header=%s", incoming, seen, rr.Header().Get(requestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "not a ulid\n")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen == "" || seen == "not a ulid\n" {
		t.Fatalf("expected a fresh request id, got %q", seen)
	}
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := RequestID(AccessLog(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/me", nil))

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("unexpected status field: %v", fields["status"])
	}
	if fields["path"] != "/users/me" || fields["request_id"] == "" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestSecurityHeadersAndCORS(t *testing.T) {
	h := SecurityHeaders(CORS([]string{"https://app.example/"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodOptions, "/auth/msal", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("origin not allowed")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected origin allowed")
	}
}

func TestRateLimiterSweepsIdleBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("10.0.0.1") {
		t.Fatalf("first request denied")
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("burst exceeded but allowed")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatalf("buckets must be per key")
	}

	now = now.Add(2 * time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatalf("bucket did not refill")
	}

	now = now.Add(10 * time.Minute)
	l.sweep()
	if got := l.size(); got != 0 {
		t.Fatalf("expected idle buckets swept, %d left", got)
	}
}

func TestClientIPIgnoresForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if got := clientIP(req); got != "192.0.2.10" {
		t.Fatalf("expected connection address, got %s", got)
	}
}
