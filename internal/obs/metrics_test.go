package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/users/42":               "/users/:id",
		"/users/42/roles/7":       "/users/:id/roles/:id",
		"/users/me":               "/users/me",
		"/roles/3/authorities?x=": "/roles/:id/authorities",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestAuthAttemptCounts(t *testing.T) {
	before := testutil.ToFloat64(authAttempts.WithLabelValues("LOCAL", "success"))
	AuthAttempt("LOCAL", "success")
	after := testutil.ToFloat64(authAttempts.WithLabelValues("LOCAL", "success"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("production", "nonsense")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !logger.Core().Enabled(0) {
		t.Fatal("info level should be enabled")
	}
	if logger.Core().Enabled(-1) {
		t.Fatal("debug level should be disabled")
	}
}
