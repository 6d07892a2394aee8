package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Unauthorized("custom message", nil))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("expected errors.Is to match by kind")
	}
	if errors.Is(err, ErrBadRequest) {
		t.Fatal("different kinds must not match")
	}
	if msg, ok := PublicMessage(err); !ok || msg != "custom message" {
		t.Fatalf("unexpected public message %q", msg)
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Fatal("plain errors carry no kind")
	}
}

func TestUpstreamFailureClassifiesTimeouts(t *testing.T) {
	if k := KindOf(UpstreamFailure("x", context.DeadlineExceeded)); k != KindUpstreamTimeout {
		t.Fatalf("expected timeout kind, got %v", k)
	}
	if k := KindOf(UpstreamFailure("x", errors.New("connection refused"))); k != KindUpstreamUnavailable {
		t.Fatalf("expected unavailable kind, got %v", k)
	}
}
