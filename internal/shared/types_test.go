package shared

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestNewID(t *testing.T) {
	a := NewID("sess_")
	b := NewID("sess_")

	if !strings.HasPrefix(a, "sess_") {
		t.Errorf("expected prefix sess_, got %s", a)
	}
	if a == b {
		t.Error("expected unique ids")
	}
}

func TestBackoffConfig_Delay(t *testing.T) {
	cfg := BackoffConfig{Initial: 100 * time.Millisecond, MaxDelay: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := cfg.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("rate limited")
	err := &ProviderError{Provider: "openai", Op: "describe", Kind: ProviderTransient, StatusCode: 429, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("ProviderError should unwrap to its cause")
	}
	if !IsTransient(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsTransient should see through wrapping")
	}
	if IsTransient(NewPermanent("openai", "describe", cause)) {
		t.Error("permanent error reported as transient")
	}
	if IsTransient(cause) {
		t.Error("plain error reported as transient")
	}
	if !strings.Contains(err.Error(), "status 429") {
		t.Errorf("expected status in message, got %s", err.Error())
	}
}

func TestStorageError(t *testing.T) {
	cause := errors.New("permission denied")
	err := &StorageError{Op: "write", Path: "/tmp/x.jpg", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("StorageError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "/tmp/x.jpg") {
		t.Errorf("expected path in message, got %s", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	if got := NewValidationError("image", "is empty").Error(); got != "image: is empty" {
		t.Errorf("unexpected message %q", got)
	}
	if got := NewValidationError("", "bad").Error(); got != "bad" {
		t.Errorf("unexpected message %q", got)
	}
}
