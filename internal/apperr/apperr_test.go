package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := Newf(KindUpstreamUnavailable, "connectors.get", "all retries failed")
	if !Is(err, KindUpstreamUnavailable) {
		t.Error("kind should match its own error")
	}
	if Is(err, KindPersistence) {
		t.Error("kind must not match a different error")
	}
	if Is(errors.New("plain"), KindUpstreamUnavailable) {
		t.Error("plain errors carry no kind")
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(KindConfigMissing, "facebook.validate_token", errors.New("no token"))
	wrapped := fmt.Errorf("starting pass: %w", inner)

	if !Is(wrapped, KindConfigMissing) {
		t.Error("kind should be found through wrapping")
	}
	if KindOf(wrapped) != KindConfigMissing {
		t.Errorf("KindOf = %v, want config missing", KindOf(wrapped))
	}
}

func TestErrorMessageIncludesOp(t *testing.T) {
	err := New(KindPersistence, "storage.upsert_snapshot", errors.New("disk full"))
	if got := err.Error(); got == "" || got == "disk full" {
		t.Errorf("message %q should carry the operation", got)
	}
	if !errors.Is(err, err.(*Error).Err) {
		t.Error("Unwrap should expose the cause")
	}
}
