package attribution

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"traffic-insights/internal/models"
)

type stubSource struct {
	mappings []models.TeamUtmMapping
	err      error
	calls    int
}

func (s *stubSource) ListActiveMappings(context.Context) ([]models.TeamUtmMapping, error) {
	s.calls++
	return s.mappings, s.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestResolveExactMatch(t *testing.T) {
	source := &stubSource{mappings: []models.TeamUtmMapping{
		{ID: 1, UTMSource: "fb_alpha", Team: "alpha", FunnelType: "challenge3d", IsActive: true},
	}}
	resolver := NewResolver(source, "unattributed", quietLogger())

	attr, err := resolver.Resolve(context.Background(), "fb_alpha", "cpc", "challenge3d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attr == nil || attr.Team != "alpha" {
		t.Fatalf("got %+v, want team alpha", attr)
	}
}

func TestResolveDuplicateMappingsFirstInsertedWins(t *testing.T) {
	source := &stubSource{mappings: []models.TeamUtmMapping{
		{ID: 3, UTMSource: "fb1", Team: "first", FunnelType: "challenge3d", IsActive: true},
		{ID: 7, UTMSource: "fb1", Team: "second", FunnelType: "challenge3d", IsActive: true},
	}}
	resolver := NewResolver(source, "", quietLogger())

	// Repeated calls must be deterministic, never random.
	for i := 0; i < 10; i++ {
		attr, err := resolver.Resolve(context.Background(), "fb1", "cpc", "challenge3d")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attr == nil || attr.Team != "first" {
			t.Fatalf("call %d: got %+v, want first-inserted team", i, attr)
		}
	}
}

func TestResolveFallsBackToDefaultTeam(t *testing.T) {
	resolver := NewResolver(&stubSource{}, "unattributed", quietLogger())

	attr, err := resolver.Resolve(context.Background(), "unknown", "cpc", "express")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attr == nil || attr.Team != "unattributed" {
		t.Fatalf("got %+v, want default team", attr)
	}
}

func TestResolveNilWithoutDefault(t *testing.T) {
	resolver := NewResolver(&stubSource{}, "", quietLogger())

	attr, err := resolver.Resolve(context.Background(), "unknown", "cpc", "express")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attr != nil {
		t.Fatalf("got %+v, want nil", attr)
	}
}

func TestResolverCachesMappings(t *testing.T) {
	source := &stubSource{mappings: []models.TeamUtmMapping{
		{ID: 1, UTMSource: "fb_alpha", Team: "alpha", FunnelType: "express", IsActive: true},
	}}
	resolver := NewResolver(source, "", quietLogger())

	for i := 0; i < 5; i++ {
		if _, err := resolver.Resolve(context.Background(), "fb_alpha", "cpc", "express"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if source.calls != 1 {
		t.Fatalf("source queried %d times, want 1 (cached)", source.calls)
	}

	resolver.Invalidate()
	if _, err := resolver.Resolve(context.Background(), "fb_alpha", "cpc", "express"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("source queried %d times after invalidate, want 2", source.calls)
	}
}

func TestResolverServesStaleCacheOnReloadFailure(t *testing.T) {
	source := &stubSource{mappings: []models.TeamUtmMapping{
		{ID: 1, UTMSource: "fb_alpha", Team: "alpha", FunnelType: "express", IsActive: true},
	}}
	resolver := NewResolver(source, "", quietLogger())

	if _, err := resolver.Resolve(context.Background(), "fb_alpha", "cpc", "express"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	source.err = errors.New("db down")
	resolver.expires = resolver.expires.Add(-2 * mappingCacheTTL)

	attr, err := resolver.Resolve(context.Background(), "fb_alpha", "cpc", "express")
	if err != nil {
		t.Fatalf("expected stale cache, got error: %v", err)
	}
	if attr == nil || attr.Team != "alpha" {
		t.Fatalf("got %+v, want stale cached mapping", attr)
	}
}
