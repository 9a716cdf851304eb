// Package attribution maps UTM parameters on incoming lead and sale records
// to the owning team.
package attribution

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"traffic-insights/internal/models"
)

const mappingCacheTTL = 5 * time.Minute

// MappingSource supplies active UTM mapping rows, ordered by insertion id.
type MappingSource interface {
	ListActiveMappings(ctx context.Context) ([]models.TeamUtmMapping, error)
}

// Attribution is a resolved (team, funnelType) pair.
type Attribution struct {
	Team       string
	FunnelType string
}

// Resolver performs exact-match lookup on (utm_source, funnel_type) among
// active mappings, falling back to a configured default team. Mappings are
// cached for a few minutes between passes.
type Resolver struct {
	source      MappingSource
	defaultTeam string
	logger      *logrus.Logger

	mu      sync.Mutex
	cache   []models.TeamUtmMapping
	expires time.Time
}

func NewResolver(source MappingSource, defaultTeam string, logger *logrus.Logger) *Resolver {
	return &Resolver{source: source, defaultTeam: defaultTeam, logger: logger}
}

// Resolve returns the attribution for the given UTM parameters, or nil when
// no mapping matches and no default team is configured. Duplicate active
// mappings are a data-integrity violation: the lowest-id (first inserted)
// row wins and the condition is logged, never fatal.
func (r *Resolver) Resolve(ctx context.Context, utmSource, utmMedium, funnelType string) (*Attribution, error) {
	mappings, err := r.activeMappings(ctx)
	if err != nil {
		return nil, err
	}

	var match *models.TeamUtmMapping
	for i := range mappings {
		m := &mappings[i]
		if m.UTMSource != utmSource || m.FunnelType != funnelType {
			continue
		}
		if match == nil {
			match = m
			continue
		}
		r.logger.WithFields(logrus.Fields{
			"utm_source":  utmSource,
			"funnel_type": funnelType,
			"winner_id":   match.ID,
			"loser_id":    m.ID,
		}).Warn("Duplicate active UTM mapping, first-inserted row wins")
	}

	if match != nil {
		return &Attribution{Team: match.Team, FunnelType: match.FunnelType}, nil
	}

	if r.defaultTeam != "" {
		return &Attribution{Team: r.defaultTeam, FunnelType: funnelType}, nil
	}
	return nil, nil
}

// Invalidate drops the mapping cache; the next Resolve reloads it.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = nil
	r.expires = time.Time{}
}

func (r *Resolver) activeMappings(ctx context.Context) ([]models.TeamUtmMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache != nil && time.Now().Before(r.expires) {
		return r.cache, nil
	}

	mappings, err := r.source.ListActiveMappings(ctx)
	if err != nil {
		// Serve the stale cache rather than failing the pass.
		if r.cache != nil {
			r.logger.WithError(err).Warn("Mapping reload failed, serving stale cache")
			return r.cache, nil
		}
		return nil, err
	}

	r.cache = mappings
	r.expires = time.Now().Add(mappingCacheTTL)
	return r.cache, nil
}
