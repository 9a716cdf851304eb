// Package storage persists snapshots, UTM mappings and funnel events. Two
// implementations exist: gorm-backed Postgres for production and an
// in-memory store for local development and tests.
package storage

import (
	"context"

	"traffic-insights/internal/models"
)

// Store is the aggregation pipeline's persistence surface. Snapshot writes
// go through one writer (the scheduler); reads never compute.
type Store interface {
	// UpsertSnapshot overwrites the row keyed by (userId, period).
	// Idempotent, last-write-wins.
	UpsertSnapshot(ctx context.Context, snapshot *models.MetricsSnapshot) error
	// GetSnapshot returns the cached snapshot or nil when no aggregation
	// has run for the key yet.
	GetSnapshot(ctx context.Context, userID string, period models.Period) (*models.MetricsSnapshot, error)
	// HasSnapshots reports whether any snapshot exists (readiness).
	HasSnapshots(ctx context.Context) (bool, error)

	ListTeams(ctx context.Context) ([]models.Team, error)
	ListActiveMappings(ctx context.Context) ([]models.TeamUtmMapping, error)

	UpsertAdSpend(ctx context.Context, records []models.AdSpendRecord) error
	ListSaleEvents(ctx context.Context, team string, rng models.DateRange) ([]models.SaleEvent, error)
	InsertSaleEvents(ctx context.Context, events []models.SaleEvent) error
	ListLeadEvents(ctx context.Context, rng models.DateRange) ([]models.LeadEvent, error)

	AppendSyncHistory(ctx context.Context, entry *models.SyncHistoryEntry) error
}
