package storage

import (
	"context"
	"testing"
	"time"

	"traffic-insights/internal/models"
)

func TestMemoryStoreSnapshotUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := time.Now().UTC().Add(-time.Minute)
	snap := models.MetricsSnapshot{
		UserID: "u1", Team: "alpha", Period: models.Period7d,
		Impressions: 100, Clicks: 10, Spend: 5,
		Campaigns: []models.CampaignMetrics{{CampaignID: "c1", Spend: 5}},
		UpdatedAt: first,
	}
	if err := store.UpsertSnapshot(ctx, &snap); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	later := time.Now().UTC()
	snap.UpdatedAt = later
	if err := store.UpsertSnapshot(ctx, &snap); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "u1", models.Period7d)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("snapshot missing after upsert")
	}
	if got.Impressions != 100 || got.Clicks != 10 || got.Spend != 5 {
		t.Fatalf("data changed across idempotent upserts: %+v", got)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("updatedAt = %v, want advanced to %v", got.UpdatedAt, later)
	}
	if len(got.Campaigns) != 1 || got.Campaigns[0].CampaignID != "c1" {
		t.Fatalf("campaigns not round-tripped: %+v", got.Campaigns)
	}
}

func TestMemoryStoreGetMissingSnapshotIsNil(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.GetSnapshot(context.Background(), "nobody", models.Period30d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestMemoryStoreMappingInsertionOrder(t *testing.T) {
	store := NewMemoryStore()
	store.AddMapping(models.TeamUtmMapping{UTMSource: "fb1", Team: "first", FunnelType: "x", IsActive: true})
	store.AddMapping(models.TeamUtmMapping{UTMSource: "fb1", Team: "second", FunnelType: "x", IsActive: true})
	store.AddMapping(models.TeamUtmMapping{UTMSource: "fb2", Team: "third", FunnelType: "x", IsActive: false})

	mappings, err := store.ListActiveMappings(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("got %d active mappings, want 2", len(mappings))
	}
	if mappings[0].ID >= mappings[1].ID {
		t.Fatalf("insertion order not preserved: %+v", mappings)
	}
	if mappings[0].Team != "first" {
		t.Fatalf("first mapping = %q, want first", mappings[0].Team)
	}
}

func TestMemoryStoreSaleEventsAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	at := time.Now().UTC()

	events := []models.SaleEvent{{ID: "s1", Team: "alpha", Amount: 100, OccurredAt: at}}
	if err := store.InsertSaleEvents(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Re-syncing the same window must not duplicate or mutate rows.
	events[0].Amount = 999
	if err := store.InsertSaleEvents(ctx, events); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	rng := models.Period7d.Range(at)
	got, err := store.ListSaleEvents(ctx, "alpha", rng)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Amount != 100 {
		t.Fatalf("amount = %v, want original 100", got[0].Amount)
	}
}

func TestMemoryStoreLeadEventsRangeFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	store.AddLeadEvent(models.LeadEvent{ID: "in", ClientID: "c1", FunnelStage: models.StageExpressVisit, CreatedAt: now})
	store.AddLeadEvent(models.LeadEvent{ID: "out", ClientID: "c2", FunnelStage: models.StageExpressVisit, CreatedAt: now.AddDate(0, 0, -60)})

	events, err := store.ListLeadEvents(ctx, models.Period30d.Range(now))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].ID != "in" {
		t.Fatalf("got %+v, want only the in-range event", events)
	}
}
