package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"traffic-insights/internal/attribution"
	"traffic-insights/internal/models"
	"traffic-insights/internal/storage"
)

type stubAds struct {
	mu         sync.Mutex
	fetchCalls int
	tokenErr   error
	campaigns  []models.CampaignMetrics
	block      chan struct{} // when set, FetchCampaigns waits until closed
}

func (a *stubAds) ValidateToken(context.Context) (models.TokenStatus, *time.Time, error) {
	if a.tokenErr != nil {
		return models.TokenInvalid, nil, a.tokenErr
	}
	return models.TokenValid, nil, nil
}

func (a *stubAds) FetchCampaigns(context.Context, []string, models.DateRange) ([]models.CampaignMetrics, error) {
	a.mu.Lock()
	a.fetchCalls++
	block := a.block
	a.mu.Unlock()
	if block != nil {
		<-block
	}
	return a.campaigns, nil
}

func (a *stubAds) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetchCalls
}

type stubSales struct {
	sales []models.SaleEvent
	err   error
}

func (s *stubSales) FetchSales(context.Context, models.DateRange) ([]models.SaleEvent, error) {
	return s.sales, s.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestScheduler(store *storage.MemoryStore, ads AdsSource, sales SalesSource) *Scheduler {
	resolver := attribution.NewResolver(store, "", quietLogger())
	cfg := Config{
		Interval:        10 * time.Minute,
		StuckAfter:      8 * time.Minute,
		Concurrency:     2,
		ExchangeRateKZT: 475,
	}
	return New(store, ads, sales, resolver, cfg, nil, quietLogger())
}

func waitIdle(t *testing.T, s *Scheduler) models.SyncStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status := s.Status()
		if !status.IsRunning {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("scheduler did not finish in time")
	return models.SyncStatus{}
}

func TestTriggerSyncCompletesPass(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddTeam(models.Team{ID: "t1", UserID: "u1", Name: "alpha", CampaignIDs: models.StringList{"c1"}, IsActive: true})
	store.AddMapping(models.TeamUtmMapping{UTMSource: "fb_alpha", Team: "alpha", FunnelType: "challenge3d", IsActive: true})

	ads := &stubAds{campaigns: []models.CampaignMetrics{
		{CampaignID: "c1", Spend: 100, Clicks: 50, Impressions: 10000},
	}}
	sales := &stubSales{sales: []models.SaleEvent{
		{ID: "s1", UTMSource: "fb_alpha", FunnelType: "challenge3d", Amount: 250, OccurredAt: time.Now().UTC()},
	}}
	sched := newTestScheduler(store, ads, sales)

	sched.TriggerSync(context.Background())
	status := waitIdle(t, sched)
	if status.LastError != "" {
		t.Fatalf("lastError = %q, want empty", status.LastError)
	}
	if status.LastSync == nil || status.NextSync == nil {
		t.Fatalf("lastSync/nextSync not set: %+v", status)
	}
	if status.TokenStatus != models.TokenValid {
		t.Fatalf("tokenStatus = %s, want valid", status.TokenStatus)
	}
	if status.Stats.UsersProcessed != 1 || status.Stats.MetricsUpdated != 3 {
		t.Fatalf("stats = %+v, want 1 user and 3 snapshots", status.Stats)
	}

	for _, period := range models.AllPeriods {
		snap, err := store.GetSnapshot(context.Background(), "u1", period)
		if err != nil || snap == nil {
			t.Fatalf("snapshot for %s missing: %v", period, err)
		}
		if snap.Spend != 100 {
			t.Fatalf("%s spend = %v, want 100", period, snap.Spend)
		}
		if snap.Revenue != 250 || snap.Sales != 1 {
			t.Fatalf("%s sale not attributed into snapshot: %+v", period, snap)
		}
	}

	history := store.SyncHistory()
	if len(history) != 1 || !history[0].Success {
		t.Fatalf("history = %+v, want one successful entry", history)
	}
}

func TestTriggerSyncWhileRunningIsNoOp(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddTeam(models.Team{ID: "t1", UserID: "u1", Name: "alpha", IsActive: true})

	block := make(chan struct{})
	ads := &stubAds{block: block}
	sched := newTestScheduler(store, ads, &stubSales{})

	sched.TriggerSync(context.Background())
	// Give the first pass time to reach the blocking fetch.
	deadline := time.Now().Add(2 * time.Second)
	for ads.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	status := sched.TriggerSync(context.Background())
	if !status.IsRunning {
		t.Fatal("second trigger should see the running pass")
	}

	close(block)
	waitIdle(t, sched)

	// One team, three periods: a second concurrent pass would double this.
	if got := ads.calls(); got != 3 {
		t.Fatalf("fetch calls = %d, want 3 (single pass)", got)
	}
}

func TestTokenValidationFailureFailsPass(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddTeam(models.Team{ID: "t1", UserID: "u1", Name: "alpha", IsActive: true})

	ads := &stubAds{tokenErr: errors.New("token expired")}
	sched := newTestScheduler(store, ads, &stubSales{})

	sched.TriggerSync(context.Background())
	status := waitIdle(t, sched)

	if status.LastError == "" {
		t.Fatal("expected lastError after token failure")
	}
	if status.TokenStatus != models.TokenInvalid {
		t.Fatalf("tokenStatus = %s, want invalid", status.TokenStatus)
	}
	if status.LastSync != nil {
		t.Fatal("failed pass must not advance lastSync")
	}

	snap, _ := store.GetSnapshot(context.Background(), "u1", models.Period7d)
	if snap != nil {
		t.Fatalf("no snapshots expected after failed pass, got %+v", snap)
	}

	history := store.SyncHistory()
	if len(history) != 1 || history[0].Success {
		t.Fatalf("history = %+v, want one failed entry", history)
	}
}

func TestCrmFailureKeepsPassAlive(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddTeam(models.Team{ID: "t1", UserID: "u1", Name: "alpha", CampaignIDs: models.StringList{"c1"}, IsActive: true})

	ads := &stubAds{campaigns: []models.CampaignMetrics{{CampaignID: "c1", Spend: 10}}}
	sales := &stubSales{err: errors.New("crm down")}
	sched := newTestScheduler(store, ads, sales)

	sched.TriggerSync(context.Background())
	status := waitIdle(t, sched)

	if status.LastError != "" {
		t.Fatalf("CRM outage should not fail the pass, got %q", status.LastError)
	}
	snap, err := store.GetSnapshot(context.Background(), "u1", models.Period7d)
	if err != nil || snap == nil {
		t.Fatalf("snapshot missing despite CRM outage: %v", err)
	}
}

func TestStuckRunIsReset(t *testing.T) {
	sched := newTestScheduler(storage.NewMemoryStore(), &stubAds{}, &stubSales{})

	sched.mu.Lock()
	sched.status.IsRunning = true
	sched.startedAt = time.Now().Add(-10 * time.Minute)
	sched.mu.Unlock()

	if !sched.begin() {
		t.Fatal("stale run should be reset so a new pass can start")
	}
	status := sched.Status()
	if !status.IsRunning {
		t.Fatal("begin should mark the new pass running")
	}
	if status.LastError == "" {
		t.Fatal("reset should record the stuck-run error")
	}
}

func TestFreshRunIsNotReset(t *testing.T) {
	sched := newTestScheduler(storage.NewMemoryStore(), &stubAds{}, &stubSales{})

	sched.mu.Lock()
	sched.status.IsRunning = true
	sched.startedAt = time.Now().Add(-time.Minute)
	sched.mu.Unlock()

	if sched.begin() {
		t.Fatal("a recent run must not be displaced")
	}
}
