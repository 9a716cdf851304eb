// Package scheduler drives the periodic aggregation pass: fetch ad spend
// and CRM sales, attribute them to teams, fold into snapshots and upsert
// the cache. Exactly one pass runs at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"traffic-insights/internal/aggregator"
	"traffic-insights/internal/attribution"
	"traffic-insights/internal/models"
	"traffic-insights/internal/storage"
)

// AdsSource is the ad-platform connector surface the scheduler needs.
type AdsSource interface {
	ValidateToken(ctx context.Context) (models.TokenStatus, *time.Time, error)
	FetchCampaigns(ctx context.Context, campaignIDs []string, rng models.DateRange) ([]models.CampaignMetrics, error)
}

// SalesSource fetches CRM sale events for a window.
type SalesSource interface {
	FetchSales(ctx context.Context, rng models.DateRange) ([]models.SaleEvent, error)
}

// Config tunes the pass cadence and fan-out.
type Config struct {
	Interval        time.Duration
	StartDelay      time.Duration
	StuckAfter      time.Duration
	Concurrency     int
	ExchangeRateKZT float64
}

// Scheduler owns SyncStatus. State machine: Idle -> Running -> Idle on
// success, Idle -> Running -> Failed -> Idle on error; the failure message
// is retained until the next successful pass.
type Scheduler struct {
	store    storage.Store
	ads      AdsSource
	sales    SalesSource
	resolver *attribution.Resolver
	cfg      Config
	logger   *logrus.Logger
	metrics  *Metrics

	mu        sync.Mutex
	status    models.SyncStatus
	startedAt time.Time
}

func New(store storage.Store, ads AdsSource, sales SalesSource, resolver *attribution.Resolver, cfg Config, metrics *Metrics, logger *logrus.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 8 * time.Minute
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		store:    store,
		ads:      ads,
		sales:    sales,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		status:   models.SyncStatus{TokenStatus: models.TokenUnknown},
	}
}

// Run executes passes on a fixed cadence until the context is canceled.
// The first pass starts after a short delay so the HTTP server is already
// listening.
func (s *Scheduler) Run(ctx context.Context) {
	if s.cfg.StartDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.StartDelay):
		}
	}
	s.runCycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// TriggerSync starts a pass in the background. When one is already running
// it is a no-op that returns the current status; the caller never waits.
func (s *Scheduler) TriggerSync(ctx context.Context) models.SyncStatus {
	if s.begin() {
		go s.runPass(context.WithoutCancel(ctx))
	}
	return s.Status()
}

// Status returns a copy of the current sync status.
func (s *Scheduler) Status() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if !s.begin() {
		s.logger.Info("Aggregation already in progress, skipping cycle")
		return
	}
	s.runPass(ctx)
}

// begin transitions Idle -> Running. A run older than StuckAfter is
// presumed dead (its goroutine leaked or hung on I/O) and its flag is
// reset so the cadence can recover without a restart.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.IsRunning && !s.startedAt.IsZero() && time.Since(s.startedAt) > s.cfg.StuckAfter {
		s.logger.WithField("elapsed", time.Since(s.startedAt)).Warn("Previous sync appears stuck, resetting")
		s.status.IsRunning = false
		s.status.LastError = "previous sync was stuck and reset"
	}
	if s.status.IsRunning {
		return false
	}
	s.status.IsRunning = true
	s.startedAt = time.Now()
	return true
}

func (s *Scheduler) runPass(ctx context.Context) {
	started := time.Now()
	s.logger.Info("Starting metrics aggregation")

	stats, err := s.aggregate(ctx)

	duration := time.Since(started)
	stats.DurationMs = duration.Milliseconds()
	s.metrics.observeCycle(duration, err != nil)

	s.mu.Lock()
	s.status.IsRunning = false
	s.startedAt = time.Time{}
	s.status.Stats = stats
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		now := time.Now().UTC()
		next := now.Add(s.cfg.Interval)
		s.status.LastSync = &now
		s.status.NextSync = &next
		s.status.LastError = ""
	}
	s.mu.Unlock()

	entry := &models.SyncHistoryEntry{
		StartedAt:      started.UTC(),
		CompletedAt:    time.Now().UTC(),
		Success:        err == nil,
		UsersProcessed: stats.UsersProcessed,
		MetricsUpdated: stats.MetricsUpdated,
		DurationMs:     stats.DurationMs,
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	if histErr := s.store.AppendSyncHistory(ctx, entry); histErr != nil {
		s.logger.WithError(histErr).Warn("Failed to log sync history")
	}

	if err != nil {
		s.logger.WithError(err).Error("Aggregation failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"users":       stats.UsersProcessed,
		"campaigns":   stats.CampaignsProcessed,
		"metrics":     stats.MetricsUpdated,
		"duration_ms": stats.DurationMs,
	}).Info("Aggregation completed")
}

func (s *Scheduler) aggregate(ctx context.Context) (models.SyncStats, error) {
	var stats models.SyncStats
	now := time.Now().UTC()

	tokenStatus, expiresAt, err := s.ads.ValidateToken(ctx)
	s.mu.Lock()
	s.status.TokenStatus = tokenStatus
	s.status.TokenExpiresAt = expiresAt
	s.mu.Unlock()
	if err != nil {
		return stats, err
	}

	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return stats, err
	}

	// CRM fetch failure is not fatal: already-synced sales still feed the
	// snapshots and the upstream is retried next cycle.
	if err := s.syncSales(ctx, now); err != nil {
		s.logger.WithError(err).Warn("CRM sales sync failed, using stored sales")
	}

	var (
		wg      sync.WaitGroup
		statsMu sync.Mutex
		sem     = make(chan struct{}, s.cfg.Concurrency)
	)
	for _, team := range teams {
		team := team
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			updated, campaigns := s.aggregateTeam(ctx, team, now)
			statsMu.Lock()
			stats.UsersProcessed++
			stats.MetricsUpdated += updated
			stats.CampaignsProcessed += campaigns
			statsMu.Unlock()
		}()
	}
	wg.Wait()

	return stats, nil
}

// syncSales pulls the widest window from the CRM, attributes each sale to
// a team and appends the new events.
func (s *Scheduler) syncSales(ctx context.Context, now time.Time) error {
	rng := models.Period30d.Range(now)
	sales, err := s.sales.FetchSales(ctx, rng)
	if err != nil {
		return err
	}

	attributed := make([]models.SaleEvent, 0, len(sales))
	unattributed := 0
	for _, ev := range sales {
		attr, err := s.resolver.Resolve(ctx, ev.UTMSource, ev.UTMMedium, ev.FunnelType)
		if err != nil {
			return err
		}
		if attr == nil {
			unattributed++
			continue
		}
		ev.Team = attr.Team
		ev.FunnelType = attr.FunnelType
		attributed = append(attributed, ev)
	}

	s.metrics.addUnattributed(unattributed)
	if unattributed > 0 {
		s.logger.WithField("count", unattributed).Warn("Sales without UTM attribution excluded from team totals")
	}
	return s.store.InsertSaleEvents(ctx, attributed)
}

// aggregateTeam builds and upserts one snapshot per period. Failures are
// contained here so one team cannot block another's update; the stale
// snapshot keeps serving until the next successful cycle.
func (s *Scheduler) aggregateTeam(ctx context.Context, team models.Team, now time.Time) (updated, campaignsProcessed int) {
	for _, period := range models.AllPeriods {
		rng := period.Range(now)

		campaigns, err := s.ads.FetchCampaigns(ctx, team.CampaignIDs, rng)
		if err != nil {
			s.metrics.incTeamFailure()
			s.logger.WithError(err).WithFields(logrus.Fields{
				"team":   team.Name,
				"period": period,
			}).Warn("Ad spend fetch failed, keeping stale snapshot")
			continue
		}
		campaignsProcessed += len(campaigns)

		sales, err := s.store.ListSaleEvents(ctx, team.Name, rng)
		if err != nil {
			s.metrics.incTeamFailure()
			s.logger.WithError(err).WithField("team", team.Name).Warn("Sales lookup failed, keeping stale snapshot")
			continue
		}

		snapshot := aggregator.BuildSnapshot(team.UserID, team.Name, period, campaigns, sales, s.cfg.ExchangeRateKZT, now)
		if err := s.store.UpsertSnapshot(ctx, &snapshot); err != nil {
			s.metrics.incTeamFailure()
			s.logger.WithError(err).WithField("team", team.Name).Error("Snapshot upsert failed, retrying next cycle")
			continue
		}
		updated++

		if period == models.PeriodToday {
			s.recordDailySpend(ctx, team, campaigns, now)
		}
	}
	return updated, campaignsProcessed
}

// recordDailySpend overwrites the open day's per-campaign spend rows.
func (s *Scheduler) recordDailySpend(ctx context.Context, team models.Team, campaigns []models.CampaignMetrics, now time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	records := make([]models.AdSpendRecord, 0, len(campaigns))
	for _, c := range campaigns {
		records = append(records, models.AdSpendRecord{
			Team:        team.Name,
			Date:        day,
			CampaignID:  c.CampaignID,
			Impressions: c.Impressions,
			Clicks:      c.Clicks,
			Spend:       c.Spend,
			Currency:    "USD",
		})
	}
	if err := s.store.UpsertAdSpend(ctx, records); err != nil {
		s.logger.WithError(err).WithField("team", team.Name).Warn("Daily spend upsert failed")
	}
}
