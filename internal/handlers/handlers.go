// Package handlers exposes the read API over gin. Read endpoints serve the
// cached snapshots and never trigger a live fetch; a failing backend means
// stale data with a staleness flag, not an error page.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"traffic-insights/internal/aggregator"
	"traffic-insights/internal/config"
	"traffic-insights/internal/export"
	"traffic-insights/internal/models"
	"traffic-insights/internal/scheduler"
	"traffic-insights/internal/storage"
)

type Handler struct {
	cfg      *config.Config
	store    storage.Store
	sched    *scheduler.Scheduler
	exporter *export.Exporter
	logger   *logrus.Logger
}

func New(cfg *config.Config, store storage.Store, sched *scheduler.Scheduler, exporter *export.Exporter, logger *logrus.Logger) *Handler {
	return &Handler{cfg: cfg, store: store, sched: sched, exporter: exporter, logger: logger}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(router *gin.Engine, httpMetrics *HTTPMetrics) {
	if httpMetrics != nil {
		router.Use(httpMetrics.Middleware())
	}

	router.GET("/healthz", h.HealthCheck)
	router.GET("/readyz", h.ReadinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	agg := router.Group("/api/traffic-aggregation")
	{
		agg.GET("/status", h.GetSyncStatus)
		agg.POST("/refresh", adminOnly(h.cfg.AdminToken), h.ForceRefresh)
		agg.GET("/metrics", h.GetCachedMetrics)
		agg.POST("/export", adminOnly(h.cfg.AdminToken), h.ExportSnapshots)
	}

	traffic := router.Group("/api/traffic")
	{
		traffic.GET("/funnel-analytics", h.GetFunnelAnalytics)
		traffic.GET("/funnel-analytics/summary", h.GetFunnelSummary)
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "traffic-insights",
	})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ready, err := h.store.HasSnapshots(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "store unreachable"})
		return
	}
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"message": "No aggregation has completed yet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *Handler) GetSyncStatus(c *gin.Context) {
	status := h.sched.Status()
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"isRunning":      status.IsRunning,
		"lastSync":       formatTime(status.LastSync),
		"nextSync":       formatTime(status.NextSync),
		"lastError":      status.LastError,
		"stats":          status.Stats,
		"tokenStatus":    status.TokenStatus,
		"tokenExpiresAt": formatTime(status.TokenExpiresAt),
	})
}

// ForceRefresh kicks a background pass and responds immediately. A pass
// already in flight is reported, never queued.
func (h *Handler) ForceRefresh(c *gin.Context) {
	before := h.sched.Status()
	status := h.sched.TriggerSync(c.Request.Context())

	message := "Aggregation started"
	if before.IsRunning {
		message = "Aggregation already in progress"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"status":  status,
	})
}

func (h *Handler) GetCachedMetrics(c *gin.Context) {
	period := models.Period(c.DefaultQuery("period", string(models.Period7d)))
	if !period.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "period must be one of today, 7d, 30d"})
		return
	}

	userID := c.Query("userId")
	if userID == "" {
		if team := c.Query("team"); team != "" {
			userID = h.lookupTeamUser(c, team)
		}
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "userId or team is required"})
		return
	}

	snapshot, err := h.store.GetSnapshot(c.Request.Context(), userID, period)
	if err != nil {
		// Read path never surfaces backend failures; the UI treats a
		// cache miss as "refresh later".
		h.logger.WithError(err).Warn("Snapshot read failed")
		snapshot = nil
	}
	if snapshot == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "cached": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"cached":    true,
		"isStale":   time.Since(snapshot.UpdatedAt) > h.cfg.StaleAfter,
		"updatedAt": snapshot.UpdatedAt.UTC().Format(time.RFC3339),
		"metrics": gin.H{
			"impressions": snapshot.Impressions,
			"clicks":      snapshot.Clicks,
			"spend":       snapshot.Spend,
			"spendKzt":    snapshot.SpendKzt,
			"conversions": snapshot.Conversions,
			"revenue":     snapshot.Revenue,
			"sales":       snapshot.Sales,
			"ctr":         snapshot.CTR,
			"cpc":         snapshot.CPC,
			"cpm":         snapshot.CPM,
			"roas":        snapshot.ROAS,
			"cpa":         snapshot.CPA,
		},
		"campaigns": snapshot.Campaigns,
	})
}

func (h *Handler) GetFunnelAnalytics(c *gin.Context) {
	rng, ok := h.parseFunnelRange(c)
	if !ok {
		return
	}

	events, err := h.listFunnelEvents(c, rng)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": []models.FunnelDayRow{}, "totalLeads": 0})
		return
	}

	rows := aggregator.FunnelByDay(events)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       rows,
		"totalLeads": len(events),
		"period": gin.H{
			"start": rng.Since.Format("2006-01-02"),
			"end":   rng.Until.Format("2006-01-02"),
		},
	})
}

func (h *Handler) GetFunnelSummary(c *gin.Context) {
	rng, ok := h.parseFunnelRange(c)
	if !ok {
		return
	}

	events, err := h.listFunnelEvents(c, rng)
	if err != nil {
		events = nil
	}

	summary := aggregator.SummarizeFunnel(events)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"summary": summary,
		"rates":   aggregator.Rates(summary),
	})
}

// ExportSnapshots pushes the cached snapshots for a period to the sink.
func (h *Handler) ExportSnapshots(c *gin.Context) {
	period := models.Period(c.DefaultQuery("period", string(models.Period7d)))
	if !period.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "period must be one of today, 7d, 30d"})
		return
	}

	teams, err := h.store.ListTeams(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list teams"})
		return
	}

	var snapshots []models.MetricsSnapshot
	for _, team := range teams {
		snap, err := h.store.GetSnapshot(c.Request.Context(), team.UserID, period)
		if err != nil || snap == nil {
			continue
		}
		snapshots = append(snapshots, *snap)
	}

	if err := h.exporter.ExportSnapshots(c.Request.Context(), h.cfg.SinkURL, snapshots); err != nil {
		h.logger.WithError(err).Error("Export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to export snapshots"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"period":     period,
		"exported":   len(snapshots),
		"exportedAt": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) parseFunnelRange(c *gin.Context) (models.DateRange, bool) {
	now := time.Now().UTC()
	rng := models.Period7d.Range(now)

	if start := c.Query("start_date"); start != "" {
		t, err := time.Parse("2006-01-02", start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid start_date format, use YYYY-MM-DD"})
			return rng, false
		}
		rng.Since = t
	}
	if end := c.Query("end_date"); end != "" {
		t, err := time.Parse("2006-01-02", end)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid end_date format, use YYYY-MM-DD"})
			return rng, false
		}
		rng.Until = t
	}
	if rng.Until.Before(rng.Since) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "end_date is before start_date"})
		return rng, false
	}
	return rng, true
}

func (h *Handler) listFunnelEvents(c *gin.Context, rng models.DateRange) ([]models.LeadEvent, error) {
	events, err := h.store.ListLeadEvents(c.Request.Context(), rng)
	if err != nil {
		h.logger.WithError(err).Warn("Lead events lookup failed")
		return nil, err
	}

	team := c.Query("team")
	if team == "" {
		return events, nil
	}
	filtered := events[:0:0]
	for _, ev := range events {
		if strings.Contains(ev.UTMSource, team) {
			filtered = append(filtered, ev)
		}
	}
	return filtered, nil
}

func (h *Handler) lookupTeamUser(c *gin.Context, team string) string {
	teams, err := h.store.ListTeams(c.Request.Context())
	if err != nil {
		return ""
	}
	for _, t := range teams {
		if t.Name == team {
			return t.UserID
		}
	}
	return ""
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
