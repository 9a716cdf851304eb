// Package aggregator folds normalized ad-spend and sale records into cached
// metric snapshots and funnel summaries.
package aggregator

import (
	"math"
	"time"

	"traffic-insights/internal/models"
)

// BuildSnapshot folds campaign insights and attributed sales into one
// snapshot for a (userId, period) key. An empty input yields an all-zero
// snapshot, never an error; every derived ratio is finite.
func BuildSnapshot(userID, team string, period models.Period, campaigns []models.CampaignMetrics, sales []models.SaleEvent, exchangeRateKZT float64, now time.Time) models.MetricsSnapshot {
	var (
		impressions int
		clicks      int
		spend       float64
		conversions int
		adRevenue   float64
	)
	for _, c := range campaigns {
		impressions += c.Impressions
		clicks += c.Clicks
		spend += c.Spend
		conversions += c.Conversions
		adRevenue += c.Revenue
	}

	var saleRevenue float64
	for _, s := range sales {
		saleRevenue += s.Amount
	}
	revenue := adRevenue + saleRevenue
	saleCount := len(sales)

	if campaigns == nil {
		campaigns = []models.CampaignMetrics{}
	}

	return models.MetricsSnapshot{
		UserID:      userID,
		Team:        team,
		Period:      period,
		Impressions: impressions,
		Clicks:      clicks,
		Spend:       spend,
		SpendKzt:    spend * exchangeRateKZT,
		Conversions: conversions,
		Revenue:     revenue,
		Sales:       saleCount,
		CTR:         safeDivide(float64(clicks), float64(impressions)) * 100,
		CPC:         safeDivide(spend, float64(clicks)),
		CPM:         safeDivide(spend, float64(impressions)) * 1000,
		ROAS:        safeDivide(revenue, spend),
		CPA:         safeDivide(spend, float64(saleCount)),
		Campaigns:   campaigns,
		UpdatedAt:   now.UTC(),
	}
}

// safeDivide returns 0 on a zero denominator or a non-finite result.
func safeDivide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	result := numerator / denominator
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0
	}
	return result
}
