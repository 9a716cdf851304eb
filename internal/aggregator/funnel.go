package aggregator

import (
	"fmt"
	"sort"

	"traffic-insights/internal/models"
)

type journey struct {
	proftest      bool
	expressVisit  bool
	expressSubmit bool
	purchase      bool
	revenue       float64
}

// SummarizeFunnel groups lead events into per-client journeys and counts
// how many unique clients reached each stage. Events without a client id
// count as their own journey.
func SummarizeFunnel(events []models.LeadEvent) models.FunnelSummary {
	journeys := groupJourneys(events)

	var summary models.FunnelSummary
	for _, j := range journeys {
		if j.proftest {
			summary.ProftestCount++
		}
		if j.expressVisit {
			summary.ExpressVisitCount++
		}
		if j.expressSubmit {
			summary.ExpressSubmitCount++
		}
		if j.purchase {
			summary.PurchaseCount++
		}
	}
	return summary
}

// Rates computes stage-to-stage conversion percentages as strings fixed to
// two decimals. Zero denominators yield "0.00".
func Rates(s models.FunnelSummary) models.FunnelRates {
	return models.FunnelRates{
		ProftestToExpress:       formatRate(s.ExpressVisitCount, s.ProftestCount),
		ExpressVisitToSubmit:    formatRate(s.ExpressSubmitCount, s.ExpressVisitCount),
		ExpressSubmitToPurchase: formatRate(s.PurchaseCount, s.ExpressSubmitCount),
		Overall:                 formatRate(s.PurchaseCount, s.ProftestCount),
	}
}

// FunnelByDay buckets lead events into calendar days, sorted ascending.
func FunnelByDay(events []models.LeadEvent) []models.FunnelDayRow {
	byDay := make(map[string]*models.FunnelDayRow)
	for _, ev := range events {
		day := ev.CreatedAt.UTC().Format("2006-01-02")
		row, ok := byDay[day]
		if !ok {
			row = &models.FunnelDayRow{Date: day}
			byDay[day] = row
		}
		switch ev.FunnelStage {
		case models.StageProftestSubmit:
			row.Proftest++
		case models.StageExpressVisit:
			row.ExpressVisit++
		case models.StageExpressSubmit:
			row.ExpressSubmit++
		case models.StagePurchase:
			row.Purchases++
			row.Revenue += ev.Amount
		}
	}

	rows := make([]models.FunnelDayRow, 0, len(byDay))
	for _, row := range byDay {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows
}

func groupJourneys(events []models.LeadEvent) map[string]*journey {
	journeys := make(map[string]*journey)
	for _, ev := range events {
		key := ev.ClientID
		if key == "" {
			key = ev.ID
		}
		j, ok := journeys[key]
		if !ok {
			j = &journey{}
			journeys[key] = j
		}
		switch ev.FunnelStage {
		case models.StageProftestSubmit:
			j.proftest = true
		case models.StageExpressVisit:
			j.expressVisit = true
		case models.StageExpressSubmit:
			j.expressSubmit = true
		case models.StagePurchase:
			j.purchase = true
			j.revenue += ev.Amount
		}
	}
	return journeys
}

func formatRate(numerator, denominator int) string {
	if denominator <= 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(numerator)/float64(denominator)*100)
}
