package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Period selects the aggregation window for a snapshot.
type Period string

const (
	PeriodToday Period = "today"
	Period7d    Period = "7d"
	Period30d   Period = "30d"
)

// AllPeriods lists every window the scheduler materializes each pass.
var AllPeriods = []Period{Period7d, Period30d, PeriodToday}

// Valid reports whether p is one of the recognized windows.
func (p Period) Valid() bool {
	switch p {
	case PeriodToday, Period7d, Period30d:
		return true
	}
	return false
}

// Range resolves the period to an inclusive date range ending at now.
func (p Period) Range(now time.Time) DateRange {
	until := dayUTC(now)
	switch p {
	case PeriodToday:
		return DateRange{Since: until, Until: until}
	case Period30d:
		return DateRange{Since: until.AddDate(0, 0, -30), Until: until}
	default:
		return DateRange{Since: until.AddDate(0, 0, -7), Until: until}
	}
}

// DateRange is an inclusive day range in UTC.
type DateRange struct {
	Since time.Time
	Until time.Time
}

// Contains reports whether t falls inside the range (day granularity).
func (r DateRange) Contains(t time.Time) bool {
	d := dayUTC(t)
	return !d.Before(r.Since) && !d.After(r.Until)
}

// Days returns the number of days covered, inclusive.
func (r DateRange) Days() int {
	return int(r.Until.Sub(r.Since).Hours()/24) + 1
}

func dayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Team is a targetologist team tracked by the dashboard. CampaignIDs holds
// the ad-platform campaign ids the team is attributed to.
type Team struct {
	ID          string `gorm:"primaryKey" json:"id"`
	UserID      string `gorm:"index" json:"userId"`
	Name        string `json:"name"`
	UTMSource   string `gorm:"column:utm_source" json:"utmSource"`
	CampaignIDs StringList `gorm:"column:campaign_ids;type:text" json:"campaignIds"`
	IsActive    bool   `gorm:"column:is_active" json:"isActive"`
}

func (Team) TableName() string { return "traffic_teams" }

// StringList serializes a []string into a single JSON text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	case nil:
		*l = nil
		return nil
	}
	return fmt.Errorf("unsupported campaign_ids column type %T", src)
}

// AdSpendRecord is one day of ad-platform spend for a campaign. Closed days
// are immutable; the current day is overwritten on every pass.
type AdSpendRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Team        string    `gorm:"index:idx_spend_key,unique" json:"team"`
	Date        time.Time `gorm:"index:idx_spend_key,unique" json:"date"`
	CampaignID  string    `gorm:"index:idx_spend_key,unique;column:campaign_id" json:"campaignId"`
	Impressions int       `json:"impressions"`
	Clicks      int       `json:"clicks"`
	Spend       float64   `json:"spend"`
	Currency    string    `json:"currency"`
}

func (AdSpendRecord) TableName() string { return "traffic_stats" }

// SaleEvent is a CRM sale attributed to a team. Append-only.
type SaleEvent struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Team       string    `gorm:"index" json:"team"`
	FunnelType string    `gorm:"column:funnel_type" json:"funnelType"`
	UTMSource  string    `gorm:"column:utm_source" json:"utmSource"`
	UTMMedium  string    `gorm:"column:utm_medium" json:"utmMedium"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `gorm:"column:occurred_at;index" json:"occurredAt"`
}

func (SaleEvent) TableName() string { return "traffic_sales" }

// Funnel stage event types, in pipeline order.
const (
	StageProftestSubmit = "proftest_submit"
	StageExpressVisit   = "express_visit"
	StageExpressSubmit  = "express_submit"
	StagePurchase       = "purchase"
)

// LeadEvent is a single funnel touchpoint. Events sharing a ClientID form
// one journey. Append-only.
type LeadEvent struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	ClientID    string    `gorm:"column:client_id;index" json:"clientId"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	UTMSource   string    `gorm:"column:utm_source" json:"utmSource"`
	UTMMedium   string    `gorm:"column:utm_medium" json:"utmMedium"`
	FunnelStage string    `gorm:"column:funnel_stage" json:"funnelStage"`
	Amount      float64   `json:"amount"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
}

func (LeadEvent) TableName() string { return "traffic_leads" }

// TeamUtmMapping routes a (utm_source, funnel_type) pair to a team. Admin
// managed, read-only to the aggregation path. The auto-increment ID doubles
// as the insertion order used for tie-breaking duplicates.
type TeamUtmMapping struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	UTMSource  string `gorm:"column:utm_source;index" json:"utmSource"`
	UTMMedium  string `gorm:"column:utm_medium" json:"utmMedium"`
	Team       string `json:"team"`
	FunnelType string `gorm:"column:funnel_type" json:"funnelType"`
	IsActive   bool   `gorm:"column:is_active" json:"isActive"`
}

func (TeamUtmMapping) TableName() string { return "traffic_utm_mappings" }

// CampaignMetrics is the per-campaign drill-down attached to a snapshot.
type CampaignMetrics struct {
	CampaignID   string  `json:"campaignId"`
	CampaignName string  `json:"campaignName"`
	Spend        float64 `json:"spend"`
	Impressions  int     `json:"impressions"`
	Clicks       int     `json:"clicks"`
	CTR          float64 `json:"ctr"`
	Conversions  int     `json:"conversions"`
	Revenue      float64 `json:"revenue"`
}

// MetricsSnapshot is the cached aggregation result for one (userId, period)
// key. Derived ratios are always finite; zero denominators yield zero.
type MetricsSnapshot struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID        string    `gorm:"column:user_id;index:idx_snapshot_key,unique" json:"userId"`
	Team          string    `json:"team"`
	Period        Period    `gorm:"index:idx_snapshot_key,unique" json:"period"`
	Impressions   int       `json:"impressions"`
	Clicks        int       `json:"clicks"`
	Spend         float64   `json:"spend"`
	SpendKzt      float64   `gorm:"column:spend_kzt" json:"spendKzt"`
	Conversions   int       `json:"conversions"`
	Revenue       float64   `json:"revenue"`
	Sales         int       `json:"sales"`
	CTR           float64   `gorm:"column:ctr" json:"ctr"`
	CPC           float64   `gorm:"column:cpc" json:"cpc"`
	CPM           float64   `gorm:"column:cpm" json:"cpm"`
	ROAS          float64   `gorm:"column:roas" json:"roas"`
	CPA           float64   `gorm:"column:cpa" json:"cpa"`
	CampaignsJSON string    `gorm:"column:campaigns_json;type:text" json:"-"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updatedAt"`

	Campaigns []CampaignMetrics `gorm:"-" json:"campaigns"`
}

func (MetricsSnapshot) TableName() string { return "traffic_aggregated_metrics" }

// EncodeCampaigns serializes Campaigns into CampaignsJSON before persisting.
func (s *MetricsSnapshot) EncodeCampaigns() error {
	if s.Campaigns == nil {
		s.CampaignsJSON = "[]"
		return nil
	}
	b, err := json.Marshal(s.Campaigns)
	if err != nil {
		return err
	}
	s.CampaignsJSON = string(b)
	return nil
}

// DecodeCampaigns restores Campaigns from CampaignsJSON after a read.
func (s *MetricsSnapshot) DecodeCampaigns() error {
	if s.CampaignsJSON == "" {
		s.Campaigns = []CampaignMetrics{}
		return nil
	}
	return json.Unmarshal([]byte(s.CampaignsJSON), &s.Campaigns)
}

// TokenStatus reflects the last ad-platform token validation.
type TokenStatus string

const (
	TokenValid   TokenStatus = "valid"
	TokenInvalid TokenStatus = "invalid"
	TokenUnknown TokenStatus = "unknown"
)

// SyncStats summarizes the last completed aggregation pass.
type SyncStats struct {
	UsersProcessed     int   `json:"usersProcessed"`
	CampaignsProcessed int   `json:"campaignsProcessed"`
	MetricsUpdated     int   `json:"metricsUpdated"`
	DurationMs         int64 `json:"durationMs"`
}

// SyncStatus is the scheduler's externally visible state. Owned exclusively
// by the scheduler; handlers read copies.
type SyncStatus struct {
	IsRunning      bool        `json:"isRunning"`
	LastSync       *time.Time  `json:"lastSync"`
	NextSync       *time.Time  `json:"nextSync"`
	LastError      string      `json:"lastError,omitempty"`
	Stats          SyncStats   `json:"stats"`
	TokenStatus    TokenStatus `json:"tokenStatus"`
	TokenExpiresAt *time.Time  `json:"tokenExpiresAt"`
}

// SyncHistoryEntry is one row of the aggregation audit trail.
type SyncHistoryEntry struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	StartedAt      time.Time `gorm:"column:started_at" json:"startedAt"`
	CompletedAt    time.Time `gorm:"column:completed_at" json:"completedAt"`
	Success        bool      `json:"success"`
	UsersProcessed int       `gorm:"column:users_processed" json:"usersProcessed"`
	MetricsUpdated int       `gorm:"column:metrics_updated" json:"metricsUpdated"`
	DurationMs     int64     `gorm:"column:duration_ms" json:"durationMs"`
	ErrorMessage   string    `gorm:"column:error_message" json:"errorMessage,omitempty"`
}

func (SyncHistoryEntry) TableName() string { return "traffic_sync_history" }

// FunnelSummary counts unique clients that reached each pipeline stage.
type FunnelSummary struct {
	ProftestCount      int `json:"proftest_count"`
	ExpressVisitCount  int `json:"express_visit_count"`
	ExpressSubmitCount int `json:"express_submit_count"`
	PurchaseCount      int `json:"purchase_count"`
}

// FunnelRates are stage-to-stage conversion percentages, fixed to two
// decimals, "0.00" when the denominator is zero.
type FunnelRates struct {
	ProftestToExpress       string `json:"proftest_to_express"`
	ExpressVisitToSubmit    string `json:"express_visit_to_submit"`
	ExpressSubmitToPurchase string `json:"express_submit_to_purchase"`
	Overall                 string `json:"overall"`
}

// FunnelDayRow is one calendar day of funnel stage counts.
type FunnelDayRow struct {
	Date          string  `json:"date"`
	Proftest      int     `json:"proftest_count"`
	ExpressVisit  int     `json:"express_visit_count"`
	ExpressSubmit int     `json:"express_submit_count"`
	Purchases     int     `json:"purchase_count"`
	Revenue       float64 `json:"revenue"`
}
