package connectors

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"traffic-insights/internal/apperr"
	"traffic-insights/internal/models"
)

// Facebook fetches campaign insights from the Graph API. Numeric fields
// arrive as strings and are coerced; rows that fail coercion on a required
// field are dropped with a warning instead of failing the batch.
type Facebook struct {
	client        *Client
	baseURL       string
	token         string
	maxWindowDays int
	logger        *logrus.Logger
}

func NewFacebook(client *Client, baseURL, token string, maxWindowDays int, logger *logrus.Logger) *Facebook {
	if maxWindowDays < 1 {
		maxWindowDays = 90
	}
	return &Facebook{
		client:        client,
		baseURL:       baseURL,
		token:         token,
		maxWindowDays: maxWindowDays,
		logger:        logger,
	}
}

type fbAction struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

type fbInsightsRow struct {
	CampaignName string     `json:"campaign_name"`
	Spend        string     `json:"spend"`
	Impressions  string     `json:"impressions"`
	Clicks       string     `json:"clicks"`
	CTR          string     `json:"ctr"`
	Actions      []fbAction `json:"actions"`
	ActionValues []fbAction `json:"action_values"`
}

type fbInsightsResponse struct {
	Data []fbInsightsRow `json:"data"`
}

type fbDebugTokenResponse struct {
	Data struct {
		IsValid   bool  `json:"is_valid"`
		ExpiresAt int64 `json:"expires_at"`
		Error     *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	} `json:"data"`
}

// ValidateToken checks the access token against /debug_token before a pass.
// An unreachable debug endpoint reports TokenUnknown without failing; the
// pass will surface real token errors on the actual insight calls.
func (f *Facebook) ValidateToken(ctx context.Context) (models.TokenStatus, *time.Time, error) {
	if f.token == "" {
		return models.TokenInvalid, nil, apperr.Newf(apperr.KindConfigMissing,
			"facebook.validate_token", "access token not configured")
	}

	u := fmt.Sprintf("%s/debug_token?input_token=%s&access_token=%s",
		f.baseURL, url.QueryEscape(f.token), url.QueryEscape(f.token))

	var resp fbDebugTokenResponse
	if err := f.client.GetJSON(ctx, u, nil, &resp); err != nil {
		f.logger.WithError(err).Warn("Could not validate ads token, continuing")
		return models.TokenUnknown, nil, nil
	}

	if !resp.Data.IsValid {
		msg := "token reported invalid"
		if resp.Data.Error != nil {
			msg = resp.Data.Error.Message
		}
		return models.TokenInvalid, nil, apperr.Newf(apperr.KindConfigMissing,
			"facebook.validate_token", "%s", msg)
	}

	var expiresAt *time.Time
	if resp.Data.ExpiresAt > 0 {
		t := time.Unix(resp.Data.ExpiresAt, 0).UTC()
		expiresAt = &t
		if time.Until(t) <= 0 {
			return models.TokenInvalid, expiresAt, apperr.Newf(apperr.KindConfigMissing,
				"facebook.validate_token", "token expired at %s", t.Format(time.RFC3339))
		}
		if time.Until(t) <= 7*24*time.Hour {
			f.logger.WithField("expires_at", t).Warn("Ads token expires within 7 days")
		}
	}

	return models.TokenValid, expiresAt, nil
}

// FetchCampaigns pulls insight totals for each campaign id over the range.
// Individual campaign failures are logged and skipped so one bad campaign
// cannot sink the team's whole fetch.
func (f *Facebook) FetchCampaigns(ctx context.Context, campaignIDs []string, rng models.DateRange) ([]models.CampaignMetrics, error) {
	results := make([]models.CampaignMetrics, 0, len(campaignIDs))
	for _, id := range campaignIDs {
		m, err := f.fetchCampaign(ctx, id, rng)
		if err != nil {
			if apperr.Is(err, apperr.KindConfigMissing) {
				return nil, err
			}
			f.logger.WithError(err).WithField("campaign_id", id).Warn("Failed to fetch campaign insights")
			continue
		}
		if m != nil {
			results = append(results, *m)
		}
	}
	return results, nil
}

func (f *Facebook) fetchCampaign(ctx context.Context, campaignID string, rng models.DateRange) (*models.CampaignMetrics, error) {
	total := models.CampaignMetrics{CampaignID: campaignID}
	seen := false

	for _, window := range splitRange(rng, f.maxWindowDays) {
		row, err := f.fetchWindow(ctx, campaignID, window)
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		seen = true
		total.CampaignName = row.CampaignName
		total.Spend += row.Spend
		total.Impressions += row.Impressions
		total.Clicks += row.Clicks
		total.Conversions += row.Conversions
		total.Revenue += row.Revenue
	}

	if !seen {
		return nil, nil
	}
	if total.Impressions > 0 {
		total.CTR = float64(total.Clicks) / float64(total.Impressions) * 100
	}
	return &total, nil
}

func (f *Facebook) fetchWindow(ctx context.Context, campaignID string, rng models.DateRange) (*models.CampaignMetrics, error) {
	q := url.Values{}
	q.Set("access_token", f.token)
	q.Set("fields", "campaign_name,spend,impressions,clicks,ctr,actions,action_values")
	q.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`,
		rng.Since.Format("2006-01-02"), rng.Until.Format("2006-01-02")))

	u := fmt.Sprintf("%s/%s/insights?%s", f.baseURL, url.PathEscape(campaignID), q.Encode())

	var resp fbInsightsResponse
	if err := f.client.GetJSON(ctx, u, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}

	row := resp.Data[0]
	spend, err := parseFloat(row.Spend)
	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"spend":       row.Spend,
		}).Warn("Dropping insights row with malformed spend")
		return nil, nil
	}

	m := models.CampaignMetrics{
		CampaignID:   campaignID,
		CampaignName: row.CampaignName,
		Spend:        spend,
		Impressions:  parseIntOrZero(row.Impressions),
		Clicks:       parseIntOrZero(row.Clicks),
		Conversions:  parseIntOrZero(findAction(row.Actions, "purchase")),
		Revenue:      parseFloatOrZero(findAction(row.ActionValues, "purchase")),
	}
	return &m, nil
}

// splitRange cuts a range into sequential windows of at most maxDays each.
func splitRange(rng models.DateRange, maxDays int) []models.DateRange {
	if rng.Days() <= maxDays {
		return []models.DateRange{rng}
	}
	var out []models.DateRange
	since := rng.Since
	for !since.After(rng.Until) {
		until := since.AddDate(0, 0, maxDays-1)
		if until.After(rng.Until) {
			until = rng.Until
		}
		out = append(out, models.DateRange{Since: since, Until: until})
		since = until.AddDate(0, 0, 1)
	}
	return out
}

func findAction(actions []fbAction, actionType string) string {
	for _, a := range actions {
		if a.ActionType == actionType {
			return a.Value
		}
	}
	return ""
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseFloatOrZero(s string) float64 {
	v, err := parseFloat(s)
	if err != nil {
		return 0
	}
	return v
}

func parseIntOrZero(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
