package connectors

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"traffic-insights/internal/apperr"
	"traffic-insights/internal/models"
)

// AmoCRM fetches closed sales from the AmoCRM v4 leads API and normalizes
// them into SaleEvents. UTM parameters live in lead custom fields.
type AmoCRM struct {
	client  *Client
	baseURL string
	token   string
	logger  *logrus.Logger
}

func NewAmoCRM(client *Client, baseURL, token string, logger *logrus.Logger) *AmoCRM {
	return &AmoCRM{client: client, baseURL: baseURL, token: token, logger: logger}
}

type amoCustomField struct {
	FieldCode string `json:"field_code"`
	Values    []struct {
		Value interface{} `json:"value"`
	} `json:"values"`
}

type amoLead struct {
	ID           int64            `json:"id"`
	Price        float64          `json:"price"`
	CreatedAt    int64            `json:"created_at"`
	PipelineID   int64            `json:"pipeline_id"`
	CustomFields []amoCustomField `json:"custom_fields_values"`
}

type amoLeadsResponse struct {
	Embedded struct {
		Leads []amoLead `json:"leads"`
	} `json:"_embedded"`
	Links struct {
		Next *struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
}

// FetchSales walks the paginated leads listing for the range. Leads missing
// a created_at are dropped with a warning; a page-level HTTP failure aborts
// the fetch with UpstreamUnavailable.
func (a *AmoCRM) FetchSales(ctx context.Context, rng models.DateRange) ([]models.SaleEvent, error) {
	if a.baseURL == "" || a.token == "" {
		return nil, apperr.Newf(apperr.KindConfigMissing, "amocrm.fetch_sales",
			"base URL or token not configured")
	}

	from := rng.Since.Unix()
	// Until is inclusive at day granularity.
	to := rng.Until.Add(24*time.Hour - time.Second).Unix()

	next := fmt.Sprintf("%s/api/v4/leads?limit=250&filter[created_at][from]=%d&filter[created_at][to]=%d",
		a.baseURL, from, to)
	headers := map[string]string{"Authorization": "Bearer " + a.token}

	var events []models.SaleEvent
	for next != "" {
		var resp amoLeadsResponse
		if err := a.client.GetJSON(ctx, next, headers, &resp); err != nil {
			return nil, err
		}

		for _, lead := range resp.Embedded.Leads {
			ev, ok := a.normalizeLead(lead)
			if !ok {
				continue
			}
			events = append(events, ev)
		}

		next = ""
		if resp.Links.Next != nil {
			next = resp.Links.Next.Href
		}
	}

	a.logger.WithField("records", len(events)).Info("Fetched CRM sales")
	return events, nil
}

func (a *AmoCRM) normalizeLead(lead amoLead) (models.SaleEvent, bool) {
	if lead.CreatedAt == 0 {
		a.logger.WithField("lead_id", lead.ID).Warn("Dropping lead without created_at")
		return models.SaleEvent{}, false
	}

	id := strconv.FormatInt(lead.ID, 10)
	if lead.ID == 0 {
		id = uuid.NewString()
	}

	amount := lead.Price
	if amount < 0 {
		amount = 0
	}

	return models.SaleEvent{
		ID:         id,
		UTMSource:  customFieldString(lead.CustomFields, "UTM_SOURCE"),
		UTMMedium:  customFieldString(lead.CustomFields, "UTM_MEDIUM"),
		FunnelType: customFieldString(lead.CustomFields, "FUNNEL_TYPE"),
		Amount:     amount,
		Currency:   "KZT",
		OccurredAt: time.Unix(lead.CreatedAt, 0).UTC(),
	}, true
}

func customFieldString(fields []amoCustomField, code string) string {
	for _, f := range fields {
		if f.FieldCode != code || len(f.Values) == 0 {
			continue
		}
		if s, ok := f.Values[0].Value.(string); ok {
			return s
		}
	}
	return ""
}
