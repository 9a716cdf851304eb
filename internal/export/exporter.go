// Package export pushes aggregated snapshots to an external sink, signing
// each payload with an HMAC so the receiver can verify origin.
package export

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"traffic-insights/internal/apperr"
	"traffic-insights/internal/connectors"
	"traffic-insights/internal/models"
)

type Exporter struct {
	secret string
	client *connectors.Client
	logger *logrus.Logger
}

func NewExporter(secret string, client *connectors.Client, logger *logrus.Logger) *Exporter {
	return &Exporter{secret: secret, client: client, logger: logger}
}

// ExportSnapshots posts each snapshot to the sink with an X-Signature
// header. The first failed record aborts the export; the sink is expected
// to deduplicate on (userId, period) so re-runs are safe.
func (e *Exporter) ExportSnapshots(ctx context.Context, sinkURL string, snapshots []models.MetricsSnapshot) error {
	if sinkURL == "" {
		return apperr.Newf(apperr.KindConfigMissing, "export.run", "sink URL not configured")
	}
	if len(snapshots) == 0 {
		return fmt.Errorf("no snapshots to export")
	}

	for _, snapshot := range snapshots {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshaling snapshot: %w", err)
		}

		headers := map[string]string{"X-Signature": e.sign(payload)}
		if err := e.client.PostJSON(ctx, sinkURL, payload, headers); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"team":   snapshot.Team,
				"period": snapshot.Period,
			}).Error("Failed to export snapshot")
			return err
		}

		e.logger.WithFields(logrus.Fields{
			"team":   snapshot.Team,
			"period": snapshot.Period,
		}).Info("Exported snapshot")
	}
	return nil
}

func (e *Exporter) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(e.secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
