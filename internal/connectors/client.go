package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"traffic-insights/internal/apperr"
)

// Client is a retrying JSON HTTP client shared by the upstream connectors.
// Transport errors and 5xx responses are retried with quadratic backoff;
// 4xx responses fail immediately.
type Client struct {
	httpc         *http.Client
	retryAttempts int
	logger        *logrus.Logger
}

func NewClient(timeout time.Duration, retryAttempts int, logger *logrus.Logger) *Client {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Client{
		httpc:         &http.Client{Timeout: timeout},
		retryAttempts: retryAttempts,
		logger:        logger,
	}
}

// GetJSON fetches url and decodes the body into target.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, target interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"backoff": backoff,
				"url":     url,
			}).Warn("Retrying request after backoff")
			select {
			case <-ctx.Done():
				return apperr.New(apperr.KindUpstreamUnavailable, "connectors.get", ctx.Err())
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return apperr.New(apperr.KindUpstreamUnavailable, "connectors.get", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return apperr.Newf(apperr.KindUpstreamUnavailable, "connectors.get",
				"client error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if err := json.Unmarshal(body, target); err != nil {
			lastErr = err
			continue
		}

		return nil
	}

	return apperr.Newf(apperr.KindUpstreamUnavailable, "connectors.get",
		"all retry attempts failed, last error: %v", lastErr)
}

// PostJSON posts body to url with the given headers. The response body is
// discarded; only the status matters.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperr.New(apperr.KindUpstreamUnavailable, "connectors.post", ctx.Err())
			case <-time.After(time.Duration(attempt*attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
		if err != nil {
			return apperr.New(apperr.KindUpstreamUnavailable, "connectors.post", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return apperr.Newf(apperr.KindUpstreamUnavailable, "connectors.post",
				"client error: %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
	}

	return apperr.Newf(apperr.KindUpstreamUnavailable, "connectors.post",
		"post failed after retries: %v", lastErr)
}
