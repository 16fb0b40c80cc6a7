package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cpls_refresh/errors"
	"cpls_refresh/scheduler"
)

// maxRefreshBody caps how much of the refresh reply is kept for logging
const maxRefreshBody = 1 << 20

// IndicatorRefreshClient asks the dashboard to recompute its market indicators
type IndicatorRefreshClient struct {
	URL        string
	httpClient *http.Client
}

// NewIndicatorRefreshClient creates a refresh client. The timeout is the only
// deadline applied to a refresh; zero disables it.
func NewIndicatorRefreshClient(url string, timeout time.Duration) (*IndicatorRefreshClient, error) {
	if url == "" {
		return nil, errors.Mark(errors.New("refresh endpoint URL is required"), errors.ErrConfigurationMissing)
	}
	return &IndicatorRefreshClient{
		URL:        url,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Refresh POSTs to the refresh endpoint. Any transport error or non-2xx
// status is a failure; the outcome still carries the status and body when a
// reply was received.
func (c *IndicatorRefreshClient) Refresh(ctx context.Context) (*scheduler.Outcome, error) {
	body := fmt.Sprintf(`{"trigger":%q,"requested_at":%q}`,
		scheduler.TriggerFromContext(ctx), time.Now().UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "refresh request failed"), errors.ErrTransport)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshBody))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to read refresh response"), errors.ErrTransport)
	}

	outcome := &scheduler.Outcome{StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(raw)) > 0 {
		if json.Valid(raw) {
			outcome.Payload = json.RawMessage(raw)
		} else {
			quoted, _ := json.Marshal(string(raw))
			outcome.Payload = json.RawMessage(quoted)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return outcome, errors.Mark(
			errors.Newf("refresh endpoint returned status %d", resp.StatusCode),
			errors.ErrRefreshRejected,
		)
	}

	return outcome, nil
}
