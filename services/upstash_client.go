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
)

// UpstashClient talks to an Upstash Redis database over its REST API.
// Commands are sent as a JSON array in the body of a POST to the base URL.
type UpstashClient struct {
	URL        string
	Token      string
	httpClient *http.Client
}

// upstashReply is the envelope of every REST reply
type upstashReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// NewUpstashClient creates a client; both the URL and the token are required.
func NewUpstashClient(url, token string) (*UpstashClient, error) {
	if url == "" || token == "" {
		return nil, errors.WithHint(
			errors.Mark(errors.New("key-value store URL and token are required"), errors.ErrConfigurationMissing),
			"set UPSTASH_REDIS_REST_URL and UPSTASH_REDIS_REST_TOKEN",
		)
	}
	return &UpstashClient{
		URL:        url,
		Token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Keys returns every key matching a glob pattern (KEYS).
func (c *UpstashClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	result, err := c.command(ctx, "KEYS", pattern)
	if err != nil {
		return nil, err
	}

	var keys []string
	if err := json.Unmarshal(result, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse KEYS result: %w", err)
	}
	return keys, nil
}

// Del deletes one key and returns how many keys were removed (0 or 1).
func (c *UpstashClient) Del(ctx context.Context, key string) (int64, error) {
	result, err := c.command(ctx, "DEL", key)
	if err != nil {
		return 0, err
	}

	var removed int64
	if err := json.Unmarshal(result, &removed); err != nil {
		return 0, fmt.Errorf("failed to parse DEL result: %w", err)
	}
	return removed, nil
}

// Ping checks connectivity and credentials.
func (c *UpstashClient) Ping(ctx context.Context) error {
	_, err := c.command(ctx, "PING")
	return err
}

func (c *UpstashClient) command(ctx context.Context, args ...string) (json.RawMessage, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s request failed", args[0]), errors.ErrTransport)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read %s response", args[0]), errors.ErrTransport)
	}

	var reply upstashReply
	if err := json.Unmarshal(body, &reply); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Mark(
				errors.Newf("%s failed (status %d): %s", args[0], resp.StatusCode, string(body)),
				errors.ErrStoreRejected,
			)
		}
		return nil, fmt.Errorf("failed to parse %s response: %w", args[0], err)
	}

	if reply.Error != "" || resp.StatusCode != http.StatusOK {
		return nil, errors.Mark(
			errors.Newf("%s failed (status %d): %s", args[0], resp.StatusCode, reply.Error),
			errors.ErrStoreRejected,
		)
	}

	return reply.Result, nil
}
