// Package provider implements the outbound delivery call to the external
// notification provider and classifies its response.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Acceptance is a recognized "accepted" outcome from the provider.
type Acceptance struct {
	MessageID string    // opaque provider message id
	Timestamp time.Time // provider-reported send time, zero when absent or unparsable
}

// RateLimitError signals explicit provider backpressure (a 429 response).
type RateLimitError struct {
	RetryAfter time.Duration // zero when the provider gave no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
	}
	return "provider rate limited"
}

// Client sends notifications to the provider webhook endpoint.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a provider client with a bounded per-call timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type deliverRequest struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Content string `json:"content"`
}

type deliverResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"`
}

// Deliver performs one delivery attempt.
//
// A 429 response returns a *RateLimitError. A 200/202 response whose body
// reports status "accepted" returns an Acceptance. Anything else, including
// timeouts and connection failures, returns a plain error the caller treats
// as not-yet-successful.
func (c *Client) Deliver(ctx context.Context, to, channel, content string) (*Acceptance, error) {
	body, err := json.Marshal(deliverRequest{To: to, Channel: channel, Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: retryAfter(resp)}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("provider API error: %s", resp.Status)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out deliverResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unrecognized provider response: %w", err)
	}

	if out.Status != "accepted" {
		return nil, fmt.Errorf("provider reported status %q", out.Status)
	}

	acc := &Acceptance{MessageID: out.MessageID}
	if out.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, out.Timestamp); err == nil {
			acc.Timestamp = ts
		}
	}

	return acc, nil
}

func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
