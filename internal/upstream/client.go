// Package upstream talks to the backend API that fronts the clinic referral
// database. It is only consulted by dataset strategies that need live data
// instead of synthetic generation.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"triagetrain/internal/logging"
)

// DailyCount is one day of referral arrivals as reported by the backend.
type DailyCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// Client is a thin HTTP client for the upstream data source.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New creates a client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Healthy checks that the upstream service is reachable. Strategies that
// depend on live data call this before doing any work.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("upstream health request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unavailable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream unhealthy: status %d", resp.StatusCode)
	}

	logging.UpstreamDebug("health check ok: %s", c.baseURL)
	return nil
}

// DailyReferrals fetches referral counts per day for the inclusive date range.
// Days the backend does not report are absent from the result; callers fill
// gaps with zero arrivals.
func (c *Client) DailyReferrals(ctx context.Context, startDate, endDate string) ([]DailyCount, error) {
	timer := logging.StartTimer(logging.CategoryUpstream, "DailyReferrals")
	defer timer.Stop()

	q := url.Values{}
	q.Set("start", startDate)
	q.Set("end", endDate)
	endpoint := c.baseURL + "/referrals/daily?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream referrals request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream referrals fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream referrals: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var counts []DailyCount
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		return nil, fmt.Errorf("upstream referrals decode: %w", err)
	}

	logging.Upstream("fetched %d daily counts for %s..%s", len(counts), startDate, endDate)
	return counts, nil
}
