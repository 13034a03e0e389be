package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dicklesworthstone/keepalive/internal/journal"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

// Client talks to a running watchdog's control API.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// NewClient returns a client for addr ("127.0.0.1:7823" or a full URL).
func NewClient(addr, apiKey string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base:   base,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the diagnostics view.
func (c *Client) Status(ctx context.Context) (watchdog.Status, error) {
	var body struct {
		Status watchdog.Status `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/status", &body)
	return body.Status, err
}

// Start starts the watchdog.
func (c *Client) Start(ctx context.Context) (watchdog.Status, error) {
	return c.control(ctx, "start")
}

// Stop stops the watchdog.
func (c *Client) Stop(ctx context.Context) (watchdog.Status, error) {
	return c.control(ctx, "stop")
}

// Toggle flips the watchdog between running and stopped.
func (c *Client) Toggle(ctx context.Context) (watchdog.Status, error) {
	return c.control(ctx, "toggle")
}

// Reset clears counters and cooldowns.
func (c *Client) Reset(ctx context.Context) (watchdog.Status, error) {
	return c.control(ctx, "reset")
}

func (c *Client) control(ctx context.Context, op string) (watchdog.Status, error) {
	var body struct {
		Status watchdog.Status `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/"+op, &body)
	return body.Status, err
}

// History fetches journaled actions, newest first.
func (c *Client) History(ctx context.Context, limit int, runID string) ([]journal.Entry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if runID != "" {
		q.Set("run", runID)
	}
	path := "/api/v1/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var body struct {
		Entries []journal.Entry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, path, &body)
	return body.Entries, err
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr APIError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Error, apiErr.ErrorCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
