package mission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a thin JSON client for the backend.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the backend root without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

// HTTPClient exposes the underlying client for multipart uploads.
func (c *Client) HTTPClient() *http.Client { return c.hc }

// FetchSettings GETs <base>/info/.
func (c *Client) FetchSettings(ctx context.Context) (Settings, error) {
	if c == nil {
		return Settings{}, fmt.Errorf("mission client is nil")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/info/", nil)
	if err != nil {
		return Settings{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return Settings{}, fmt.Errorf("fetch settings: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Settings{}, fmt.Errorf("fetch settings: status %d", resp.StatusCode)
	}

	st := Defaults()
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&st); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return st, nil
}

// PostUpdate POSTs payload as JSON to <base>/update/.
func (c *Client) PostUpdate(ctx context.Context, payload any) error {
	if c == nil {
		return fmt.Errorf("mission client is nil")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/update/", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("post update: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post update: status %d", resp.StatusCode)
	}
	return nil
}

// Reachable reports whether the backend answers at all.
func (c *Client) Reachable(ctx context.Context) bool {
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/info/", nil)
	if err != nil {
		return false
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}
