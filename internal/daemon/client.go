package daemon

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/runnerr0/dwell/internal/engine"
)

// Client talks to a running daemon's control endpoint.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a Client for the daemon at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Ping reports whether a daemon answers at the address.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon health: %s", resp.Status)
	}
	return nil
}

// Control sends one control request. A response carrying an error code is
// returned as is; err is only set when the exchange itself failed.
func (c *Client) Control(ctx context.Context, r engine.Request) (engine.Response, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return engine.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/control", bytes.NewReader(body))
	if err != nil {
		return engine.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return engine.Response{}, fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	var out engine.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return engine.Response{}, fmt.Errorf("decode daemon response (%s): %w", resp.Status, err)
	}
	return out, nil
}
