// Package rpcclient is the coordinator's JSON-over-HTTP client for talking
// to connector workers: /health, /manifest, /sync, /cancel, /action. One
// method per route, a 30s timeout on every call, and a typed ClientError
// distinguishing a connector's non-2xx answer from a transport failure.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
)

const requestTimeout = 30 * time.Second

// Client implements ports.ConnectorClient over plain net/http.
type Client struct {
	http *http.Client
}

var _ ports.ConnectorClient = (*Client)(nil)

// New builds a Client with a shared transport, reused across all connector
// hosts so keep-alives actually pool.
func New() *Client {
	return &Client{
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 60 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// ClientError distinguishes a connector's non-2xx response from a transport
// failure.
type ClientError struct {
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("connector returned status=%d: %s", e.StatusCode, e.Body)
}

func (c *Client) Health(ctx context.Context, connectorURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, connectorURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ClientError{StatusCode: resp.StatusCode, Body: readBody(resp)}
	}
	return nil
}

func (c *Client) Manifest(ctx context.Context, connectorURL string) (domain.Manifest, error) {
	var manifest domain.Manifest
	if err := c.getJSON(ctx, connectorURL+"/manifest", &manifest); err != nil {
		return domain.Manifest{}, err
	}
	return manifest, nil
}

func (c *Client) Sync(ctx context.Context, connectorURL string, req domain.SyncRequest) error {
	return c.postJSON(ctx, connectorURL+"/sync", req, nil)
}

// Cancel asks a connector to stop a run. Connectors that declare no cancel
// capability answer with a "not_supported" status, surfaced here as
// domain.ErrNotSupported so the caller can report it.
func (c *Client) Cancel(ctx context.Context, connectorURL string, req domain.CancelRequest) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.postJSON(ctx, connectorURL+"/cancel", req, &resp); err != nil {
		return err
	}
	if resp.Status == "not_supported" {
		return domain.ErrNotSupported
	}
	return nil
}

func (c *Client) Action(ctx context.Context, connectorURL string, req domain.ActionRequest) (map[string]any, error) {
	var result map[string]any
	if err := c.postJSON(ctx, connectorURL+"/action", req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request to %s: %w", url, err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling request body for %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request to %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ClientError{StatusCode: resp.StatusCode, Body: readBody(resp)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", req.URL, err)
	}
	return nil
}

func readBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ""
	}
	return string(data)
}
