// Package connectorsdk is the HTTP client a connector worker uses to call
// back into the coordinator's SDK surface: emit events, store content,
// heartbeat, report progress, and finish or fail a sync run. Same transport
// conventions as the coordinator's own connector client (30s timeout,
// typed non-2xx error), pointed the other direction.
package connectorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

const requestTimeout = 30 * time.Second

// Coordinator is the callback surface a sync loop reports through. Defined
// here (consumer side) so worker code can be tested against a fake without
// a live coordinator.
type Coordinator interface {
	EmitEvent(ctx context.Context, sourceID string, event domain.EventPayload) (string, error)
	StoreContent(ctx context.Context, content []byte, contentType string) (string, error)
	Heartbeat(ctx context.Context, syncRunID string) error
	IncrementScanned(ctx context.Context, syncRunID string, n int64) error
	SaveState(ctx context.Context, syncRunID string, connectorState string) error
	Complete(ctx context.Context, syncRunID string, documentsProcessed, documentsUpdated int64) error
	Fail(ctx context.Context, syncRunID string, message string) error
}

// Client implements Coordinator against a coordinator base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ Coordinator = (*Client)(nil)

// New builds a Client for the coordinator at baseURL (no trailing slash
// required).
func New(baseURL string) *Client {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// SDKError is a non-2xx response from the coordinator's SDK surface.
type SDKError struct {
	StatusCode int
	Body       string
}

func (e *SDKError) Error() string {
	return fmt.Sprintf("coordinator sdk returned status=%d: %s", e.StatusCode, e.Body)
}

func (c *Client) EmitEvent(ctx context.Context, sourceID string, event domain.EventPayload) (string, error) {
	var resp struct {
		EventID string `json:"event_id"`
	}
	body := map[string]any{"source_id": sourceID, "event": event}
	if err := c.postJSON(ctx, "/sdk/events", body, &resp); err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (c *Client) StoreContent(ctx context.Context, content []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sdk/content", bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("building content request: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	var resp struct {
		ContentID string `json:"content_id"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.ContentID, nil
}

func (c *Client) Heartbeat(ctx context.Context, syncRunID string) error {
	return c.postJSON(ctx, "/sdk/sync/"+syncRunID+"/heartbeat", map[string]any{}, nil)
}

func (c *Client) IncrementScanned(ctx context.Context, syncRunID string, n int64) error {
	return c.postJSON(ctx, "/sdk/sync/"+syncRunID+"/scanned", map[string]int64{"n": n}, nil)
}

func (c *Client) SaveState(ctx context.Context, syncRunID string, connectorState string) error {
	return c.postJSON(ctx, "/sdk/sync/"+syncRunID+"/state", map[string]string{"connector_state": connectorState}, nil)
}

func (c *Client) Complete(ctx context.Context, syncRunID string, documentsProcessed, documentsUpdated int64) error {
	body := map[string]int64{
		"documents_processed": documentsProcessed,
		"documents_updated":   documentsUpdated,
	}
	return c.postJSON(ctx, "/sdk/sync/"+syncRunID+"/complete", body, nil)
}

func (c *Client) Fail(ctx context.Context, syncRunID string, message string) error {
	return c.postJSON(ctx, "/sdk/sync/"+syncRunID+"/fail", map[string]string{"error": message}, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling request body for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request to %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// do sends req, retrying transient outcomes per the backoff policy in
// retry.go. The request body must be rewindable (bytes.Reader bodies from
// http.NewRequest are), so each attempt re-sends the full payload.
func (c *Client) do(req *http.Request, out any) error {
	var resp *http.Response
	var err error

	for attempt := 0; ; attempt++ {
		attemptReq := req
		if attempt > 0 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return fmt.Errorf("rewinding request body for %s: %w", req.URL, bodyErr)
			}
			attemptReq = req.Clone(req.Context())
			attemptReq.Body = body
		}

		resp, err = c.http.Do(attemptReq) //nolint:bodyclose // closed below or after the loop
		if !retryable(resp, err) || attempt+1 >= defaultMaxAttempts {
			break
		}
		if resp != nil {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			resp.Body.Close()
		}

		delay := backoffDelay(attempt, resp)
		select {
		case <-req.Context().Done():
			return req.Context().Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &SDKError{StatusCode: resp.StatusCode, Body: string(data)}
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
