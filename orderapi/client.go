// Package orderapi is the pull-based accessor for guest order state.
// It serves both the initial load and the polling fallback path.
package orderapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"guesttrack/orders"
)

// ErrNotFound is returned when the order does not exist or its tracking
// window has expired server-side (404 and 410 are equivalent). Callers
// treat a vanished order the same as a terminal one.
var ErrNotFound = errors.New("order not found")

// TransientError wraps a network or server-side failure the caller may
// retry. Polling and backoff absorb these; they are never surfaced to
// the user.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Client fetches order snapshots from the order resource endpoint.
// The guest scope is unauthenticated by design, so no credentials are
// ever attached.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an order API client with a uniform request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchOrder retrieves the current snapshot of one order.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*orders.Snapshot, error) {
	url := c.baseURL + "/guest/orders/" + orderID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("order request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: "GET " + url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: "read " + url, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, &TransientError{Op: "GET " + url, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("order API HTTP %d: %s", resp.StatusCode, data)
	}

	var snap orders.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	if snap.OrderID == "" {
		snap.OrderID = orderID
	}
	return &snap, nil
}

// FetchAll fetches each id independently, best-effort. A single id's
// failure does not abort the batch; failed ids are reported back in the
// error map so the caller can decide per-id eviction vs. retry.
func (c *Client) FetchAll(ctx context.Context, orderIDs []string) (map[string]*orders.Snapshot, map[string]error) {
	snaps := make(map[string]*orders.Snapshot, len(orderIDs))
	failed := make(map[string]error)
	for _, id := range orderIDs {
		snap, err := c.FetchOrder(ctx, id)
		if err != nil {
			failed[id] = err
			continue
		}
		snaps[id] = snap
	}
	return snaps, failed
}
