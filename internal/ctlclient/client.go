// Package ctlclient is the small HTTP client proxyctl uses to talk to a
// running proxyd's /debug surface (SPEC_FULL.md §6's "[NEW] debug
// surface"): node error-limiter inspection/reset, ring device listing, and
// metrics counters. It never touches the client-facing /v1 surface —
// that's what the proxy itself serves, not an operator tool.
package ctlclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one proxyd instance's debug endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client bound to baseURL (e.g. "http://localhost:8080").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// NodeStatus mirrors app.registerDebugRoutes' /debug/nodes JSON shape.
type NodeStatus struct {
	NodeID     string `json:"node_id"`
	Errors     int    `json:"errors"`
	Suppressed bool   `json:"suppressed"`
}

// Device mirrors /debug/ring/devices.
type Device struct {
	ID     string `json:"id"`
	Device string `json:"device"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	Zone   int    `json:"zone"`
}

// MetricsSnapshot mirrors /debug/metrics.
type MetricsSnapshot struct {
	HandoffWarnings int64 `json:"handoff_warnings"`
	QuorumFailures  int64 `json:"quorum_failures"`
	ErrorLimitTrips int64 `json:"error_limit_trips"`
}

// Nodes lists every node's current error-limiter state.
func (c *Client) Nodes(ctx context.Context) ([]NodeStatus, error) {
	var out []NodeStatus
	return out, c.getJSON(ctx, "/debug/nodes", &out)
}

// ResetNode clears a node's error counters.
func (c *Client) ResetNode(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/debug/nodes/%s/reset", c.baseURL, id), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Devices lists every device the loaded ring knows about.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	return out, c.getJSON(ctx, "/debug/ring/devices", &out)
}

// Metrics returns the in-process counter snapshot.
func (c *Client) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	var out MetricsSnapshot
	return out, c.getJSON(ctx, "/debug/metrics", &out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError carries the status and body of a non-2xx debug-endpoint reply.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string { return fmt.Sprintf("proxyctl: HTTP %d: %s", e.Status, e.Body) }

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &APIError{Status: resp.StatusCode, Body: string(body)}
}
