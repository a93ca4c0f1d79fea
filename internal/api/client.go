package api

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

// StateInfo is the client view of the engine state.
type StateInfo struct {
	State  string    `json:"state"`
	Error  string    `json:"error,omitempty"`
	Device string    `json:"device,omitempty"`
	Since  time.Time `json:"since"`
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Client talks to a running monitor's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API listening at addr (host:port or URL).
func NewClient(addr string, timeout time.Duration) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/") + "/api/v1",
		http: &http.Client{Timeout: timeout},
	}
}

// State returns the engine state.
func (c *Client) State(ctx context.Context) (StateInfo, error) {
	var st StateInfo
	err := c.do(ctx, http.MethodGet, "/state", nil, &st)
	return st, err
}

// Start starts a capture. overrides replace configured capture and
// aggregation settings; nil keeps them all.
func (c *Client) Start(ctx context.Context, overrides map[string]any) (StateInfo, error) {
	var st StateInfo
	if overrides == nil {
		overrides = map[string]any{}
	}
	err := c.do(ctx, http.MethodPost, "/capture/start", overrides, &st)
	return st, err
}

// Stop stops the running capture.
func (c *Client) Stop(ctx context.Context) (StateInfo, error) {
	var st StateInfo
	err := c.do(ctx, http.MethodPost, "/capture/stop", nil, &st)
	return st, err
}

// SetFilter replaces the capture filter of the running session.
func (c *Client) SetFilter(ctx context.Context, expr string) error {
	return c.do(ctx, http.MethodPut, "/capture/filter", filterRequest{Filter: expr}, nil)
}

// Diagnostics returns the raw diagnostics document.
func (c *Client) Diagnostics(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/diagnostics", nil, &raw)
	return raw, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach monitor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
