package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"apiremote/internal/types"
)

// RemoteClient drives a running API Remote instance over its HTTP API
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
}

// SendResult is the decoded body of /api/send
type SendResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Response   string `json:"response"`
	Error      string `json:"error"`
}

func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send asks the instance to perform an outbound call. A failure response is
// returned as an error carrying the server's message.
func (c *RemoteClient) Send(ctx context.Context, req types.SendRequest) (*SendResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/send", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if !result.Success {
		if result.Error == "" {
			result.Error = resp.Status
		}
		return &result, errors.New(result.Error)
	}
	return &result, nil
}

// Logs returns the instance's dashboard log
func (c *RemoteClient) Logs(ctx context.Context) ([]string, error) {
	var body struct {
		Logs []string `json:"logs"`
	}
	if err := c.getJSON(ctx, "/api/logs", &body); err != nil {
		return nil, err
	}
	return body.Logs, nil
}

// Events searches the instance's event index
func (c *RemoteClient) Events(ctx context.Context, query types.EventQuery) ([]*types.DetailedEntry, error) {
	params := url.Values{}
	if query.Text != "" {
		params.Set("text", query.Text)
	}
	if query.Level != "" {
		params.Set("level", string(query.Level))
	}
	if query.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", query.Limit))
	}

	path := "/api/events"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var body struct {
		Success bool                   `json:"success"`
		Data    []*types.DetailedEntry `json:"data"`
		Error   string                 `json:"error"`
	}
	if err := c.getJSON(ctx, path, &body); err != nil {
		return nil, err
	}
	if !body.Success {
		return nil, errors.New(body.Error)
	}
	return body.Data, nil
}

func (c *RemoteClient) getJSON(ctx context.Context, path string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode %s (status %d): %w", path, resp.StatusCode, err)
	}
	return nil
}

// logFollower reports dashboard lines not seen in earlier polls
type logFollower struct {
	seen map[string]bool
}

func newLogFollower() *logFollower {
	return &logFollower{seen: make(map[string]bool)}
}

// next returns the lines of the latest poll that are new, in order
func (f *logFollower) next(lines []string) []string {
	var fresh []string
	current := make(map[string]bool, len(lines))
	for _, line := range lines {
		current[line] = true
		if !f.seen[line] {
			fresh = append(fresh, line)
		}
	}
	// Lines evicted from the dashboard can no longer repeat
	f.seen = current
	return fresh
}
