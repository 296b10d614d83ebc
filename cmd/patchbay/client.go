package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/api"
	"github.com/nerrad567/gray-logic-patchbay/internal/audit"
	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
	"github.com/nerrad567/gray-logic-patchbay/internal/reconciler"
)

const clientTimeout = 10 * time.Second

// apiClient calls a running daemon's /api/v1 routes.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		token:   token,
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// apiError is a non-2xx response decoded from the server's error body.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %s: %s", e.Code, e.Message)
}

func (c *apiClient) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	var snap graph.Snapshot
	err := c.do(ctx, http.MethodGet, "/graph", nil, &snap)
	return snap, err
}

func (c *apiClient) Stats(ctx context.Context) (reconciler.Stats, error) {
	var stats reconciler.Stats
	err := c.do(ctx, http.MethodGet, "/graph/stats", nil, &stats)
	return stats, err
}

func (c *apiClient) Connect(ctx context.Context, source, destination string) error {
	return c.do(ctx, http.MethodPost, "/connections", api.ConnectionRequest{Source: source, Destination: destination}, nil)
}

func (c *apiClient) Disconnect(ctx context.Context, source, destination string) error {
	return c.do(ctx, http.MethodDelete, "/connections", api.ConnectionRequest{Source: source, Destination: destination}, nil)
}

func (c *apiClient) Resync(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/resync", nil, nil)
}

func (c *apiClient) ListAudit(ctx context.Context, filter audit.Filter) (*audit.ListResult, error) {
	q := url.Values{}
	if filter.Action != "" {
		q.Set("action", string(filter.Action))
	}
	if filter.Subject != "" {
		q.Set("subject", filter.Subject)
	}
	if filter.Outcome != "" {
		q.Set("outcome", string(filter.Outcome))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result audit.ListResult
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		var decoded api.Error
		if json.NewDecoder(resp.Body).Decode(&decoded) == nil {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func wrapDialError(err error, baseURL string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; start it with `patchbay serve`", baseURL)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
