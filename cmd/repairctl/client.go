package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Cal9233/genthrust-repairs/internal/failover"
	"github.com/Cal9233/genthrust-repairs/internal/httpapi"
)

// backendStatus — ответ /api/backend/status с типизированными метриками.
type backendStatus struct {
	ActiveBackend string           `json:"activeBackend"`
	FallbackMode  bool             `json:"fallbackMode"`
	Metrics       failover.Metrics `json:"metrics"`
}

// apiClient — тонкий клиент HTTP фасада сервиса.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) Status(ctx context.Context) (backendStatus, error) {
	var out backendStatus
	_, err := c.do(ctx, http.MethodGet, "/api/backend/status", nil, &out)
	return out, err
}

func (c *apiClient) Reset(ctx context.Context, metrics bool) (backendStatus, error) {
	path := "/api/backend/reset"
	if metrics {
		path += "?metrics=true"
	}
	var out backendStatus
	_, err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

func (c *apiClient) SetRetryInterval(ctx context.Context, interval time.Duration) (backendStatus, error) {
	var out backendStatus
	_, err := c.do(ctx, http.MethodPut, "/api/backend/retry-interval", httpapi.RetryIntervalRequest{Interval: interval.String()}, &out)
	return out, err
}

// List возвращает заказы и бэкенд, который их отдал.
func (c *apiClient) List(ctx context.Context, archiveStatus string) ([]httpapi.RepairOrderDTO, string, error) {
	path := "/api/repair-orders"
	if archiveStatus != "" {
		path += "?" + url.Values{"archiveStatus": {archiveStatus}}.Encode()
	}
	var out []httpapi.RepairOrderDTO
	header, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, header.Get(httpapi.HeaderDataSource), err
}

func (c *apiClient) do(ctx context.Context, method, path string, body, target any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return resp.Header, fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if target == nil {
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return resp.Header, fmt.Errorf("decode response: %w", err)
	}
	return resp.Header, nil
}
