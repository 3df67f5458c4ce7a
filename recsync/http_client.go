// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody caps how much of an error response is kept for messages
const maxErrorBody = 4 << 10

// HTTPClient talks to the sync backend. It implements ChangeFeed and UploadTransport.
type HTTPClient struct {
	BaseURL  string
	DeviceID string
	Token    TokenFunc
	HTTP     *http.Client
	logger   *slog.Logger
}

// HTTPClientOption customizes an HTTPClient
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(hc *http.Client) HTTPClientOption {
	return func(c *HTTPClient) { c.HTTP = hc }
}

// WithHTTPLogger sets the client logger
func WithHTTPLogger(logger *slog.Logger) HTTPClientOption {
	return func(c *HTTPClient) { c.logger = logger }
}

// NewHTTPClient creates a backend client
func NewHTTPClient(baseURL, deviceID string, tok TokenFunc, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		DeviceID: deviceID,
		Token:    tok,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	_ ChangeFeed      = (*HTTPClient)(nil)
	_ UploadTransport = (*HTTPClient)(nil)
)

// FetchChanges sends GET /v1/sync/changes. Items that fail validation are
// logged and dropped; the page itself still succeeds.
func (c *HTTPClient) FetchChanges(ctx context.Context, cursor string, limit int) (*ChangePage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("since", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := c.BaseURL + "/v1/sync/changes"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var resp ChangesResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	page := DecodePage(&resp, func(w WireChange, err error) {
		c.logger.Warn("rejected change item", "id", w.ID, "entity_type", w.EntityType, "error", err)
	})
	return &page, nil
}

// RequestUploadTarget sends POST /v1/uploads/target
func (c *HTTPClient) RequestUploadTarget(ctx context.Context, req UploadTargetRequest) (*UploadTarget, error) {
	var target UploadTarget
	if err := c.doJSON(ctx, http.MethodPost, c.BaseURL+"/v1/uploads/target", req, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

// TransferBytes sends the body to the upload target with the headers the
// backend returned. The target URL is pre-authorized, so no bearer token is sent.
func (c *HTTPClient) TransferBytes(ctx context.Context, target *UploadTarget, body io.Reader, sizeBytes int64) error {
	method := target.Method
	if method == "" {
		method = http.MethodPut
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.URL, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if sizeBytes > 0 {
		httpReq.ContentLength = sizeBytes
	}
	for k, v := range target.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorFromStatus(resp.StatusCode, readErrorBody(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// FinalizeUpload sends POST /v1/uploads/finalize
func (c *HTTPClient) FinalizeUpload(ctx context.Context, req FinalizeUploadRequest) error {
	return c.doJSON(ctx, http.MethodPost, c.BaseURL+"/v1/uploads/finalize", req, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	token, err := c.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get JWT token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if c.DeviceID != "" {
		httpReq.Header.Set("X-Device-ID", c.DeviceID)
	}
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorFromStatus(resp.StatusCode, readErrorBody(resp.Body))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// readErrorBody extracts a message from an error response, preferring the
// structured ErrorResponse form
func readErrorBody(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var er ErrorResponse
	if json.Unmarshal(raw, &er) == nil {
		if er.Message != "" {
			return er.Message
		}
		if er.Error != "" {
			return er.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
