// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/branchdiff/services/comparison/api"
	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// apiError is a non-2xx response from the server.
type apiError struct {
	StatusCode int
	Code       string
	Message    string
	Status     datatypes.Status
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Is maps 404 onto datatypes.ErrNotFound so callers can use errors.Is.
func (e *apiError) Is(target error) bool {
	return target == datatypes.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// apiClient talks to the /v1 endpoints of a running server.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(server string) *apiClient {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return &apiClient{
		baseURL:    strings.TrimRight(server, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) Submit(ctx context.Context, req api.SubmitRequest) (*api.SubmitResponse, error) {
	var resp api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/comparisons", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Get(ctx context.Context, id string) (*datatypes.ComparisonRequest, error) {
	var req datatypes.ComparisonRequest
	if err := c.do(ctx, http.MethodGet, "/v1/comparisons/"+id, nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *apiClient) Result(ctx context.Context, id string) (*datatypes.GitDiffResult, error) {
	var res datatypes.GitDiffResult
	if err := c.do(ctx, http.MethodGet, "/v1/comparisons/"+id+"/result", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) List(ctx context.Context, statuses ...string) (*api.ListResponse, error) {
	path := "/v1/comparisons"
	if len(statuses) > 0 {
		path += "?status=" + strings.Join(statuses, ",")
	}
	var resp api.ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Wait polls id until it reaches a terminal status or ctx ends.
//
// With allowMissing set, 404 keeps polling; a request sent over UDP is not
// recorded until the server reads the datagram.
func (c *apiClient) Wait(ctx context.Context, id string, interval time.Duration, allowMissing bool) (*datatypes.ComparisonRequest, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		req, err := c.Get(ctx, id)
		switch {
		case err == nil && req.Status.IsTerminal():
			return req, nil
		case err != nil && !(allowMissing && errors.Is(err, datatypes.ErrNotFound)):
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var errResp api.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Error
			apiErr.Status = errResp.Status
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
