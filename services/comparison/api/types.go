// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"time"

	"github.com/AleutianAI/branchdiff/services/comparison/bus"
	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// SubmitRequest is the body of POST /v1/comparisons.
type SubmitRequest struct {
	// RepositoryPath is the working tree on the service host. Required.
	RepositoryPath string `json:"repository_path" binding:"required"`

	// SourceBranch defaults to the checked-out branch.
	SourceBranch string `json:"source_branch,omitempty"`

	// TargetBranch defaults to the first existing default branch.
	TargetBranch string `json:"target_branch,omitempty"`

	RequestedBy string `json:"requested_by,omitempty"`

	// RequestID lets a caller pick the id (UUID). Optional.
	RequestID string `json:"request_id,omitempty"`
}

func (r SubmitRequest) event() *bus.RequestedEvent {
	return &bus.RequestedEvent{
		RequestID:      r.RequestID,
		RepositoryPath: r.RepositoryPath,
		SourceBranch:   r.SourceBranch,
		TargetBranch:   r.TargetBranch,
		RequestedBy:    r.RequestedBy,
	}
}

// SubmitResponse is returned with 202 Accepted.
type SubmitResponse struct {
	RequestID string           `json:"request_id"`
	Status    datatypes.Status `json:"status"`
	StatusURL string           `json:"status_url"`
	ResultURL string           `json:"result_url"`
}

// ListResponse is returned by GET /v1/comparisons.
type ListResponse struct {
	Requests []*datatypes.ComparisonRequest `json:"requests"`
	Count    int                            `json:"count"`
}

// EventResponse is one message from the local bus history.
type EventResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Event     bus.Event `json:"event,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Status is the request status for NOT_READY errors.
	Status datatypes.Status `json:"status,omitempty"`
}
