// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the comparison service over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/branchdiff/services/comparison"
	"github.com/AleutianAI/branchdiff/services/comparison/bus"
	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
	"github.com/AleutianAI/branchdiff/services/comparison/intake"
)

// Backend is the part of the comparison service the handlers use.
// *comparison.Service satisfies it.
type Backend interface {
	Submit(ctx context.Context, req *bus.RequestedEvent) (string, error)
	GetRequest(ctx context.Context, id string) (*datatypes.ComparisonRequest, error)
	ListRequests(ctx context.Context, statuses ...datatypes.Status) ([]*datatypes.ComparisonRequest, error)
	GetResult(ctx context.Context, id string) (*datatypes.GitDiffResult, error)
	RecentEvents(messageType string) []bus.Message
	Health() comparison.Health
}

// Handlers serves the /v1 endpoints.
type Handlers struct {
	backend Backend
	logger  *slog.Logger
}

// NewHandlers creates handlers over backend.
func NewHandlers(backend Backend, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{backend: backend, logger: logger}
}

// HandleSubmit handles POST /v1/comparisons.
//
// Response:
//
//	202 Accepted: SubmitResponse
//	400 Bad Request: malformed body or invalid field
//	500 Internal Server Error: storage failure
func (h *Handlers) HandleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	id, err := h.backend.Submit(c.Request.Context(), req.event())
	if err != nil {
		if errors.Is(err, intake.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
			return
		}
		h.logger.Error("submit comparison", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SUBMIT_FAILED"})
		return
	}

	c.Header("Location", "/v1/comparisons/"+id)
	c.JSON(http.StatusAccepted, SubmitResponse{
		RequestID: id,
		Status:    datatypes.StatusPending,
		StatusURL: "/v1/comparisons/" + id,
		ResultURL: "/v1/comparisons/" + id + "/result",
	})
}

// HandleList handles GET /v1/comparisons?status=pending,failed.
func (h *Handlers) HandleList(c *gin.Context) {
	var statuses []datatypes.Status
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := datatypes.Status(strings.TrimSpace(s))
			switch status {
			case datatypes.StatusPending, datatypes.StatusProcessing, datatypes.StatusCompleted, datatypes.StatusFailed:
				statuses = append(statuses, status)
			default:
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown status " + string(status), Code: "INVALID_STATUS"})
				return
			}
		}
	}

	reqs, err := h.backend.ListRequests(c.Request.Context(), statuses...)
	if err != nil {
		h.fail(c, err)
		return
	}
	if reqs == nil {
		reqs = []*datatypes.ComparisonRequest{}
	}
	c.JSON(http.StatusOK, ListResponse{Requests: reqs, Count: len(reqs)})
}

// HandleGet handles GET /v1/comparisons/:id.
func (h *Handlers) HandleGet(c *gin.Context) {
	req, err := h.backend.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// HandleResult handles GET /v1/comparisons/:id/result.
//
// Response:
//
//	200 OK: GitDiffResult
//	404 Not Found: unknown id
//	409 Conflict: request not Completed; body carries the current status
func (h *Handlers) HandleResult(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	res, err := h.backend.GetResult(ctx, id)
	if errors.Is(err, datatypes.ErrResultNotReady) {
		resp := ErrorResponse{Error: err.Error(), Code: "NOT_READY"}
		if req, gerr := h.backend.GetRequest(ctx, id); gerr == nil {
			resp.Status = req.Status
		}
		c.JSON(http.StatusConflict, resp)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleEvents handles GET /v1/events?type=comparison.failed. Empty for the
// UDP transport.
func (h *Handlers) HandleEvents(c *gin.Context) {
	messageType := c.Query("type")
	if messageType != "" && !bus.KnownType(messageType) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown event type " + messageType, Code: "INVALID_TYPE"})
		return
	}
	msgs := h.backend.RecentEvents(messageType)
	out := make([]EventResponse, 0, len(msgs))
	for _, m := range msgs {
		ev := EventResponse{ID: m.ID, Type: m.Type, Timestamp: m.Timestamp}
		if decoded, err := bus.DecodeEvent(m); err == nil {
			ev.Event = decoded
		}
		out = append(out, ev)
	}
	c.JSON(http.StatusOK, out)
}

// HandleHealth handles GET /v1/health. 503 unless the worker is running.
func (h *Handlers) HandleHealth(c *gin.Context) {
	health := h.backend.Health()
	code := http.StatusOK
	if health.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

func (h *Handlers) fail(c *gin.Context, err error) {
	if errors.Is(err, datatypes.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	h.logger.Error("request failed",
		slog.String("path", c.FullPath()),
		slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL"})
}
