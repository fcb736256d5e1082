// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intake turns comparison.requested events into Pending records.
//
// # Description
//
// The Handler validates each RequestedEvent, settles its request id, writes
// a Pending ComparisonRequest and enqueues the id for the worker. It is the
// only writer of new request records.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/branchdiff/services/comparison/bus"
	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
	"github.com/AleutianAI/branchdiff/services/comparison/store"
)

// ErrInvalidRequest wraps every validation failure.
var ErrInvalidRequest = errors.New("invalid comparison request")

// Enqueuer accepts request ids for processing. *pipeline.Queue satisfies it.
type Enqueuer interface {
	Enqueue(id string)
}

// requestValidate is shared by all handlers. Initialized in init() with the
// custom refname rule.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("refname", validateRefName)
}

// validateRefName accepts names git could plausibly resolve as a branch and
// rejects anything that would be parsed as a command-line option.
func validateRefName(fl validator.FieldLevel) bool {
	return ValidRefName(fl.Field().String())
}

// ValidRefName applies the subset of git check-ref-format rules that matter
// when the name is passed as an argument to git.
func ValidRefName(name string) bool {
	if name == "" || strings.HasPrefix(name, "-") || name == "@" {
		return false
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") || strings.HasSuffix(name, ".lock") {
		return false
	}
	if strings.Contains(name, "..") || strings.Contains(name, "@{") || strings.Contains(name, "//") {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(" ~^:?*[\\", r) {
			return false
		}
	}
	return true
}

// Handler records comparison requests.
//
// # Thread Safety
//
// Safe for concurrent use.
type Handler struct {
	requests store.RequestStore
	queue    Enqueuer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates a handler writing to requests and enqueuing to queue.
func NewHandler(requests store.RequestStore, queue Enqueuer, opts ...Option) *Handler {
	h := &Handler{
		requests: requests,
		queue:    queue,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Validate checks ev against its field rules.
//
// # Outputs
//
//   - error: Wraps ErrInvalidRequest and names the failing fields.
func Validate(ev *bus.RequestedEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: empty event", ErrInvalidRequest)
	}
	if err := requestValidate.Struct(ev); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// HandleRequested records ev as a Pending request and enqueues it.
//
// # Description
//
// The caller's RequestID is kept when it is present and unused. An empty id,
// or one that already names a record, gets a fresh UUID.
//
// # Outputs
//
//   - string: The request id actually recorded.
//   - error: ErrInvalidRequest for bad input, or a store failure.
func (h *Handler) HandleRequested(ctx context.Context, ev *bus.RequestedEvent) (string, error) {
	if err := Validate(ev); err != nil {
		h.logger.Warn("rejecting comparison request", slog.String("error", err.Error()))
		return "", err
	}

	req := &datatypes.ComparisonRequest{
		RequestID:      ev.RequestID,
		RepositoryPath: ev.RepositoryPath,
		SourceBranch:   ev.SourceBranch,
		TargetBranch:   ev.TargetBranch,
		RequestedBy:    ev.RequestedBy,
		Status:         datatypes.StatusPending,
		CreatedAt:      h.now().UTC(),
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	err := h.requests.Create(ctx, req)
	if errors.Is(err, datatypes.ErrAlreadyExists) {
		h.logger.Warn("request id already in use, allocating a new one",
			slog.String("request_id", req.RequestID))
		req.RequestID = uuid.NewString()
		err = h.requests.Create(ctx, req)
	}
	if err != nil {
		return "", fmt.Errorf("record request: %w", err)
	}

	h.queue.Enqueue(req.RequestID)
	h.logger.Info("comparison request accepted",
		slog.String("request_id", req.RequestID),
		slog.String("repository", req.RepositoryPath),
		slog.String("source", req.SourceBranch),
		slog.String("target", req.TargetBranch),
		slog.String("requested_by", req.RequestedBy))
	return req.RequestID, nil
}

// Register subscribes the handler to comparison.requested on sub.
func (h *Handler) Register(sub bus.Subscriber) error {
	return sub.Subscribe(bus.TypeRequested, bus.Typed(func(ctx context.Context, ev *bus.RequestedEvent) error {
		_, err := h.HandleRequested(ctx, ev)
		return err
	}))
}
