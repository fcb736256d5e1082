// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists comparison requests and their results.
//
// # Description
//
// Two implementations share one contract: Memory for single-process runs
// and tests, Badger for durable deployments. Both hand out copies, so a
// caller mutating a returned value never affects stored state. Each write
// is atomic per key.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// RequestStore holds ComparisonRequest records keyed by RequestID.
type RequestStore interface {
	// Create inserts a new record. ErrAlreadyExists when the id is taken.
	Create(ctx context.Context, req *datatypes.ComparisonRequest) error

	// Get returns a copy of the record. ErrNotFound when absent.
	Get(ctx context.Context, id string) (*datatypes.ComparisonRequest, error)

	// Update replaces an existing record. ErrNotFound when absent,
	// ErrInvalidTransition when the status change is not a legal edge.
	Update(ctx context.Context, req *datatypes.ComparisonRequest) error

	// List returns records in CreatedAt order, restricted to the given
	// statuses when any are passed.
	List(ctx context.Context, statuses ...datatypes.Status) ([]*datatypes.ComparisonRequest, error)
}

// ResultStore holds one GitDiffResult per completed request.
type ResultStore interface {
	// Put stores the result under its RequestID. ErrAlreadyExists when a
	// result is already stored for that id.
	Put(ctx context.Context, result *datatypes.GitDiffResult) error

	// Get returns a copy of the result. ErrNotFound when absent.
	Get(ctx context.Context, requestID string) (*datatypes.GitDiffResult, error)
}

// checkUpdate validates replacing stored with next.
func checkUpdate(stored, next *datatypes.ComparisonRequest) error {
	if stored.Status == next.Status {
		if stored.Status.IsTerminal() {
			return fmt.Errorf("request %s is %s: %w", next.RequestID, stored.Status, datatypes.ErrInvalidTransition)
		}
		return nil
	}
	if !stored.Status.CanTransitionTo(next.Status) {
		return fmt.Errorf("request %s %s -> %s: %w", next.RequestID, stored.Status, next.Status, datatypes.ErrInvalidTransition)
	}
	return nil
}

func validateRequest(req *datatypes.ComparisonRequest) error {
	if req == nil || req.RequestID == "" {
		return errors.New("request id is required")
	}
	return nil
}

func wantStatus(statuses []datatypes.Status, s datatypes.Status) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s)
}

func sortByCreated(reqs []*datatypes.ComparisonRequest) {
	slices.SortFunc(reqs, func(a, b *datatypes.ComparisonRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RequestID, b.RequestID)
	})
}
