// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the shared model of the branch comparison service.
//
// # Description
//
// Every other comparison package depends on these types: the ignore engine
// produces IgnoreRule values, the diff engine produces GitDiffResult values,
// and the pipeline drives ComparisonRequest through its state machine.
//
// # Thread Safety
//
// Values are plain data. A ComparisonRequest is mutated only by the pipeline
// worker; readers receive copies from the store.
package datatypes

import (
	"fmt"
	"slices"
	"time"
)

// =============================================================================
// Ignore Rules
// =============================================================================

// IgnoreRule is one parsed line of an ignore file.
type IgnoreRule struct {
	// Pattern is the glob with any leading "!" and trailing "/" removed.
	Pattern string `json:"pattern"`

	// IsNegation is true when the line started with "!".
	IsNegation bool `json:"is_negation"`

	// IsDirectoryOnly is true when the line ended with "/".
	IsDirectoryOnly bool `json:"is_directory_only"`

	// SourceFile is the ignore file the rule was read from.
	SourceFile string `json:"source_file"`

	// Base is the slash-separated directory of SourceFile relative to the
	// repository root. Empty for the root ignore file.
	Base string `json:"base,omitempty"`
}

// =============================================================================
// Comparison Requests
// =============================================================================

// Status is the lifecycle state of a ComparisonRequest.
type Status string

const (
	// StatusPending means the request is recorded and waiting in the queue.
	StatusPending Status = "pending"

	// StatusProcessing means the worker has picked the request up.
	StatusProcessing Status = "processing"

	// StatusCompleted is terminal: a GitDiffResult exists for the request.
	StatusCompleted Status = "completed"

	// StatusFailed is terminal: ErrorMessage carries the failure text.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether no transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is a legal state machine edge.
//
// The only edges are Pending -> Processing, Processing -> Completed and
// Processing -> Failed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// ComparisonRequest tracks one asynchronous branch comparison.
type ComparisonRequest struct {
	RequestID      string     `json:"request_id"`
	RepositoryPath string     `json:"repository_path"`
	SourceBranch   string     `json:"source_branch"`
	TargetBranch   string     `json:"target_branch"`
	RequestedBy    string     `json:"requested_by"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`

	// ResolvedSource and ResolvedTarget hold the branch names actually
	// compared once defaulting has run. Empty until Completed.
	ResolvedSource string `json:"resolved_source,omitempty"`
	ResolvedTarget string `json:"resolved_target,omitempty"`
}

// Transition moves the request to next, stamping the relevant timestamp.
//
// # Inputs
//
//   - next: Target status.
//   - now: Time used for StartedAt or CompletedAt.
//   - errMsg: Failure text, recorded only when next is StatusFailed.
//
// # Outputs
//
//   - error: Wraps ErrInvalidTransition when the edge is not allowed.
func (r *ComparisonRequest) Transition(next Status, now time.Time, errMsg string) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("request %s: %s -> %s: %w", r.RequestID, r.Status, next, ErrInvalidTransition)
	}
	r.Status = next
	switch next {
	case StatusProcessing:
		t := now
		r.StartedAt = &t
	case StatusCompleted:
		t := now
		r.CompletedAt = &t
	case StatusFailed:
		t := now
		r.CompletedAt = &t
		r.ErrorMessage = errMsg
	}
	return nil
}

// Clone returns a deep copy so store callers never share pointers.
func (r *ComparisonRequest) Clone() *ComparisonRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// =============================================================================
// Diff Model
// =============================================================================

// ChangeType classifies a changed file.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeDeleted  ChangeType = "deleted"
	ChangeModified ChangeType = "modified"
)

// ClassifyChange derives a ChangeType from numstat counts.
//
// Added when only additions exist, Deleted when only deletions exist,
// Modified otherwise (including 0/0, which covers binary and mode-only changes).
func ClassifyChange(additions, deletions int) ChangeType {
	switch {
	case deletions == 0 && additions > 0:
		return ChangeAdded
	case additions == 0 && deletions > 0:
		return ChangeDeleted
	default:
		return ChangeModified
	}
}

// LineType classifies one line of a hunk.
type LineType string

const (
	LineAddition LineType = "addition"
	LineDeletion LineType = "deletion"
	LineContext  LineType = "context"
)

// LineDiff is one added or removed line.
//
// LineNumber is the new-file line counter at the time the line was seen.
// Deletions do not occupy new-file lines, so a deletion reports the number
// the next new-file line will receive.
type LineDiff struct {
	LineNumber int      `json:"line_number"`
	Content    string   `json:"content"`
	Type       LineType `json:"type"`
}

// FileDiff is the per-file part of a GitDiffResult.
type FileDiff struct {
	FilePath    string     `json:"file_path"`
	ChangeType  ChangeType `json:"change_type"`
	Additions   int        `json:"additions"`
	Deletions   int        `json:"deletions"`
	Binary      bool       `json:"binary,omitempty"`
	LineChanges []LineDiff `json:"line_changes"`
}

// GitDiffResult is the stored outcome of a completed comparison.
type GitDiffResult struct {
	RequestID          string     `json:"request_id"`
	SourceBranch       string     `json:"source_branch"`
	TargetBranch       string     `json:"target_branch"`
	FileDiffs          []FileDiff `json:"file_diffs"`
	TotalAdditions     int        `json:"total_additions"`
	TotalDeletions     int        `json:"total_deletions"`
	TotalModifications int        `json:"total_modifications"`
	GeneratedAt        time.Time  `json:"generated_at"`
}

// Aggregate recomputes the totals from FileDiffs.
func (r *GitDiffResult) Aggregate() {
	r.TotalAdditions = 0
	r.TotalDeletions = 0
	r.TotalModifications = 0
	for _, fd := range r.FileDiffs {
		r.TotalAdditions += fd.Additions
		r.TotalDeletions += fd.Deletions
		if fd.ChangeType == ChangeModified {
			r.TotalModifications++
		}
	}
}

// Clone returns a deep copy of the result.
func (r *GitDiffResult) Clone() *GitDiffResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.FileDiffs != nil {
		c.FileDiffs = make([]FileDiff, len(r.FileDiffs))
		for i, fd := range r.FileDiffs {
			c.FileDiffs[i] = fd
			c.FileDiffs[i].LineChanges = slices.Clone(fd.LineChanges)
		}
	}
	return &c
}
