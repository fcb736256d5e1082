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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Differences found (diff --exit-code) or request failed
	CLIExitError    = 2 // Operation failed
)

// exitError carries a non-zero exit code out of a command without an
// error message of its own.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// OutputConfig controls output behavior.
type OutputConfig struct {
	JSON    bool // Output as JSON
	Compact bool // No indentation
}

// CommandResult wraps command output with metadata.
type CommandResult struct {
	APIVersion string    `json:"api_version"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// OutputJSON writes data as JSON to w.
func OutputJSON(w io.Writer, data any, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// writeResult wraps data in a CommandResult and writes it as JSON.
func writeResult(w io.Writer, cfg OutputConfig, cmd string, start time.Time, data any) error {
	return OutputJSON(w, CommandResult{
		APIVersion: "1.0",
		Command:    cmd,
		Timestamp:  time.Now().UTC(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    true,
		Data:       data,
	}, cfg.Compact)
}

var changeSymbols = map[datatypes.ChangeType]string{
	datatypes.ChangeAdded:    "A",
	datatypes.ChangeDeleted:  "D",
	datatypes.ChangeModified: "M",
}

// writeDiffSummary prints one line per file and a totals line. With lines
// set, each added or removed line follows its file.
func writeDiffSummary(w io.Writer, res *datatypes.GitDiffResult, lines bool) error {
	fmt.Fprintf(w, "%s -> %s\n", res.TargetBranch, res.SourceBranch)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, fd := range res.FileDiffs {
		stats := fmt.Sprintf("+%d -%d", fd.Additions, fd.Deletions)
		if fd.Binary {
			stats = "binary"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", changeSymbols[fd.ChangeType], fd.FilePath, stats)
		if lines {
			for _, lc := range fd.LineChanges {
				sign := "+"
				if lc.Type == datatypes.LineDeletion {
					sign = "-"
				}
				fmt.Fprintf(tw, "\t%5d %s %s\n", lc.LineNumber, sign, lc.Content)
			}
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d files changed, %d insertions(+), %d deletions(-), %d modified\n",
		len(res.FileDiffs), res.TotalAdditions, res.TotalDeletions, res.TotalModifications)
	return err
}

// writeRequest prints the lifecycle fields of a request.
func writeRequest(w io.Writer, req *datatypes.ComparisonRequest) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", req.RequestID)
	fmt.Fprintf(tw, "status:\t%s\n", req.Status)
	fmt.Fprintf(tw, "repository:\t%s\n", req.RepositoryPath)
	if req.ResolvedSource != "" {
		fmt.Fprintf(tw, "compared:\t%s -> %s\n", req.ResolvedTarget, req.ResolvedSource)
	} else {
		fmt.Fprintf(tw, "branches:\t%s -> %s\n", orDefault(req.TargetBranch), orDefault(req.SourceBranch))
	}
	fmt.Fprintf(tw, "created:\t%s\n", req.CreatedAt.Format(time.RFC3339))
	if req.CompletedAt != nil {
		fmt.Fprintf(tw, "finished:\t%s\n", req.CompletedAt.Format(time.RFC3339))
	}
	if req.ErrorMessage != "" {
		fmt.Fprintf(tw, "error:\t%s\n", req.ErrorMessage)
	}
	return tw.Flush()
}

func orDefault(branch string) string {
	if branch == "" {
		return "(default)"
	}
	return branch
}
