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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

func sampleResult() *datatypes.GitDiffResult {
	res := &datatypes.GitDiffResult{
		RequestID:    "r1",
		SourceBranch: "dev",
		TargetBranch: "main",
		FileDiffs: []datatypes.FileDiff{
			{
				FilePath:   "a.txt",
				ChangeType: datatypes.ChangeAdded,
				Additions:  2,
				LineChanges: []datatypes.LineDiff{
					{LineNumber: 1, Content: "one", Type: datatypes.LineAddition},
					{LineNumber: 2, Content: "two", Type: datatypes.LineAddition},
				},
			},
			{FilePath: "old.txt", ChangeType: datatypes.ChangeDeleted, Deletions: 3},
			{FilePath: "logo.png", ChangeType: datatypes.ChangeModified, Binary: true},
		},
	}
	res.Aggregate()
	return res
}

func TestOutputJSON(t *testing.T) {
	data := map[string]int{"count": 3}

	var indented bytes.Buffer
	require.NoError(t, OutputJSON(&indented, data, false))
	assert.Contains(t, indented.String(), "\n  \"count\": 3")

	var compact bytes.Buffer
	require.NoError(t, OutputJSON(&compact, data, true))
	assert.Equal(t, "{\"count\":3}\n", compact.String())
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	start := time.Now().Add(-50 * time.Millisecond)
	require.NoError(t, writeResult(&buf, OutputConfig{JSON: true}, "diff", start, []string{"main"}))

	var got CommandResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "1.0", got.APIVersion)
	assert.Equal(t, "diff", got.Command)
	assert.True(t, got.Success)
	assert.GreaterOrEqual(t, got.DurationMs, int64(50))
	assert.Equal(t, []any{"main"}, got.Data)
}

func TestWriteDiffSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDiffSummary(&buf, sampleResult(), false))
	out := buf.String()

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "main -> dev", lines[0])
	assert.Regexp(t, `^\s+A\s+a\.txt\s+\+2 -0$`, lines[1])
	assert.Regexp(t, `^\s+D\s+old\.txt\s+\+0 -3$`, lines[2])
	assert.Regexp(t, `^\s+M\s+logo\.png\s+binary$`, lines[3])
	assert.Equal(t, "3 files changed, 2 insertions(+), 3 deletions(-), 1 modified", lines[4])
	assert.NotContains(t, out, "one")
}

func TestWriteDiffSummary_Lines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDiffSummary(&buf, sampleResult(), true))
	assert.Regexp(t, `1 \+ one`, buf.String())
	assert.Regexp(t, `2 \+ two`, buf.String())
}

func TestWriteRequest(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	req := &datatypes.ComparisonRequest{
		RequestID:      "r1",
		RepositoryPath: "/src/app",
		Status:         datatypes.StatusPending,
		CreatedAt:      created,
	}

	var buf bytes.Buffer
	require.NoError(t, writeRequest(&buf, req))
	out := buf.String()
	assert.Contains(t, out, "pending")
	assert.Regexp(t, `branches:\s+\(default\) -> \(default\)`, out)
	assert.Contains(t, out, "2025-06-01T12:00:00Z")
	assert.NotContains(t, out, "finished:")

	require.NoError(t, req.Transition(datatypes.StatusProcessing, created, ""))
	require.NoError(t, req.Transition(datatypes.StatusFailed, created.Add(time.Second), "boom"))
	buf.Reset()
	require.NoError(t, writeRequest(&buf, req))
	assert.Regexp(t, `error:\s+boom`, buf.String())
	assert.Contains(t, buf.String(), "finished:")
}

func TestExitError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &exitError{code: CLIExitFindings})
	var exit *exitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, CLIExitFindings, exit.code)
	assert.Equal(t, "exit status 1", exit.Error())
}
