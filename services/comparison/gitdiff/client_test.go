// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitdiff

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
	"github.com/AleutianAI/branchdiff/services/comparison/internal/gittest"
)

func newTestClient() *Client {
	return NewClient(NewRunner("", 0))
}

func TestClient_Queries(t *testing.T) {
	repo := gittest.NewDevRepo(t)
	c := newTestClient()
	ctx := context.Background()

	require.NoError(t, c.IsWorkTree(ctx, repo.Dir))

	branch, err := c.CurrentBranch(ctx, repo.Dir)
	require.NoError(t, err)
	assert.Equal(t, "dev", branch)

	ok, err := c.RefExists(ctx, repo.Dir, "main")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.RefExists(ctx, repo.Dir, "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.RefExists(ctx, repo.Dir, "--all")
	require.NoError(t, err)
	assert.False(t, ok)

	branches, err := c.ListBranches(ctx, repo.Dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dev", "main"}, branches)

	files, err := c.ListFiles(ctx, repo.Dir, "dev")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"README.md", "a.txt"}, files)
}

func TestClient_NotAWorkTree(t *testing.T) {
	gittest.RequireGit(t)
	err := newTestClient().IsWorkTree(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestRunner_NonZeroExit(t *testing.T) {
	repo := gittest.NewDevRepo(t)
	_, err := NewRunner("", 0).Run(context.Background(), repo.Dir, "diff", "no-such-ref", "dev", "--")

	var cmdErr *datatypes.CommandExecutionError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 128, cmdErr.ExitCode)
	assert.NotEmpty(t, cmdErr.Stderr)
	assert.Equal(t, []string{"diff", "no-such-ref", "dev", "--"}, cmdErr.Args)
}

func TestRunner_MissingBinary(t *testing.T) {
	_, err := NewRunner("git-binary-that-does-not-exist", 0).Run(context.Background(), t.TempDir(), "status")
	var cmdErr *datatypes.CommandExecutionError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, -1, cmdErr.ExitCode)
}

func TestRunner_Cancelled(t *testing.T) {
	repo := gittest.NewDevRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner("", 0).Run(ctx, repo.Dir, "status")
	require.ErrorIs(t, err, context.Canceled)
}

// TestRunner_LargeOutput produces a diff far beyond the OS pipe buffer.
func TestRunner_LargeOutput(t *testing.T) {
	repo := gittest.NewDevRepo(t)
	var b strings.Builder
	for i := range 50000 {
		fmt.Fprintf(&b, "line %d of a large generated file\n", i)
	}
	repo.Write("big.txt", b.String())
	repo.Commit("big file")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out, err := newTestClient().UnifiedDiff(ctx, repo.Dir, "main", "dev")
	require.NoError(t, err)
	assert.Greater(t, len(out), 1<<20)
}

// =============================================================================
// Engine against a real repository
// =============================================================================

func TestEngine_EndToEnd(t *testing.T) {
	repo := gittest.NewDevRepo(t)

	result, err := NewEngine(newTestClient()).GenerateDiff(context.Background(), repo.Dir, "", "")
	require.NoError(t, err)

	assert.Equal(t, "dev", result.SourceBranch)
	assert.Equal(t, "main", result.TargetBranch)
	require.Len(t, result.FileDiffs, 1)

	fd := result.FileDiffs[0]
	assert.Equal(t, "a.txt", fd.FilePath)
	assert.Equal(t, datatypes.ChangeAdded, fd.ChangeType)
	assert.Equal(t, 5, fd.Additions)
	require.Len(t, fd.LineChanges, 5)
	for i, lc := range fd.LineChanges {
		assert.Equal(t, i+1, lc.LineNumber)
		assert.Equal(t, datatypes.LineAddition, lc.Type)
	}
	assert.Equal(t, 5, result.TotalAdditions)
	assert.Equal(t, 0, result.TotalDeletions)
}

func TestEngine_IgnoredAndModifiedFiles(t *testing.T) {
	repo := gittest.New(t, "master")
	repo.Write("keep.txt", "a\nb\nc\n")
	repo.Write("logs/app.log", "old\n")
	repo.Commit("init")

	repo.Checkout("feature", true)
	repo.Write("keep.txt", "a\nB\nc\n")
	repo.Write("logs/app.log", "new\n")
	repo.Write(".gitignore", "logs/\n")
	repo.Commit("changes")

	result, err := NewEngine(newTestClient()).GenerateDiff(context.Background(), repo.Dir, "feature", "")
	require.NoError(t, err)
	assert.Equal(t, "master", result.TargetBranch)

	got := byPath(result.FileDiffs)
	assert.NotContains(t, got, "logs/app.log")
	require.Contains(t, got, "keep.txt")
	require.Contains(t, got, ".gitignore")

	keep := got["keep.txt"]
	assert.Equal(t, datatypes.ChangeModified, keep.ChangeType)
	require.Len(t, keep.LineChanges, 2)
	assert.Equal(t, datatypes.LineDiff{LineNumber: 2, Content: "b", Type: datatypes.LineDeletion}, keep.LineChanges[0])
	assert.Equal(t, datatypes.LineDiff{LineNumber: 2, Content: "B", Type: datatypes.LineAddition}, keep.LineChanges[1])
	assert.Equal(t, 1, result.TotalModifications)
}

func TestEngine_UnknownBranch(t *testing.T) {
	repo := gittest.NewDevRepo(t)
	_, err := NewEngine(newTestClient()).GenerateDiff(context.Background(), repo.Dir, "ghost", "main")
	var repoErr *datatypes.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, "ghost", repoErr.Ref)
}
