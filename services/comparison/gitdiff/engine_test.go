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
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// fakeGit answers from fixed data and records diff invocations.
type fakeGit struct {
	mu sync.Mutex

	current    string
	refs       map[string]bool
	workTree   error
	numstat    []byte
	unified    []byte
	diffErr    error
	diffRanges [][2]string
}

func (f *fakeGit) IsWorkTree(context.Context, string) error { return f.workTree }

func (f *fakeGit) CurrentBranch(context.Context, string) (string, error) {
	if f.current == "" {
		return "", errors.New("no HEAD")
	}
	return f.current, nil
}

func (f *fakeGit) RefExists(_ context.Context, _, ref string) (bool, error) {
	return f.refs[ref], nil
}

func (f *fakeGit) NumStat(_ context.Context, _, target, source string) ([]byte, error) {
	f.mu.Lock()
	f.diffRanges = append(f.diffRanges, [2]string{target, source})
	f.mu.Unlock()
	return f.numstat, f.diffErr
}

func (f *fakeGit) UnifiedDiff(context.Context, string, string, string) ([]byte, error) {
	return f.unified, f.diffErr
}

func newFake(current string, refs ...string) *fakeGit {
	f := &fakeGit{current: current, refs: map[string]bool{}}
	for _, r := range refs {
		f.refs[r] = true
	}
	return f
}

// =============================================================================
// Branch resolution
// =============================================================================

func TestResolveBranches(t *testing.T) {
	tests := []struct {
		name       string
		git        *fakeGit
		source     string
		target     string
		wantSource string
		wantTarget string
		wantErr    bool
	}{
		{
			name:       "defaults from current branch and master",
			git:        newFake("dev", "dev", "master"),
			wantSource: "dev",
			wantTarget: "master",
		},
		{
			name:       "main preferred over master",
			git:        newFake("dev", "dev", "main", "master"),
			wantSource: "dev",
			wantTarget: "main",
		},
		{
			name:       "remote fallback",
			git:        newFake("dev", "dev", "origin/master"),
			wantSource: "dev",
			wantTarget: "origin/master",
		},
		{
			name:       "explicit branches",
			git:        newFake("dev", "feature", "release"),
			source:     "feature",
			target:     "release",
			wantSource: "feature",
			wantTarget: "release",
		},
		{
			name:    "no default target",
			git:     newFake("dev", "dev"),
			wantErr: true,
		},
		{
			name:    "missing named source",
			git:     newFake("dev", "main"),
			source:  "nope",
			wantErr: true,
		},
		{
			name:    "missing named target",
			git:     newFake("dev", "dev"),
			target:  "nope",
			wantErr: true,
		},
		{
			name:    "no current branch",
			git:     newFake("", "main"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.git)
			source, target, err := e.ResolveBranches(context.Background(), "/repo", tt.source, tt.target)
			if tt.wantErr {
				var repoErr *datatypes.RepositoryError
				require.ErrorAs(t, err, &repoErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, source)
			assert.Equal(t, tt.wantTarget, target)
		})
	}
}

func TestResolveBranches_CustomCandidates(t *testing.T) {
	e := NewEngine(newFake("dev", "trunk", "main"), WithTargetCandidates([]string{"trunk"}))
	_, target, err := e.ResolveBranches(context.Background(), "/repo", "", "")
	require.NoError(t, err)
	assert.Equal(t, "trunk", target)
}

// =============================================================================
// GenerateDiff
// =============================================================================

func TestGenerateDiff_RepositoryChecks(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name string
		path string
		git  *fakeGit
	}{
		{"empty path", "", newFake("dev", "main")},
		{"missing path", filepath.Join(t.TempDir(), "missing"), newFake("dev", "main")},
		{"not a directory", file, newFake("dev", "main")},
		{"not a work tree", t.TempDir(), &fakeGit{workTree: &datatypes.CommandExecutionError{ExitCode: 128}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.git).GenerateDiff(context.Background(), tt.path, "", "")
			var cfgErr *datatypes.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestGenerateDiff_GitNotStartable(t *testing.T) {
	startErr := &datatypes.CommandExecutionError{ExitCode: -1, Err: errors.New("executable file not found")}
	git := &fakeGit{workTree: startErr}

	_, err := NewEngine(git).GenerateDiff(context.Background(), t.TempDir(), "", "")
	var cmdErr *datatypes.CommandExecutionError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, -1, cmdErr.ExitCode)
}

func TestGenerateDiff_DiffFailurePropagates(t *testing.T) {
	git := newFake("dev", "dev", "main")
	git.diffErr = &datatypes.CommandExecutionError{Args: []string{"diff"}, ExitCode: 128, Stderr: "fatal: bad revision"}

	_, err := NewEngine(git).GenerateDiff(context.Background(), t.TempDir(), "", "")
	var cmdErr *datatypes.CommandExecutionError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 128, cmdErr.ExitCode)
}

func TestGenerateDiff_ResultShape(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".gitignore"), []byte("*.log\n"), 0o644))

	git := newFake("dev", "dev", "master")
	git.numstat = []byte(sampleNumstat)
	git.unified = []byte(sampleDiff)

	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	e := NewEngine(git, WithClock(func() time.Time { return fixed }))

	result, err := e.GenerateDiff(context.Background(), repo, "", "")
	require.NoError(t, err)

	assert.Equal(t, "dev", result.SourceBranch)
	assert.Equal(t, "master", result.TargetBranch)
	assert.Equal(t, fixed.UTC(), result.GeneratedAt)
	assert.Empty(t, result.RequestID)

	paths := make([]string, 0, len(result.FileDiffs))
	for _, fd := range result.FileDiffs {
		paths = append(paths, fd.FilePath)
	}
	assert.Equal(t, []string{"a.txt", "src/main.go", "image.png", "old.txt"}, paths)
	assert.Equal(t, 6, result.TotalAdditions)
	assert.Equal(t, 3, result.TotalDeletions)

	require.Len(t, git.diffRanges, 1)
	assert.Equal(t, [2]string{"master", "dev"}, git.diffRanges[0], "diff runs target to source")
}

func TestGenerateDiff_CustomIgnoreFile(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".diffignore"), []byte("src/\n"), 0o644))

	git := newFake("dev", "dev", "main")
	git.numstat = []byte(sampleNumstat)
	git.unified = []byte(sampleDiff)

	result, err := NewEngine(git, WithIgnoreFile(".diffignore")).GenerateDiff(context.Background(), repo, "", "")
	require.NoError(t, err)
	for _, fd := range result.FileDiffs {
		assert.NotEqual(t, "src/main.go", fd.FilePath)
	}
	assert.Len(t, result.FileDiffs, 4)
}

func TestGenerateDiff_EmptyDiff(t *testing.T) {
	result, err := NewEngine(newFake("main", "main")).GenerateDiff(context.Background(), t.TempDir(), "", "")
	require.NoError(t, err)
	assert.NotNil(t, result.FileDiffs)
	assert.Empty(t, result.FileDiffs)
	assert.Zero(t, result.TotalAdditions)
}

func TestGenerateDiff_RecordsSpanAndDuration(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	git := newFake("dev", "dev", "main")
	git.numstat = []byte(sampleNumstat)
	git.unified = []byte(sampleDiff)
	e := NewEngine(git, WithTracerProvider(tp), WithMeterProvider(mp))

	_, err := e.GenerateDiff(context.Background(), t.TempDir(), "", "")
	require.NoError(t, err)
	_, err = e.GenerateDiff(context.Background(), t.TempDir(), "ghost", "")
	require.Error(t, err)

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "gitdiff.generate", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	m := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, "branchdiff.gitdiff.duration", m.Name)
	assert.Equal(t, "s", m.Unit)

	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	outcomes := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("outcome")
		outcomes[v.AsString()] = dp.Count
	}
	assert.Equal(t, map[string]uint64{"ok": 1, "error": 1}, outcomes)
}
