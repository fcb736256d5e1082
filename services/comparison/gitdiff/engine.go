// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gitdiff computes structured, ignore-filtered branch diffs.
//
// # Description
//
// The Engine resolves the two branches, asks git for a numstat summary and
// the full unified diff, parses both and drops paths matched by the
// repository's ignore files. git is only ever read from; the checkout is
// never modified.
//
// # Thread Safety
//
// Engine is safe for concurrent use.
package gitdiff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
	"github.com/AleutianAI/branchdiff/services/comparison/ignore"
)

const (
	tracerName = "aleutian.branchdiff.gitdiff"

	durationMetric = "branchdiff.gitdiff.duration"
)

// DefaultTargetCandidates are tried in order when no target branch is given.
var DefaultTargetCandidates = []string{"main", "master", "origin/main", "origin/master"}

// GitClient is the subset of git the Engine depends on.
type GitClient interface {
	IsWorkTree(ctx context.Context, repo string) error
	CurrentBranch(ctx context.Context, repo string) (string, error)
	RefExists(ctx context.Context, repo, ref string) (bool, error)
	NumStat(ctx context.Context, repo, target, source string) ([]byte, error)
	UnifiedDiff(ctx context.Context, repo, target, source string) ([]byte, error)
}

// Engine produces GitDiffResults.
type Engine struct {
	git        GitClient
	ignoreFile string
	candidates []string
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	duration   metric.Float64Histogram
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIgnoreFile sets the ignore file name consulted in each directory.
func WithIgnoreFile(name string) EngineOption {
	return func(e *Engine) {
		if name != "" {
			e.ignoreFile = name
		}
	}
}

// WithTargetCandidates overrides DefaultTargetCandidates.
func WithTargetCandidates(candidates []string) EngineOption {
	return func(e *Engine) {
		if len(candidates) > 0 {
			e.candidates = append([]string(nil), candidates...)
		}
	}
}

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithMeterProvider replaces the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) EngineOption {
	return func(e *Engine) {
		if mp != nil {
			e.meter = mp.Meter(tracerName)
		}
	}
}

// WithClock overrides time.Now for GeneratedAt.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine over git.
func NewEngine(git GitClient, opts ...EngineOption) *Engine {
	e := &Engine{
		git:        git,
		ignoreFile: ignore.DefaultFileName,
		candidates: DefaultTargetCandidates,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		meter:      otel.Meter(tracerName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	duration, err := e.meter.Float64Histogram(durationMetric,
		metric.WithUnit("s"),
		metric.WithDescription("Time to generate one branch diff"),
	)
	if err != nil {
		e.logger.Warn("gitdiff duration histogram disabled", slog.String("error", err.Error()))
		duration = metricnoop.Float64Histogram{}
	}
	e.duration = duration
	return e
}

// GenerateDiff compares sourceBranch against targetBranch in repoPath.
//
// # Description
//
// An empty sourceBranch means the checked-out branch; an empty targetBranch
// means the first existing candidate (main, master, origin/main,
// origin/master by default). The numstat and unified diff queries run
// concurrently. Parse anomalies are logged and never abort the comparison.
//
// # Inputs
//
//   - ctx: Cancels both git subprocesses.
//   - repoPath: Working tree of the repository.
//   - sourceBranch, targetBranch: Branches to compare; may be empty.
//
// # Outputs
//
//   - *datatypes.GitDiffResult: Result with RequestID unset.
//   - error: *ConfigurationError for a bad repoPath, *RepositoryError for an
//     unresolvable branch, *CommandExecutionError for a failing git call.
func (e *Engine) GenerateDiff(ctx context.Context, repoPath, sourceBranch, targetBranch string) (_ *datatypes.GitDiffResult, err error) {
	ctx, span := e.tracer.Start(ctx, "gitdiff.generate",
		trace.WithAttributes(
			attribute.String("git.repository", repoPath),
			attribute.String("git.source", sourceBranch),
			attribute.String("git.target", targetBranch),
		),
	)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.duration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("outcome", outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := e.checkRepository(ctx, repoPath); err != nil {
		return nil, err
	}

	source, target, err := e.ResolveBranches(ctx, repoPath, sourceBranch, targetBranch)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("git.resolved_source", source),
		attribute.String("git.resolved_target", target),
	)

	var numstat, unified []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		numstat, err = e.git.NumStat(gctx, repoPath, target, source)
		return err
	})
	g.Go(func() error {
		var err error
		unified, err = e.git.UnifiedDiff(gctx, repoPath, target, source)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rules := ignore.NewRuleSet(repoPath, e.ignoreFile)
	result, anomalies, err := ParseDiff(numstat, unified, rules.IsIgnored)
	if err != nil {
		return nil, err
	}
	for _, a := range anomalies {
		e.logger.Warn("diff parse anomaly",
			slog.String("repository", repoPath),
			slog.String("error", a.Error()),
		)
	}

	result.SourceBranch = source
	result.TargetBranch = target
	result.GeneratedAt = e.now().UTC()
	span.SetAttributes(
		attribute.Int("diff.files", len(result.FileDiffs)),
		attribute.Int("diff.additions", result.TotalAdditions),
		attribute.Int("diff.deletions", result.TotalDeletions),
	)
	return result, nil
}

// ParseDiff builds a GitDiffResult from raw numstat and unified diff output.
//
// The result is a pure function of its inputs: identical inputs give
// identical results.
func ParseDiff(numstat, unified []byte, ignored IgnoreFunc) (*datatypes.GitDiffResult, []*datatypes.ParseError, error) {
	stats, anomalies := ParseNumstat(numstat)
	files, diffAnomalies, err := ParseUnifiedDiff(bytes.NewReader(unified), stats, ignored)
	if err != nil {
		return nil, nil, err
	}
	result := &datatypes.GitDiffResult{FileDiffs: files}
	if result.FileDiffs == nil {
		result.FileDiffs = []datatypes.FileDiff{}
	}
	result.Aggregate()
	return result, append(anomalies, diffAnomalies...), nil
}

// ResolveBranches applies the branch defaulting rules and verifies both refs.
func (e *Engine) ResolveBranches(ctx context.Context, repoPath, source, target string) (string, string, error) {
	if source == "" {
		current, err := e.git.CurrentBranch(ctx, repoPath)
		if err != nil {
			return "", "", &datatypes.RepositoryError{
				Repository: repoPath,
				Reason:     "cannot determine current branch",
				Err:        err,
			}
		}
		source = current
	} else if err := e.verify(ctx, repoPath, source); err != nil {
		return "", "", err
	}

	if target == "" {
		for _, candidate := range e.candidates {
			ok, err := e.git.RefExists(ctx, repoPath, candidate)
			if err != nil {
				return "", "", err
			}
			if ok {
				return source, candidate, nil
			}
		}
		return "", "", &datatypes.RepositoryError{
			Repository: repoPath,
			Reason:     fmt.Sprintf("no default target branch found (tried %v)", e.candidates),
		}
	}
	if err := e.verify(ctx, repoPath, target); err != nil {
		return "", "", err
	}
	return source, target, nil
}

func (e *Engine) verify(ctx context.Context, repoPath, ref string) error {
	ok, err := e.git.RefExists(ctx, repoPath, ref)
	if err != nil {
		return err
	}
	if !ok {
		return &datatypes.RepositoryError{Repository: repoPath, Ref: ref, Reason: "branch not found"}
	}
	return nil
}

func (e *Engine) checkRepository(ctx context.Context, repoPath string) error {
	if repoPath == "" {
		return &datatypes.ConfigurationError{Path: repoPath, Reason: "repository path is empty"}
	}
	info, err := os.Stat(repoPath)
	if err != nil {
		return &datatypes.ConfigurationError{Path: repoPath, Reason: "repository path is not accessible", Err: err}
	}
	if !info.IsDir() {
		return &datatypes.ConfigurationError{Path: repoPath, Reason: "repository path is not a directory"}
	}
	if err := e.git.IsWorkTree(ctx, repoPath); err != nil {
		var cmdErr *datatypes.CommandExecutionError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode < 0 {
			// git could not be started at all.
			return err
		}
		return &datatypes.ConfigurationError{Path: repoPath, Reason: "not a git working tree", Err: err}
	}
	return nil
}
