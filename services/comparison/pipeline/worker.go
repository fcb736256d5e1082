// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/AleutianAI/branchdiff/services/comparison/bus"
	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
	"github.com/AleutianAI/branchdiff/services/comparison/store"
)

// InterruptedMessage is recorded on requests found in Processing at startup.
const InterruptedMessage = "interrupted: service stopped while the comparison was running"

// DiffGenerator produces a GitDiffResult for one comparison.
//
// gitdiff.Engine satisfies this interface.
type DiffGenerator interface {
	GenerateDiff(ctx context.Context, repoPath, sourceBranch, targetBranch string) (*datatypes.GitDiffResult, error)
}

// Worker processes queued requests one at a time.
//
// # Description
//
// For each dequeued id the worker loads the record, moves it to
// Processing, runs the diff and then moves it to Completed (storing the
// result first) or Failed (recording the error text verbatim). Each
// transition is persisted before the next id is taken. Lifecycle events
// are published after each persisted transition; publish failures are
// logged and never change the request outcome.
//
// # Thread Safety
//
// Run must be called from a single goroutine.
type Worker struct {
	queue     *Queue
	requests  store.RequestStore
	results   store.ResultStore
	engine    DiffGenerator
	publisher bus.Publisher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWorkerMetrics sets the pipeline metrics.
func WithWorkerMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithWorkerClock overrides the time source used for transitions.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker creates a worker draining queue.
func NewWorker(
	queue *Queue,
	requests store.RequestStore,
	results store.ResultStore,
	engine DiffGenerator,
	publisher bus.Publisher,
	opts ...WorkerOption,
) *Worker {
	w := &Worker{
		queue:     queue,
		requests:  requests,
		results:   results,
		engine:    engine,
		publisher: publisher,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes requests until ctx is cancelled. It returns nil on
// cancellation. Requests still queued at that point stay Pending for
// Recover.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("comparison worker started")
	defer w.logger.Info("comparison worker stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		id, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		w.Process(ctx, id)
	}
}

// Process runs one request to a terminal state.
//
// A missing record, or one that is no longer Pending, is logged and
// skipped. Processing is not retried.
func (w *Worker) Process(ctx context.Context, id string) {
	logger := w.logger.With(slog.String("request_id", id))

	req, err := w.requests.Get(ctx, id)
	if err != nil {
		logger.Warn("skipping queued request", slog.String("error", err.Error()))
		return
	}
	if req.Status != datatypes.StatusPending {
		logger.Warn("skipping request that is not pending", slog.String("status", string(req.Status)))
		return
	}

	if err := req.Transition(datatypes.StatusProcessing, w.now(), ""); err != nil {
		logger.Error("cannot start request", slog.String("error", err.Error()))
		return
	}
	if err := w.requests.Update(ctx, req); err != nil {
		logger.Error("persist processing status", slog.String("error", err.Error()))
		return
	}
	w.metrics.begin()
	start := w.now()
	w.publish(ctx, logger, &bus.StartedEvent{
		RequestID:      req.RequestID,
		RepositoryPath: req.RepositoryPath,
		SourceBranch:   req.SourceBranch,
		TargetBranch:   req.TargetBranch,
	})

	result, err := w.generate(ctx, logger, req)

	// The request is already Processing; its terminal state must be
	// recorded even when ctx was cancelled mid-diff.
	wctx := context.WithoutCancel(ctx)
	if err == nil {
		err = w.complete(wctx, logger, req, result)
		if err == nil {
			w.metrics.finish(datatypes.StatusCompleted, w.now().Sub(start), len(result.FileDiffs))
			return
		}
	}
	w.fail(wctx, logger, req, err)
	w.metrics.finish(datatypes.StatusFailed, w.now().Sub(start), 0)
}

// Recover restores queue state after a restart.
//
// Requests left in Processing cannot be resumed and become Failed with
// InterruptedMessage. Pending requests are re-enqueued in CreatedAt order.
//
// # Outputs
//
//   - int: Requests re-enqueued.
//   - int: Requests marked failed.
//   - error: Store listing failure. Individual update failures are logged.
func (w *Worker) Recover(ctx context.Context) (requeued, failed int, err error) {
	inflight, err := w.requests.List(ctx, datatypes.StatusProcessing)
	if err != nil {
		return 0, 0, fmt.Errorf("list processing requests: %w", err)
	}
	for _, req := range inflight {
		logger := w.logger.With(slog.String("request_id", req.RequestID))
		if err := req.Transition(datatypes.StatusFailed, w.now(), InterruptedMessage); err != nil {
			logger.Error("recover interrupted request", slog.String("error", err.Error()))
			continue
		}
		if err := w.requests.Update(ctx, req); err != nil {
			logger.Error("persist interrupted request", slog.String("error", err.Error()))
			continue
		}
		w.publish(ctx, logger, failedEvent(req))
		w.metrics.recovered("failed")
		failed++
	}

	pending, err := w.requests.List(ctx, datatypes.StatusPending)
	if err != nil {
		return 0, failed, fmt.Errorf("list pending requests: %w", err)
	}
	for _, req := range pending {
		w.queue.Enqueue(req.RequestID)
		w.metrics.recovered("requeued")
		requeued++
	}

	if requeued > 0 || failed > 0 {
		w.logger.Info("recovered comparison requests",
			slog.Int("requeued", requeued),
			slog.Int("failed", failed))
	}
	return requeued, failed, nil
}

// generate calls the engine and converts a panic into an error.
func (w *Worker) generate(ctx context.Context, logger *slog.Logger, req *datatypes.ComparisonRequest) (result *datatypes.GitDiffResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("diff engine panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = fmt.Errorf("panic during comparison: %v", r)
		}
	}()
	result, err = w.engine.GenerateDiff(ctx, req.RepositoryPath, req.SourceBranch, req.TargetBranch)
	if err == nil && result == nil {
		err = errors.New("diff engine returned no result")
	}
	return result, err
}

// complete stores the result and moves the request to Completed. Only a
// result store failure is returned; once the result is stored the request
// cannot fall back to Failed.
func (w *Worker) complete(ctx context.Context, logger *slog.Logger, req *datatypes.ComparisonRequest, result *datatypes.GitDiffResult) error {
	result.RequestID = req.RequestID
	if err := w.results.Put(ctx, result); err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	req.ResolvedSource = result.SourceBranch
	req.ResolvedTarget = result.TargetBranch
	if err := req.Transition(datatypes.StatusCompleted, w.now(), ""); err != nil {
		logger.Error("complete request", slog.String("error", err.Error()))
		return nil
	}
	if err := w.requests.Update(ctx, req); err != nil {
		logger.Error("persist completed status", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("comparison completed",
		slog.String("source", result.SourceBranch),
		slog.String("target", result.TargetBranch),
		slog.Int("files", len(result.FileDiffs)),
		slog.Int("additions", result.TotalAdditions),
		slog.Int("deletions", result.TotalDeletions))

	w.publish(ctx, logger, &bus.CompletedEvent{
		RequestID:      req.RequestID,
		RepositoryPath: req.RepositoryPath,
		CompletedAt:    *req.CompletedAt,
	})
	w.publish(ctx, logger, bus.MetricsFromResult(result))
	return nil
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, req *datatypes.ComparisonRequest, cause error) {
	if err := req.Transition(datatypes.StatusFailed, w.now(), cause.Error()); err != nil {
		logger.Error("fail request", slog.String("error", err.Error()))
		return
	}
	if err := w.requests.Update(ctx, req); err != nil {
		logger.Error("persist failed status", slog.String("error", err.Error()))
		return
	}
	logger.Warn("comparison failed", slog.String("error", cause.Error()))
	w.publish(ctx, logger, failedEvent(req))
}

func (w *Worker) publish(ctx context.Context, logger *slog.Logger, event bus.Event) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, event); err != nil {
		logger.Warn("publish lifecycle event",
			slog.String("type", event.MessageType()),
			slog.String("error", err.Error()))
	}
}

func failedEvent(req *datatypes.ComparisonRequest) *bus.FailedEvent {
	ev := &bus.FailedEvent{
		RequestID:      req.RequestID,
		RepositoryPath: req.RepositoryPath,
		ErrorMessage:   req.ErrorMessage,
	}
	if req.CompletedAt != nil {
		ev.FailedAt = *req.CompletedAt
	}
	return ev
}
