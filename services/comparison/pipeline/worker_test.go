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
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/branchdiff/services/comparison/bus"
	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
	"github.com/AleutianAI/branchdiff/services/comparison/gitdiff"
	"github.com/AleutianAI/branchdiff/services/comparison/internal/bustest"
	"github.com/AleutianAI/branchdiff/services/comparison/internal/gittest"
	"github.com/AleutianAI/branchdiff/services/comparison/store"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type engineFunc func(ctx context.Context, repo, source, target string) (*datatypes.GitDiffResult, error)

func (f engineFunc) GenerateDiff(ctx context.Context, repo, source, target string) (*datatypes.GitDiffResult, error) {
	return f(ctx, repo, source, target)
}

func okEngine(ctx context.Context, repo, source, target string) (*datatypes.GitDiffResult, error) {
	res := &datatypes.GitDiffResult{
		SourceBranch: "dev",
		TargetBranch: "main",
		FileDiffs: []datatypes.FileDiff{{
			FilePath:   "a.txt",
			ChangeType: datatypes.ChangeAdded,
			Additions:  2,
			LineChanges: []datatypes.LineDiff{
				{LineNumber: 1, Content: "x", Type: datatypes.LineAddition},
				{LineNumber: 2, Content: "y", Type: datatypes.LineAddition},
			},
		}},
		GeneratedAt: epoch,
	}
	res.Aggregate()
	return res, nil
}

type harness struct {
	queue    *Queue
	requests *store.MemoryRequestStore
	results  *store.MemoryResultStore
	events   *bustest.Recorder
	metrics  *Metrics
	worker   *Worker
}

func newHarness(t *testing.T, engine DiffGenerator) *harness {
	t.Helper()
	h := &harness{
		queue:    NewQueue(),
		requests: store.NewMemoryRequestStore(),
		results:  store.NewMemoryResultStore(),
		events:   bustest.NewRecorder(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	h.worker = NewWorker(h.queue, h.requests, h.results, engine, h.events,
		WithWorkerMetrics(h.metrics),
		WithWorkerClock(func() time.Time { return epoch }))
	return h
}

func (h *harness) submit(t *testing.T, id string, status datatypes.Status) {
	t.Helper()
	require.NoError(t, h.requests.Create(context.Background(), &datatypes.ComparisonRequest{
		RequestID:      id,
		RepositoryPath: "/repo/" + id,
		SourceBranch:   "dev",
		Status:         status,
		CreatedAt:      epoch,
	}))
}

func (h *harness) request(t *testing.T, id string) *datatypes.ComparisonRequest {
	t.Helper()
	req, err := h.requests.Get(context.Background(), id)
	require.NoError(t, err)
	return req
}

func TestWorker_ProcessCompletes(t *testing.T) {
	h := newHarness(t, engineFunc(okEngine))
	h.submit(t, "r1", datatypes.StatusPending)

	h.worker.Process(context.Background(), "r1")

	req := h.request(t, "r1")
	assert.Equal(t, datatypes.StatusCompleted, req.Status)
	assert.Equal(t, "dev", req.ResolvedSource)
	assert.Equal(t, "main", req.ResolvedTarget)
	require.NotNil(t, req.StartedAt)
	require.NotNil(t, req.CompletedAt)
	assert.Empty(t, req.ErrorMessage)

	res, err := h.results.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", res.RequestID)
	assert.Equal(t, 2, res.TotalAdditions)

	assert.Equal(t, []string{bus.TypeStarted, bus.TypeCompleted, bus.TypeMetrics}, h.events.Types())
	metrics := h.events.Events()[2].(*bus.MetricsEvent)
	assert.Equal(t, &bus.MetricsEvent{RequestID: "r1", TotalAdditions: 2, FilesChanged: 1}, metrics)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RequestsTotal.WithLabelValues("completed")))
	assert.Zero(t, testutil.ToFloat64(h.metrics.InFlight))
}

func TestWorker_ProcessRecordsEngineErrorVerbatim(t *testing.T) {
	cause := &datatypes.RepositoryError{Repository: "/repo/r1", Ref: "ghost", Reason: "branch not found"}
	h := newHarness(t, engineFunc(func(context.Context, string, string, string) (*datatypes.GitDiffResult, error) {
		return nil, cause
	}))
	h.submit(t, "r1", datatypes.StatusPending)

	h.worker.Process(context.Background(), "r1")

	req := h.request(t, "r1")
	assert.Equal(t, datatypes.StatusFailed, req.Status)
	assert.Equal(t, cause.Error(), req.ErrorMessage)
	require.NotNil(t, req.CompletedAt)

	_, err := h.results.Get(context.Background(), "r1")
	require.ErrorIs(t, err, datatypes.ErrNotFound)

	assert.Equal(t, []string{bus.TypeStarted, bus.TypeFailed}, h.events.Types())
	failed := h.events.Events()[1].(*bus.FailedEvent)
	assert.Equal(t, cause.Error(), failed.ErrorMessage)
	assert.True(t, epoch.Equal(failed.FailedAt))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RequestsTotal.WithLabelValues("failed")))
}

func TestWorker_ProcessContainsPanic(t *testing.T) {
	h := newHarness(t, engineFunc(func(context.Context, string, string, string) (*datatypes.GitDiffResult, error) {
		panic("boom")
	}))
	h.submit(t, "r1", datatypes.StatusPending)

	require.NotPanics(t, func() { h.worker.Process(context.Background(), "r1") })

	req := h.request(t, "r1")
	assert.Equal(t, datatypes.StatusFailed, req.Status)
	assert.Equal(t, "panic during comparison: boom", req.ErrorMessage)
}

func TestWorker_ProcessNilResultFails(t *testing.T) {
	h := newHarness(t, engineFunc(func(context.Context, string, string, string) (*datatypes.GitDiffResult, error) {
		return nil, nil
	}))
	h.submit(t, "r1", datatypes.StatusPending)

	h.worker.Process(context.Background(), "r1")
	assert.Equal(t, datatypes.StatusFailed, h.request(t, "r1").Status)
}

func TestWorker_ProcessSkips(t *testing.T) {
	calls := 0
	h := newHarness(t, engineFunc(func(ctx context.Context, repo, source, target string) (*datatypes.GitDiffResult, error) {
		calls++
		return okEngine(ctx, repo, source, target)
	}))
	h.submit(t, "done", datatypes.StatusCompleted)

	h.worker.Process(context.Background(), "missing")
	h.worker.Process(context.Background(), "done")

	assert.Zero(t, calls)
	assert.Empty(t, h.events.Types())
	assert.Equal(t, datatypes.StatusCompleted, h.request(t, "done").Status)
}

func TestWorker_PublishFailureDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(t, engineFunc(okEngine))
	h.events.FailWith(errors.New("bus down"))
	h.submit(t, "r1", datatypes.StatusPending)

	h.worker.Process(context.Background(), "r1")

	assert.Equal(t, datatypes.StatusCompleted, h.request(t, "r1").Status)
	assert.Len(t, h.events.Types(), 3)
}

func TestWorker_ResultStoreFailureFailsRequest(t *testing.T) {
	h := newHarness(t, engineFunc(okEngine))
	h.submit(t, "r1", datatypes.StatusPending)
	// A result already stored under the id makes Put fail.
	require.NoError(t, h.results.Put(context.Background(), &datatypes.GitDiffResult{RequestID: "r1"}))

	h.worker.Process(context.Background(), "r1")

	req := h.request(t, "r1")
	assert.Equal(t, datatypes.StatusFailed, req.Status)
	assert.Contains(t, req.ErrorMessage, "store result")
}

func TestWorker_CancelledMidDiffStillRecordsFailure(t *testing.T) {
	entered := make(chan struct{})
	h := newHarness(t, engineFunc(func(ctx context.Context, _, _, _ string) (*datatypes.GitDiffResult, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	h.submit(t, "r1", datatypes.StatusPending)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Process(ctx, "r1")
	}()
	<-entered
	cancel()
	<-done

	req := h.request(t, "r1")
	assert.Equal(t, datatypes.StatusFailed, req.Status)
	assert.Equal(t, context.Canceled.Error(), req.ErrorMessage)
}

func TestWorker_RunDrainsInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	h := newHarness(t, engineFunc(func(ctx context.Context, repo, source, target string) (*datatypes.GitDiffResult, error) {
		mu.Lock()
		order = append(order, repo)
		mu.Unlock()
		return okEngine(ctx, repo, source, target)
	}))
	for _, id := range []string{"r1", "r2", "r3"} {
		h.submit(t, id, datatypes.StatusPending)
		h.queue.Enqueue(id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		req, err := h.requests.Get(context.Background(), "r3")
		return err == nil && req.Status == datatypes.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/repo/r1", "/repo/r2", "/repo/r3"}, order)
	for _, id := range []string{"r1", "r2"} {
		assert.Equal(t, datatypes.StatusCompleted, h.request(t, id).Status)
	}
}

func TestWorker_RunCancelledLeavesQueuedRequestsPending(t *testing.T) {
	var calls int
	h := newHarness(t, engineFunc(func(ctx context.Context, repo, source, target string) (*datatypes.GitDiffResult, error) {
		calls++
		return okEngine(ctx, repo, source, target)
	}))
	ids := []string{"q1", "q2", "q3"}
	for _, id := range ids {
		h.submit(t, id, datatypes.StatusPending)
		h.queue.Enqueue(id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.worker.Run(ctx))

	assert.Zero(t, calls)
	assert.Equal(t, len(ids), h.queue.Len())
	assert.Empty(t, h.events.Events())
	for _, id := range ids {
		assert.Equal(t, datatypes.StatusPending, h.request(t, id).Status, id)
	}

	requeued, failed, err := h.worker.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(ids), requeued)
	assert.Zero(t, failed)
}

func TestWorker_Recover(t *testing.T) {
	h := newHarness(t, engineFunc(okEngine))
	ctx := context.Background()
	for i, id := range []string{"p2", "p1"} {
		require.NoError(t, h.requests.Create(ctx, &datatypes.ComparisonRequest{
			RequestID: id,
			Status:    datatypes.StatusPending,
			CreatedAt: epoch.Add(time.Duration(-i) * time.Minute),
		}))
	}
	h.submit(t, "inflight", datatypes.StatusProcessing)
	h.submit(t, "done", datatypes.StatusCompleted)

	requeued, failed, err := h.worker.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)
	assert.Equal(t, 1, failed)

	first, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", first)
	assert.Equal(t, 1, h.queue.Len())

	req := h.request(t, "inflight")
	assert.Equal(t, datatypes.StatusFailed, req.Status)
	assert.Equal(t, InterruptedMessage, req.ErrorMessage)
	assert.Equal(t, []string{bus.TypeFailed}, h.events.Types())
	assert.Equal(t, datatypes.StatusCompleted, h.request(t, "done").Status)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Recovered.WithLabelValues("requeued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Recovered.WithLabelValues("failed")))
}

func TestWorker_EndToEndWithGit(t *testing.T) {
	gittest.RequireGit(t)
	repo := gittest.NewDevRepo(t)

	engine := gitdiff.NewEngine(gitdiff.NewClient(gitdiff.NewRunner("git", 30*time.Second)))
	h := newHarness(t, engine)
	require.NoError(t, h.requests.Create(context.Background(), &datatypes.ComparisonRequest{
		RequestID:      "e2e",
		RepositoryPath: repo.Dir,
		Status:         datatypes.StatusPending,
		CreatedAt:      epoch,
	}))

	h.worker.Process(context.Background(), "e2e")

	req := h.request(t, "e2e")
	require.Equal(t, datatypes.StatusCompleted, req.Status, req.ErrorMessage)
	assert.Equal(t, "dev", req.ResolvedSource)
	assert.Equal(t, "main", req.ResolvedTarget)

	res, err := h.results.Get(context.Background(), "e2e")
	require.NoError(t, err)
	require.Len(t, res.FileDiffs, 1)
	fd := res.FileDiffs[0]
	assert.Equal(t, "a.txt", fd.FilePath)
	assert.Equal(t, datatypes.ChangeAdded, fd.ChangeType)
	assert.Equal(t, 5, res.TotalAdditions)
	assert.Zero(t, res.TotalDeletions)
	require.Len(t, fd.LineChanges, 5)
	for i, lc := range fd.LineChanges {
		assert.Equal(t, i+1, lc.LineNumber)
		assert.Equal(t, datatypes.LineAddition, lc.Type)
	}

	assert.Equal(t, []string{bus.TypeStarted, bus.TypeCompleted, bus.TypeMetrics}, h.events.Types())
}
