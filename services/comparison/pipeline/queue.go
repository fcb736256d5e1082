// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline turns queued comparison requests into stored results.
//
// # Description
//
// A Queue holds request ids in FIFO order. A single Worker drains it,
// driving each request through Pending -> Processing -> Completed|Failed,
// persisting every transition before taking the next id and publishing a
// lifecycle event for each. The Queue and Worker are built once at startup
// and passed to their collaborators explicitly.
package pipeline

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Queue is an unbounded FIFO of request ids.
//
// # Thread Safety
//
// Safe for concurrent use by any number of producers and consumers.
type Queue struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{}
	depth  prometheus.Gauge
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithDepthGauge reports the queue length to g on every change.
func WithDepthGauge(g prometheus.Gauge) QueueOption {
	return func(q *Queue) { q.depth = g }
}

// NewQueue creates an empty queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{notify: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends id and returns immediately.
func (q *Queue) Enqueue(id string) {
	q.mu.Lock()
	q.items = append(q.items, id)
	q.report()
	q.mu.Unlock()
	q.signal()
}

// Dequeue removes and returns the oldest id, blocking while the queue is
// empty. It returns ctx.Err() once ctx is done, leaving queued ids in place.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			remaining := len(q.items)
			q.report()
			q.mu.Unlock()
			if remaining > 0 {
				// Pass the wakeup on so another waiter is not stranded.
				q.signal()
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// report must be called with mu held.
func (q *Queue) report() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.items)))
	}
}
