// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bus

import (
	"context"
	"net"
	"sync"
	"time"
)

// LocalBus is an in-process Publisher and Subscriber.
//
// # Description
//
// Publish encodes the envelope exactly as the UDP transport does and
// dispatches it synchronously, so when Publish returns the handler has
// run. A bounded buffer keeps the most recent messages for inspection.
//
// # Thread Safety
//
// Safe for concurrent use.
type LocalBus struct {
	dispatcher *Dispatcher
	metrics    *Metrics
	now        func() time.Time

	mu         sync.Mutex
	recent     []Message
	recentSize int
	closed     bool
}

// NewLocalBus creates an in-process bus.
func NewLocalBus(opts ...Option) *LocalBus {
	o := buildOptions(opts)
	return &LocalBus{
		dispatcher: NewDispatcher(o.logger, o.metrics),
		metrics:    o.metrics,
		now:        o.now,
		recentSize: o.recent,
		recent:     make([]Message, 0, o.recent),
	}
}

// Publish implements Publisher.
func (b *LocalBus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := NewMessage(event, b.now())
	data := msg.Encode()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.metrics.publishFailed(msg.Type)
		return net.ErrClosed
	}
	if b.recentSize > 0 {
		if len(b.recent) >= b.recentSize {
			b.recent = b.recent[1:]
		}
		b.recent = append(b.recent, msg)
	}
	b.mu.Unlock()

	b.metrics.published(msg.Type)
	b.dispatcher.Dispatch(ctx, data)
	return nil
}

// Subscribe implements Subscriber.
func (b *LocalBus) Subscribe(messageType string, handler Handler) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	return b.dispatcher.Register(messageType, handler)
}

// Unsubscribe implements Subscriber.
func (b *LocalBus) Unsubscribe(messageType string) {
	b.dispatcher.Remove(messageType)
}

// Close implements Subscriber. Later Publish calls fail with net.ErrClosed.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Recent returns a copy of the buffered messages, oldest first.
func (b *LocalBus) Recent() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.recent))
	copy(out, b.recent)
	return out
}

// RecentOfType returns buffered messages with the given type.
func (b *LocalBus) RecentOfType(messageType string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.recent {
		if m.Type == messageType {
			out = append(out, m)
		}
	}
	return out
}
