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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// Option configures a publisher, subscriber or LocalBus.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
	recent  int
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), now: time.Now, recent: 256}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records bus activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRecentBuffer sets how many messages a LocalBus keeps for Recent.
func WithRecentBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.recent = n
		}
	}
}

// =============================================================================
// Publisher
// =============================================================================

// UDPPublisher sends each event as one datagram to a fixed peer.
type UDPPublisher struct {
	conn    *net.UDPConn
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewUDPPublisher connects a datagram socket to peer ("host:port").
func NewUDPPublisher(peer string, opts ...Option) (*UDPPublisher, error) {
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("resolving bus peer %s: %w", peer, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dialing bus peer %s: %w", peer, err)
	}
	o := buildOptions(opts)
	return &UDPPublisher{conn: conn, logger: o.logger, metrics: o.metrics, now: o.now}, nil
}

// Publish implements Publisher. Delivery is at-most-once; a send error is
// returned but never retried.
func (p *UDPPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := NewMessage(event, p.now())
	data := msg.Encode()
	if len(data) > MaxDatagramSize {
		p.metrics.publishFailed(msg.Type)
		return &datatypes.SerializationError{
			MessageType: msg.Type,
			Op:          "encode",
			Err:         fmt.Errorf("envelope is %d bytes, datagram limit is %d", len(data), MaxDatagramSize),
		}
	}
	if _, err := p.conn.Write(data); err != nil {
		p.metrics.publishFailed(msg.Type)
		return fmt.Errorf("sending %s: %w", msg.Type, err)
	}
	p.metrics.published(msg.Type)
	p.logger.Debug("message published",
		slog.String("message_type", msg.Type),
		slog.String("message_id", msg.ID),
	)
	return nil
}

// Close releases the socket.
func (p *UDPPublisher) Close() error {
	return p.conn.Close()
}

// =============================================================================
// Subscriber
// =============================================================================

// UDPSubscriber receives datagrams on a bound address.
//
// # Description
//
// The socket is bound at construction; the single receive loop starts with
// the first Subscribe. Each datagram is decoded and handed to the handler
// registered for its type, on the loop goroutine. Unsubscribe leaves the
// loop running. Close stops it and waits for it to exit.
//
// # Thread Safety
//
// Safe for concurrent use.
type UDPSubscriber struct {
	conn       *net.UDPConn
	dispatcher *Dispatcher
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// ListenUDP binds addr ("host:port"; port 0 picks a free one).
func ListenUDP(addr string, opts ...Option) (*UDPSubscriber, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving bus address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding bus address %s: %w", addr, err)
	}
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &UDPSubscriber{
		conn:       conn,
		dispatcher: NewDispatcher(o.logger, o.metrics),
		logger:     o.logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Addr returns the bound local address.
func (s *UDPSubscriber) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Subscribe implements Subscriber.
func (s *UDPSubscriber) Subscribe(messageType string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	if err := s.dispatcher.Register(messageType, handler); err != nil {
		return err
	}
	if !s.started {
		s.started = true
		go s.receiveLoop()
	}
	return nil
}

// Unsubscribe implements Subscriber.
func (s *UDPSubscriber) Unsubscribe(messageType string) {
	s.dispatcher.Remove(messageType)
}

// Close implements Subscriber.
func (s *UDPSubscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	err := s.conn.Close()
	if started {
		<-s.done
	}
	return err
}

func (s *UDPSubscriber) receiveLoop() {
	defer close(s.done)
	buf := make([]byte, MaxDatagramSize+1)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("bus receive failed", slog.String("error", err.Error()))
			continue
		}
		if n > MaxDatagramSize {
			s.logger.Warn("discarding oversize datagram", slog.String("from", from.String()))
			continue
		}
		// Handlers may retain the payload; the read buffer is reused.
		data := make([]byte, n)
		copy(data, buf[:n])
		s.dispatcher.Dispatch(s.ctx, data)
	}
}
