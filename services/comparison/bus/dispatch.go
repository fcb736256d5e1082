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
	"sync"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// ErrHandlerExists is returned when a type already has a handler.
var ErrHandlerExists = errors.New("handler already registered for message type")

// Handler processes one received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber routes received messages to handlers by type.
type Subscriber interface {
	// Subscribe registers handler for messageType. The first subscription
	// starts receiving.
	Subscribe(messageType string, handler Handler) error

	// Unsubscribe removes the handler for messageType. Receiving continues.
	Unsubscribe(messageType string)

	// Close stops receiving and releases the transport.
	Close() error
}

// Typed adapts a function over a concrete event type into a Handler.
//
// The payload is decoded with DecodeEvent; a payload of another type is a
// SerializationError.
func Typed[E Event](fn func(ctx context.Context, event E) error) Handler {
	return func(ctx context.Context, msg Message) error {
		ev, err := DecodeEvent(msg)
		if err != nil {
			return err
		}
		typed, ok := ev.(E)
		if !ok {
			return &datatypes.SerializationError{
				MessageType: msg.Type,
				Op:          "decode",
				Err:         fmt.Errorf("payload is %T", ev),
			}
		}
		return fn(ctx, typed)
	}
}

// Dispatcher is the typed handler registry shared by every transport.
//
// # Description
//
// Exactly one handler exists per message type and lookup is direct. A
// decode failure, unknown type, missing handler, handler error or handler
// panic is logged and counted; none of them propagates to the caller, so a
// receive loop driving Dispatch never stops on a bad message.
//
// # Thread Safety
//
// Safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
	metrics  *Metrics
}

// NewDispatcher creates an empty registry. logger and metrics may be nil.
func NewDispatcher(logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
		metrics:  metrics,
	}
}

// Register adds handler for messageType. ErrHandlerExists when taken.
func (d *Dispatcher) Register(messageType string, handler Handler) error {
	if messageType == "" || handler == nil {
		return errors.New("message type and handler are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[messageType]; ok {
		return fmt.Errorf("%s: %w", messageType, ErrHandlerExists)
	}
	d.handlers[messageType] = handler
	return nil
}

// Remove drops the handler for messageType and reports whether one existed.
func (d *Dispatcher) Remove(messageType string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[messageType]
	delete(d.handlers, messageType)
	return ok
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Dispatch decodes one raw envelope and invokes its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		d.metrics.dropped(DropDecode)
		d.logger.Warn("discarding undecodable message",
			slog.Int("bytes", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}
	d.Deliver(ctx, msg)
}

// Deliver invokes the handler for an already decoded message.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) {
	d.metrics.received(msg.Type)

	d.mu.RLock()
	handler, ok := d.handlers[msg.Type]
	d.mu.RUnlock()

	if !ok {
		reason := DropNoHandler
		if !KnownType(msg.Type) {
			reason = DropUnknownType
		}
		d.metrics.dropped(reason)
		d.logger.Debug("no handler for message",
			slog.String("message_type", msg.Type),
			slog.String("message_id", msg.ID),
		)
		return
	}

	if err := d.safeInvoke(ctx, handler, msg); err != nil {
		d.metrics.dropped(DropHandlerError)
		d.logger.Error("message handler failed",
			slog.String("message_type", msg.Type),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}

// safeInvoke calls handler, turning a panic into a logged drop.
func (d *Dispatcher) safeInvoke(ctx context.Context, handler Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.dropped(DropPanic)
			d.logger.Error("message handler panicked",
				slog.String("message_type", msg.Type),
				slog.String("message_id", msg.ID),
				slog.Any("panic", r),
			)
			err = nil
		}
	}()
	return handler(ctx, msg)
}
