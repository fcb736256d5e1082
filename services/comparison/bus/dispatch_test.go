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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	return NewDispatcher(nil, m), m
}

func TestDispatcher_OneHandlerPerType(t *testing.T) {
	d, _ := newTestDispatcher(t)
	noop := func(context.Context, Message) error { return nil }

	require.NoError(t, d.Register(TypeStarted, noop))
	require.ErrorIs(t, d.Register(TypeStarted, noop), ErrHandlerExists)
	require.Error(t, d.Register("", noop))
	assert.Equal(t, 1, d.Len())

	assert.True(t, d.Remove(TypeStarted))
	assert.False(t, d.Remove(TypeStarted))
	require.NoError(t, d.Register(TypeStarted, noop))
}

func TestDispatcher_TypedDelivery(t *testing.T) {
	d, m := newTestDispatcher(t)

	var got *StartedEvent
	require.NoError(t, d.Register(TypeStarted, Typed(func(_ context.Context, ev *StartedEvent) error {
		got = ev
		return nil
	})))

	d.Dispatch(context.Background(), NewMessage(&StartedEvent{RequestID: "r1", SourceBranch: "dev"}, fixedNow).Encode())
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.RequestID)
	assert.Equal(t, "dev", got.SourceBranch)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues(TypeStarted)))
}

func TestDispatcher_TypeMismatch(t *testing.T) {
	d, m := newTestDispatcher(t)
	called := false
	require.NoError(t, d.Register(TypeStarted, Typed(func(context.Context, *FailedEvent) error {
		called = true
		return nil
	})))

	d.Dispatch(context.Background(), NewMessage(&StartedEvent{RequestID: "r"}, fixedNow).Encode())
	assert.False(t, called)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(DropHandlerError)))
}

func TestDispatcher_FailuresAreContained(t *testing.T) {
	d, m := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Register(TypeFailed, func(context.Context, Message) error {
		panic("handler bug")
	}))
	require.NoError(t, d.Register(TypeCompleted, func(context.Context, Message) error {
		return errors.New("downstream unavailable")
	}))

	assert.NotPanics(t, func() {
		d.Dispatch(ctx, []byte{0xde, 0xad})
		d.Dispatch(ctx, NewMessage(&FailedEvent{RequestID: "r"}, fixedNow).Encode())
		d.Dispatch(ctx, NewMessage(&CompletedEvent{RequestID: "r"}, fixedNow).Encode())
		d.Dispatch(ctx, NewMessage(&MetricsEvent{RequestID: "r"}, fixedNow).Encode())
		d.Deliver(ctx, Message{ID: "x", Type: "other.kind"})
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(DropDecode)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(DropPanic)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(DropHandlerError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(DropNoHandler)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(DropUnknownType)))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	d := NewDispatcher(nil, nil)
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), []byte{0x01})
	})
}
