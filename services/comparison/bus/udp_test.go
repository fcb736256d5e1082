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
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

func newUDPPair(t *testing.T, opts ...Option) (*UDPPublisher, *UDPSubscriber) {
	t.Helper()
	sub, err := ListenUDP("127.0.0.1:0", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	pub, err := NewUDPPublisher(sub.Addr().String(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })
	return pub, sub
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		var zero T
		return zero
	}
}

func TestUDP_PublishSubscribe(t *testing.T) {
	pub, sub := newUDPPair(t)
	got := make(chan *RequestedEvent, 1)
	require.NoError(t, sub.Subscribe(TypeRequested, Typed(func(_ context.Context, ev *RequestedEvent) error {
		got <- ev
		return nil
	})))

	want := &RequestedEvent{RepositoryPath: "/repo", SourceBranch: "dev", RequestedBy: "tester"}
	require.NoError(t, pub.Publish(context.Background(), want))
	assert.Equal(t, want, receive(t, got))
}

func TestUDP_LoopSurvivesBadInput(t *testing.T) {
	pub, sub := newUDPPair(t)

	failed := make(chan struct{}, 1)
	require.NoError(t, sub.Subscribe(TypeFailed, func(context.Context, Message) error {
		failed <- struct{}{}
		panic("handler bug")
	}))
	started := make(chan string, 1)
	require.NoError(t, sub.Subscribe(TypeStarted, Typed(func(_ context.Context, ev *StartedEvent) error {
		started <- ev.RequestID
		return nil
	})))

	raw, err := net.DialUDP("udp", nil, sub.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte("definitely not an envelope"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, &FailedEvent{RequestID: "bad"}))
	receive(t, failed)
	require.NoError(t, pub.Publish(ctx, &StartedEvent{RequestID: "after-panic"}))
	assert.Equal(t, "after-panic", receive(t, started))
}

func TestUDP_UnsubscribeKeepsLoop(t *testing.T) {
	pub, sub := newUDPPair(t)
	ctx := context.Background()

	first := make(chan string, 4)
	require.NoError(t, sub.Subscribe(TypeStarted, Typed(func(_ context.Context, ev *StartedEvent) error {
		first <- ev.RequestID
		return nil
	})))
	require.NoError(t, pub.Publish(ctx, &StartedEvent{RequestID: "one"}))
	assert.Equal(t, "one", receive(t, first))

	sub.Unsubscribe(TypeStarted)
	second := make(chan string, 4)
	require.NoError(t, sub.Subscribe(TypeStarted, Typed(func(_ context.Context, ev *StartedEvent) error {
		second <- ev.RequestID
		return nil
	})))
	require.NoError(t, pub.Publish(ctx, &StartedEvent{RequestID: "two"}))
	assert.Equal(t, "two", receive(t, second))
	assert.Empty(t, first)
}

func TestUDP_OversizePublish(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	pub, _ := newUDPPair(t, WithMetrics(m))

	err := pub.Publish(context.Background(), &FailedEvent{
		RequestID:    "big",
		ErrorMessage: strings.Repeat("x", MaxDatagramSize),
	})
	var serErr *datatypes.SerializationError
	require.ErrorAs(t, err, &serErr)
	assert.Equal(t, "encode", serErr.Op)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors.WithLabelValues(TypeFailed)))
}

func TestUDP_CancelledPublish(t *testing.T) {
	pub, _ := newUDPPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, pub.Publish(ctx, &StartedEvent{RequestID: "r"}), context.Canceled)
}

func TestUDP_Close(t *testing.T) {
	sub, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, sub.Subscribe(TypeStarted, func(context.Context, Message) error { return nil }))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	require.ErrorIs(t, sub.Subscribe(TypeFailed, func(context.Context, Message) error { return nil }), net.ErrClosed)
}

func TestUDP_CloseWithoutSubscribe(t *testing.T) {
	sub, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
}
