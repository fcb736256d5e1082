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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

var fixedNow = time.Date(2025, 7, 4, 10, 30, 0, 123456789, time.UTC)

func TestMessage_RoundTrip(t *testing.T) {
	event := &RequestedEvent{
		RequestID:      uuid.NewString(),
		RepositoryPath: "/srv/repos/üñí code",
		SourceBranch:   "feature/x",
		TargetBranch:   "main",
		RequestedBy:    "ci-bot",
	}
	msg := NewMessage(event, fixedNow)
	_, err := uuid.Parse(msg.ID)
	require.NoError(t, err)

	decoded, err := DecodeMessage(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, TypeRequested, decoded.Type)
	assert.True(t, fixedNow.Equal(decoded.Timestamp))

	ev, err := DecodeEvent(decoded)
	require.NoError(t, err)
	assert.Equal(t, event, ev)
}

func TestDecodeEvent_Timestamps(t *testing.T) {
	completed := &CompletedEvent{RequestID: "r", RepositoryPath: "/p", CompletedAt: fixedNow}
	ev, err := DecodeEvent(NewMessage(completed, fixedNow))
	require.NoError(t, err)
	assert.True(t, fixedNow.Equal(ev.(*CompletedEvent).CompletedAt))

	failed := &FailedEvent{RequestID: "r", ErrorMessage: "exit status 128"}
	ev, err = DecodeEvent(NewMessage(failed, fixedNow))
	require.NoError(t, err)
	assert.True(t, ev.(*FailedEvent).FailedAt.IsZero(), "zero time survives the round trip")
	assert.Equal(t, "exit status 128", ev.(*FailedEvent).ErrorMessage)
}

func TestMetricsFromResult(t *testing.T) {
	result := &datatypes.GitDiffResult{
		RequestID:          "r",
		FileDiffs:          make([]datatypes.FileDiff, 3),
		TotalAdditions:     10,
		TotalDeletions:     4,
		TotalModifications: 2,
	}
	ev, err := DecodeEvent(NewMessage(MetricsFromResult(result), fixedNow))
	require.NoError(t, err)
	assert.Equal(t, &MetricsEvent{
		RequestID:          "r",
		TotalAdditions:     10,
		TotalDeletions:     4,
		TotalModifications: 2,
		FilesChanged:       3,
	}, ev)
}

func TestDecodeMessage_Corrupt(t *testing.T) {
	valid := NewMessage(&StartedEvent{RequestID: "r"}, fixedNow).Encode()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", valid[:len(valid)-1]},
		{"garbage", []byte{0xff, 0xff, 0xff, 0xff}},
		{"missing type", appendString(nil, envelopeID, "id-only")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.data)
			var serErr *datatypes.SerializationError
			require.ErrorAs(t, err, &serErr)
			assert.Equal(t, "decode", serErr.Op)
		})
	}
}

func TestDecodeMessage_SkipsUnknownFields(t *testing.T) {
	b := NewMessage(&StartedEvent{RequestID: "r"}, fixedNow).Encode()
	b = protowire.AppendTag(b, 99, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 42)

	msg, err := DecodeMessage(b)
	require.NoError(t, err)
	assert.Equal(t, TypeStarted, msg.Type)
}

func TestDecodeEvent_UnknownType(t *testing.T) {
	_, err := DecodeEvent(Message{ID: "x", Type: "comparison.unknown"})
	var serErr *datatypes.SerializationError
	require.ErrorAs(t, err, &serErr)
	assert.False(t, KnownType("comparison.unknown"))
	assert.True(t, KnownType(TypeMetrics))
}
