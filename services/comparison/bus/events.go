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
	"fmt"
	"time"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// Message type discriminators.
const (
	TypeRequested = "comparison.requested"
	TypeStarted   = "comparison.started"
	TypeCompleted = "comparison.completed"
	TypeFailed    = "comparison.failed"
	TypeMetrics   = "comparison.metrics"
)

// Event is a payload that can travel in an envelope.
type Event interface {
	// MessageType returns the envelope type discriminator.
	MessageType() string

	// MarshalWire encodes the event fields.
	MarshalWire() []byte
}

// =============================================================================
// Inbound
// =============================================================================

// RequestedEvent asks for a comparison. RequestID is optional; intake
// allocates one when it is empty. The refname tag is registered by the
// intake validator.
type RequestedEvent struct {
	RequestID      string `validate:"omitempty,uuid"`
	RepositoryPath string `validate:"required,max=4096"`
	SourceBranch   string `validate:"omitempty,refname"`
	TargetBranch   string `validate:"omitempty,refname"`
	RequestedBy    string `validate:"max=256"`
}

// MessageType implements Event.
func (*RequestedEvent) MessageType() string { return TypeRequested }

// MarshalWire implements Event.
func (e *RequestedEvent) MarshalWire() []byte {
	var b []byte
	b = appendString(b, 1, e.RequestID)
	b = appendString(b, 2, e.RepositoryPath)
	b = appendString(b, 3, e.SourceBranch)
	b = appendString(b, 4, e.TargetBranch)
	b = appendString(b, 5, e.RequestedBy)
	return b
}

func (e *RequestedEvent) unmarshal(f wireFields) {
	e.RequestID = f.stringField(1)
	e.RepositoryPath = f.stringField(2)
	e.SourceBranch = f.stringField(3)
	e.TargetBranch = f.stringField(4)
	e.RequestedBy = f.stringField(5)
}

// =============================================================================
// Outbound
// =============================================================================

// StartedEvent reports that the worker picked a request up.
type StartedEvent struct {
	RequestID      string
	RepositoryPath string
	SourceBranch   string
	TargetBranch   string
}

// MessageType implements Event.
func (*StartedEvent) MessageType() string { return TypeStarted }

// MarshalWire implements Event.
func (e *StartedEvent) MarshalWire() []byte {
	var b []byte
	b = appendString(b, 1, e.RequestID)
	b = appendString(b, 2, e.RepositoryPath)
	b = appendString(b, 3, e.SourceBranch)
	b = appendString(b, 4, e.TargetBranch)
	return b
}

func (e *StartedEvent) unmarshal(f wireFields) {
	e.RequestID = f.stringField(1)
	e.RepositoryPath = f.stringField(2)
	e.SourceBranch = f.stringField(3)
	e.TargetBranch = f.stringField(4)
}

// CompletedEvent reports a stored result.
type CompletedEvent struct {
	RequestID      string
	RepositoryPath string
	CompletedAt    time.Time
}

// MessageType implements Event.
func (*CompletedEvent) MessageType() string { return TypeCompleted }

// MarshalWire implements Event.
func (e *CompletedEvent) MarshalWire() []byte {
	var b []byte
	b = appendString(b, 1, e.RequestID)
	b = appendString(b, 2, e.RepositoryPath)
	b = appendTime(b, 3, e.CompletedAt)
	return b
}

func (e *CompletedEvent) unmarshal(f wireFields) {
	e.RequestID = f.stringField(1)
	e.RepositoryPath = f.stringField(2)
	e.CompletedAt = f.timeField(3)
}

// FailedEvent reports a request that ended in StatusFailed.
type FailedEvent struct {
	RequestID      string
	RepositoryPath string
	ErrorMessage   string
	FailedAt       time.Time
}

// MessageType implements Event.
func (*FailedEvent) MessageType() string { return TypeFailed }

// MarshalWire implements Event.
func (e *FailedEvent) MarshalWire() []byte {
	var b []byte
	b = appendString(b, 1, e.RequestID)
	b = appendString(b, 2, e.RepositoryPath)
	b = appendString(b, 3, e.ErrorMessage)
	b = appendTime(b, 4, e.FailedAt)
	return b
}

func (e *FailedEvent) unmarshal(f wireFields) {
	e.RequestID = f.stringField(1)
	e.RepositoryPath = f.stringField(2)
	e.ErrorMessage = f.stringField(3)
	e.FailedAt = f.timeField(4)
}

// MetricsEvent carries the summary counts of a completed comparison for
// the downstream analysis engine.
type MetricsEvent struct {
	RequestID          string
	TotalAdditions     int
	TotalDeletions     int
	TotalModifications int
	FilesChanged       int
}

// MessageType implements Event.
func (*MetricsEvent) MessageType() string { return TypeMetrics }

// MarshalWire implements Event.
func (e *MetricsEvent) MarshalWire() []byte {
	var b []byte
	b = appendString(b, 1, e.RequestID)
	b = appendInt(b, 2, int64(e.TotalAdditions))
	b = appendInt(b, 3, int64(e.TotalDeletions))
	b = appendInt(b, 4, int64(e.TotalModifications))
	b = appendInt(b, 5, int64(e.FilesChanged))
	return b
}

func (e *MetricsEvent) unmarshal(f wireFields) {
	e.RequestID = f.stringField(1)
	e.TotalAdditions = int(f.intField(2))
	e.TotalDeletions = int(f.intField(3))
	e.TotalModifications = int(f.intField(4))
	e.FilesChanged = int(f.intField(5))
}

// MetricsFromResult summarises result.
func MetricsFromResult(result *datatypes.GitDiffResult) *MetricsEvent {
	return &MetricsEvent{
		RequestID:          result.RequestID,
		TotalAdditions:     result.TotalAdditions,
		TotalDeletions:     result.TotalDeletions,
		TotalModifications: result.TotalModifications,
		FilesChanged:       len(result.FileDiffs),
	}
}

// =============================================================================
// Decoding
// =============================================================================

type wireEvent interface {
	Event
	unmarshal(f wireFields)
}

var eventFactories = map[string]func() wireEvent{
	TypeRequested: func() wireEvent { return new(RequestedEvent) },
	TypeStarted:   func() wireEvent { return new(StartedEvent) },
	TypeCompleted: func() wireEvent { return new(CompletedEvent) },
	TypeFailed:    func() wireEvent { return new(FailedEvent) },
	TypeMetrics:   func() wireEvent { return new(MetricsEvent) },
}

// KnownType reports whether messageType names an event this package decodes.
func KnownType(messageType string) bool {
	_, ok := eventFactories[messageType]
	return ok
}

// DecodeEvent decodes the payload of msg into its concrete event type.
func DecodeEvent(msg Message) (Event, error) {
	factory, ok := eventFactories[msg.Type]
	if !ok {
		return nil, &datatypes.SerializationError{
			MessageType: msg.Type,
			Op:          "decode",
			Err:         fmt.Errorf("unknown message type %q", msg.Type),
		}
	}
	f, err := readFields(msg.Payload)
	if err != nil {
		return nil, &datatypes.SerializationError{MessageType: msg.Type, Op: "decode", Err: err}
	}
	ev := factory()
	ev.unmarshal(f)
	return ev, nil
}
