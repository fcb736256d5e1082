// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bus carries comparison lifecycle events between processes.
//
// # Description
//
// Every message travels in a binary envelope (protobuf wire format) holding
// a message id, a type discriminator, a timestamp and the event payload.
// Delivery is at-most-once: the UDP transport sends one datagram per
// message and never retries. Receivers route each envelope to the single
// handler registered for its type.
//
// # Thread Safety
//
// Publishers, subscribers and the dispatcher are safe for concurrent use.
package bus

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// Envelope field numbers.
const (
	envelopeID        protowire.Number = 1
	envelopeType      protowire.Number = 2
	envelopeTimestamp protowire.Number = 3
	envelopePayload   protowire.Number = 4
)

// MaxDatagramSize is the largest envelope a single UDP datagram can carry.
const MaxDatagramSize = 65507

// Message is a decoded envelope.
type Message struct {
	ID        string
	Type      string
	Timestamp time.Time
	Payload   []byte
}

// NewMessage wraps event in a fresh envelope.
func NewMessage(event Event, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      event.MessageType(),
		Timestamp: now.UTC(),
		Payload:   event.MarshalWire(),
	}
}

// Encode serialises the envelope.
func (m Message) Encode() []byte {
	b := make([]byte, 0, 64+len(m.Payload))
	b = appendString(b, envelopeID, m.ID)
	b = appendString(b, envelopeType, m.Type)
	b = appendTime(b, envelopeTimestamp, m.Timestamp)
	b = appendBytes(b, envelopePayload, m.Payload)
	return b
}

// DecodeMessage parses an envelope. Malformed input and envelopes without
// an id or type yield a *datatypes.SerializationError.
func DecodeMessage(data []byte) (Message, error) {
	f, err := readFields(data)
	if err != nil {
		return Message{}, &datatypes.SerializationError{MessageType: "envelope", Op: "decode", Err: err}
	}
	m := Message{
		ID:        f.stringField(envelopeID),
		Type:      f.stringField(envelopeType),
		Timestamp: f.timeField(envelopeTimestamp),
		Payload:   f.bytes[envelopePayload],
	}
	if m.ID == "" || m.Type == "" {
		return Message{}, &datatypes.SerializationError{
			MessageType: "envelope",
			Op:          "decode",
			Err:         errors.New("missing message id or type"),
		}
	}
	return m, nil
}
