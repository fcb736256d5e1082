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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutian"
	busSubsystem     = "branchdiff_bus"
)

// Drop reasons used as the "reason" label of MessagesDropped.
const (
	DropDecode       = "decode"
	DropUnknownType  = "unknown_type"
	DropNoHandler    = "no_handler"
	DropHandlerError = "handler_error"
	DropPanic        = "handler_panic"
)

// Metrics holds the bus counters. A nil *Metrics records nothing.
//
// # Fields
//
//   - MessagesPublished: Sent envelopes. Labels: type
//   - PublishErrors: Envelopes that could not be sent. Labels: type
//   - MessagesReceived: Decoded envelopes. Labels: type
//   - MessagesDropped: Envelopes not handled successfully. Labels: reason
type Metrics struct {
	MessagesPublished *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
}

// NewMetrics registers the bus metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: busSubsystem,
			Name:      "messages_published_total",
			Help:      "Envelopes sent, by message type.",
		}, []string{"type"}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: busSubsystem,
			Name:      "publish_errors_total",
			Help:      "Envelopes that could not be encoded or sent, by message type.",
		}, []string{"type"}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: busSubsystem,
			Name:      "messages_received_total",
			Help:      "Envelopes decoded by a subscriber, by message type.",
		}, []string{"type"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: busSubsystem,
			Name:      "messages_dropped_total",
			Help:      "Received envelopes that were not handled successfully, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) published(messageType string) {
	if m != nil {
		m.MessagesPublished.WithLabelValues(messageType).Inc()
	}
}

func (m *Metrics) publishFailed(messageType string) {
	if m != nil {
		m.PublishErrors.WithLabelValues(messageType).Inc()
	}
}

func (m *Metrics) received(messageType string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(messageType).Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.MessagesDropped.WithLabelValues(reason).Inc()
	}
}
