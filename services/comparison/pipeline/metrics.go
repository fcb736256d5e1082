// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

const (
	metricsNamespace  = "aleutian"
	pipelineSubsystem = "branchdiff_pipeline"
)

// Metrics holds the pipeline instruments. A nil *Metrics records nothing.
//
// # Fields
//
//   - RequestsTotal: Requests reaching a terminal state. Labels: status
//   - ProcessingSeconds: Time from Processing to terminal. Labels: status
//   - QueueDepth: Ids waiting in the queue.
//   - InFlight: Requests currently in Processing (0 or 1 per worker).
//   - FilesChanged: Files per completed comparison, after ignore filtering.
//   - Recovered: Requests touched by restart recovery. Labels: action
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	ProcessingSeconds *prometheus.HistogramVec
	QueueDepth        prometheus.Gauge
	InFlight          prometheus.Gauge
	FilesChanged      prometheus.Histogram
	Recovered         *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "requests_total",
			Help:      "Comparison requests that reached a terminal state.",
		}, []string{"status"}),
		ProcessingSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "processing_seconds",
			Help:      "Time spent in Processing before reaching a terminal state.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"status"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "queue_depth",
			Help:      "Request ids waiting to be processed.",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "in_flight",
			Help:      "Requests currently being processed.",
		}),
		FilesChanged: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "files_changed",
			Help:      "Files in a completed comparison after ignore filtering.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		Recovered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "recovered_total",
			Help:      "Requests handled by restart recovery.",
		}, []string{"action"}),
	}
}

func (m *Metrics) begin() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) finish(status datatypes.Status, elapsed time.Duration, files int) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.RequestsTotal.WithLabelValues(string(status)).Inc()
	m.ProcessingSeconds.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	if status == datatypes.StatusCompleted {
		m.FilesChanged.Observe(float64(files))
	}
}

func (m *Metrics) recovered(action string) {
	if m != nil {
		m.Recovered.WithLabelValues(action).Inc()
	}
}
