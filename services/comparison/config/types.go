// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the branchdiff service configuration file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/branchdiff/pkg/logging"
	"github.com/AleutianAI/branchdiff/services/comparison/telemetry"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageBadger = "badger"
)

// Bus transports.
const (
	TransportLocal = "local"
	TransportUDP   = "udp"
)

// Config is the root of branchdiff.yaml.
type Config struct {
	// Git: subprocess and diff settings
	Git GitConfig `yaml:"git"`

	// Storage: where request and result records live
	Storage StorageConfig `yaml:"storage"`

	// Bus: how requested events arrive and lifecycle events leave
	Bus BusConfig `yaml:"bus"`

	// HTTP: the submit/query API
	HTTP HTTPConfig `yaml:"http"`

	// Logging: level, format and optional log directory
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry: OpenTelemetry trace and metric exporters
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type GitConfig struct {
	Binary string `yaml:"binary" validate:"required"` // e.g. git, /usr/bin/git

	// Timeout bounds each git invocation. 0 disables the bound.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// IgnoreFile is the per-directory ignore file name, e.g. .gitignore
	IgnoreFile string `yaml:"ignore_file" validate:"required,excludesall=/\\"`

	// TargetCandidates are tried in order when a request names no target.
	TargetCandidates []string `yaml:"target_candidates" validate:"min=1,dive,required"`
}

type StorageConfig struct {
	Backend        string        `yaml:"backend" validate:"oneof=memory badger"`
	Path           string        `yaml:"path" validate:"required_if=Backend badger"`
	SyncWrites     bool          `yaml:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

type BusConfig struct {
	// Transport is "local" (in-process) or "udp".
	Transport string `yaml:"transport" validate:"oneof=local udp"`

	// ListenAddr receives comparison.requested datagrams. udp only, optional.
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`

	// PeerAddr receives lifecycle events. udp only, optional.
	PeerAddr string `yaml:"peer_addr" validate:"omitempty,hostname_port"`

	// RecentBuffer is how many messages the local bus keeps for inspection.
	RecentBuffer int `yaml:"recent_buffer" validate:"gte=0"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// RateLimit is requests per second per client. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	Dir    string `yaml:"dir,omitempty"`
}

// TelemetryConfig selects exporters. OTEL_TRACES_EXPORTER,
// OTEL_METRICS_EXPORTER and OTEL_EXPORTER_OTLP_ENDPOINT override it.
type TelemetryConfig struct {
	TraceExporter  string  `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string  `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint" validate:"omitempty,hostname_port"`
	OTLPInsecure   bool    `yaml:"otlp_insecure"`
	SampleRatio    float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
	Environment    string  `yaml:"environment,omitempty"`
}

// DefaultConfig returns an in-process, in-memory configuration listening
// on localhost.
func DefaultConfig() Config {
	return Config{
		Git: GitConfig{
			Binary:           "git",
			IgnoreFile:       ".gitignore",
			TargetCandidates: []string{"main", "master", "origin/main", "origin/master"},
		},
		Storage: StorageConfig{
			Backend:        StorageMemory,
			Path:           defaultDataDir(),
			SyncWrites:     true,
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Bus: BusConfig{
			Transport:    TransportLocal,
			RecentBuffer: 256,
		},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8087",
			RateLimit:       20,
			Burst:           40,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  telemetry.ExporterNone,
			MetricExporter: telemetry.ExporterPrometheus,
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
			SampleRatio:    1,
			Environment:    "development",
		},
	}
}

// LoggerConfig converts the logging section for pkg/logging.
func (c LoggingConfig) LoggerConfig(service string) logging.Config {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Dir,
		Service: service,
		JSON:    c.Format == "json",
	}
}

// ProviderConfig converts the telemetry section for package telemetry,
// applying the OTEL_* environment overrides.
func (c TelemetryConfig) ProviderConfig(service, version string) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = service
	cfg.ServiceVersion = version
	cfg.TraceExporter = c.TraceExporter
	cfg.MetricExporter = c.MetricExporter
	cfg.OTLPEndpoint = c.OTLPEndpoint
	cfg.OTLPInsecure = c.OTLPInsecure
	cfg.SampleRatio = c.SampleRatio
	if c.Environment != "" {
		cfg.Environment = c.Environment
	}
	return telemetry.ApplyEnv(cfg)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "branchdiff", "data")
	}
	return filepath.Join(home, ".branchdiff", "data")
}
