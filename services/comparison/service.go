// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package comparison assembles the branch comparison service.
//
// # Description
//
// Service owns one of each long-lived component: the request and result
// stores, the queue, the worker, the intake handler, the diff engine and
// the bus transports. Requests enter through Submit or a
// comparison.requested message, are processed in FIFO order by a single
// worker, and are queried with GetRequest and GetResult.
//
// # Thread Safety
//
// All methods are safe for concurrent use after New returns.
package comparison

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AleutianAI/branchdiff/services/comparison/bus"
	"github.com/AleutianAI/branchdiff/services/comparison/config"
	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
	"github.com/AleutianAI/branchdiff/services/comparison/gitdiff"
	"github.com/AleutianAI/branchdiff/services/comparison/ignore"
	"github.com/AleutianAI/branchdiff/services/comparison/intake"
	"github.com/AleutianAI/branchdiff/services/comparison/pipeline"
	badgerdb "github.com/AleutianAI/branchdiff/services/comparison/storage/badger"
	"github.com/AleutianAI/branchdiff/services/comparison/store"
)

// Service is a running comparison service.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	db       *badgerdb.DB
	requests store.RequestStore
	results  store.ResultStore

	git    *gitdiff.Client
	engine *gitdiff.Engine
	queue  *pipeline.Queue
	worker *pipeline.Worker
	intake *intake.Handler

	local      *bus.LocalBus
	udpPub     *bus.UDPPublisher
	udpSub     *bus.UDPSubscriber
	subscriber bus.Subscriber

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry registers metrics with reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Service) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// New builds the service described by cfg. It does not start the worker.
//
// cfg is used as given; config.Load has already validated file-based
// configuration.
//
// # Outputs
//
//   - *Service: Ready to Start. Caller must Close it.
//   - error: Storage or transport setup failure.
func New(cfg config.Config, opts ...Option) (_ *Service, err error) {
	s := &Service{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	defer func() {
		if err != nil {
			_ = s.closeResources()
		}
	}()

	if err := s.openStores(); err != nil {
		return nil, err
	}

	busMetrics := bus.NewMetrics(s.registry)
	busOpts := []bus.Option{
		bus.WithLogger(s.logger.With(slog.String("component", "bus"))),
		bus.WithMetrics(busMetrics),
		bus.WithRecentBuffer(cfg.Bus.RecentBuffer),
	}
	var publisher bus.Publisher
	switch cfg.Bus.Transport {
	case config.TransportUDP:
		if cfg.Bus.PeerAddr != "" {
			s.udpPub, err = bus.NewUDPPublisher(cfg.Bus.PeerAddr, busOpts...)
			if err != nil {
				return nil, err
			}
			publisher = s.udpPub
		}
		if cfg.Bus.ListenAddr != "" {
			s.udpSub, err = bus.ListenUDP(cfg.Bus.ListenAddr, busOpts...)
			if err != nil {
				return nil, err
			}
			s.subscriber = s.udpSub
		}
	case config.TransportLocal, "":
		s.local = bus.NewLocalBus(busOpts...)
		publisher = s.local
		s.subscriber = s.local
	default:
		return nil, fmt.Errorf("unknown bus transport %q", cfg.Bus.Transport)
	}

	s.git = gitdiff.NewClient(gitdiff.NewRunner(cfg.Git.Binary, cfg.Git.Timeout))
	engineOpts := []gitdiff.EngineOption{
		gitdiff.WithLogger(s.logger.With(slog.String("component", "gitdiff"))),
		gitdiff.WithTargetCandidates(cfg.Git.TargetCandidates),
	}
	if cfg.Git.IgnoreFile != "" {
		engineOpts = append(engineOpts, gitdiff.WithIgnoreFile(cfg.Git.IgnoreFile))
	}
	s.engine = gitdiff.NewEngine(s.git, engineOpts...)

	pipelineMetrics := pipeline.NewMetrics(s.registry)
	s.queue = pipeline.NewQueue(pipeline.WithDepthGauge(pipelineMetrics.QueueDepth))
	s.worker = pipeline.NewWorker(s.queue, s.requests, s.results, s.engine, publisher,
		pipeline.WithWorkerLogger(s.logger.With(slog.String("component", "worker"))),
		pipeline.WithWorkerMetrics(pipelineMetrics))
	s.intake = intake.NewHandler(s.requests, s.queue,
		intake.WithLogger(s.logger.With(slog.String("component", "intake"))))

	return s, nil
}

func (s *Service) openStores() error {
	switch s.cfg.Storage.Backend {
	case config.StorageMemory, "":
		s.requests = store.NewMemoryRequestStore()
		s.results = store.NewMemoryResultStore()
	case config.StorageBadger:
		db, err := badgerdb.Open(badgerdb.Config{
			Path:           s.cfg.Storage.Path,
			SyncWrites:     s.cfg.Storage.SyncWrites,
			Logger:         s.logger.With(slog.String("component", "badger")),
			GCInterval:     s.cfg.Storage.GCInterval,
			GCDiscardRatio: s.cfg.Storage.GCDiscardRatio,
		})
		if err != nil {
			return fmt.Errorf("open request database: %w", err)
		}
		s.db = db
		s.requests = store.NewBadgerRequestStore(db)
		s.results = store.NewBadgerResultStore(db)
	default:
		return fmt.Errorf("unknown storage backend %q", s.cfg.Storage.Backend)
	}
	return nil
}

// Start recovers unfinished requests, subscribes intake to the bus and
// starts the worker. It may be called once.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("service is closed")
	}
	if s.started {
		return errors.New("service already started")
	}

	if _, _, err := s.worker.Recover(ctx); err != nil {
		return fmt.Errorf("recover requests: %w", err)
	}
	if s.subscriber != nil {
		if err := s.intake.Register(s.subscriber); err != nil {
			return fmt.Errorf("subscribe intake: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.worker.Run(runCtx); err != nil {
			s.logger.Error("worker stopped", slog.String("error", err.Error()))
		}
	}()
	s.started = true
	s.logger.Info("comparison service started",
		slog.String("storage", s.storageName()),
		slog.String("transport", s.transportName()))
	return nil
}

// Close stops the worker, then the transports, then storage.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return s.closeResources()
}

func (s *Service) closeResources() error {
	var errs []error
	if s.udpSub != nil {
		errs = append(errs, s.udpSub.Close())
	}
	if s.udpPub != nil {
		errs = append(errs, s.udpPub.Close())
	}
	if s.local != nil {
		errs = append(errs, s.local.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// Submit records a comparison request and returns its id.
//
// The request is Pending and queued when Submit returns, so GetRequest
// finds it immediately.
func (s *Service) Submit(ctx context.Context, req *bus.RequestedEvent) (string, error) {
	return s.intake.HandleRequested(ctx, req)
}

// GetRequest returns the current record for id. ErrNotFound when unknown.
func (s *Service) GetRequest(ctx context.Context, id string) (*datatypes.ComparisonRequest, error) {
	return s.requests.Get(ctx, id)
}

// ListRequests returns records in submission order, optionally filtered.
func (s *Service) ListRequests(ctx context.Context, statuses ...datatypes.Status) ([]*datatypes.ComparisonRequest, error) {
	return s.requests.List(ctx, statuses...)
}

// GetResult returns the stored diff for a Completed request.
//
// # Outputs
//
//   - error: ErrNotFound for an unknown id, ErrResultNotReady while the
//     request is Pending, Processing or Failed.
func (s *Service) GetResult(ctx context.Context, id string) (*datatypes.GitDiffResult, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != datatypes.StatusCompleted {
		return nil, fmt.Errorf("request %s is %s: %w", id, req.Status, datatypes.ErrResultNotReady)
	}
	return s.results.Get(ctx, id)
}

// Diff runs a comparison synchronously without recording it.
func (s *Service) Diff(ctx context.Context, repoPath, source, target string) (*datatypes.GitDiffResult, error) {
	return s.engine.GenerateDiff(ctx, repoPath, source, target)
}

// Branches lists the local branches of repoPath.
func (s *Service) Branches(ctx context.Context, repoPath string) ([]string, error) {
	return s.git.ListBranches(ctx, repoPath)
}

// Files lists the tracked files of ref in repoPath, minus ignored paths.
// An empty ref means HEAD.
func (s *Service) Files(ctx context.Context, repoPath, ref string) ([]string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	files, err := s.git.ListFiles(ctx, repoPath, ref)
	if err != nil {
		return nil, err
	}
	name := s.cfg.Git.IgnoreFile
	if name == "" {
		name = ignore.DefaultFileName
	}
	rules := ignore.NewRuleSet(repoPath, name)
	return slices.DeleteFunc(files, rules.IsIgnored), nil
}

// RecentEvents returns the messages the local bus has carried, oldest
// first. A non-empty messageType keeps only that type. Nil for the UDP
// transport.
func (s *Service) RecentEvents(messageType string) []bus.Message {
	if s.local == nil {
		return nil
	}
	if messageType != "" {
		return s.local.RecentOfType(messageType)
	}
	return s.local.Recent()
}

// ListenAddr returns the bound UDP address for inbound requests, or nil
// when the service does not listen.
func (s *Service) ListenAddr() net.Addr {
	if s.udpSub == nil {
		return nil
	}
	return s.udpSub.Addr()
}

// Registry returns the registry holding the service metrics.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Health summarises the service for liveness checks.
type Health struct {
	Status     string `json:"status"`
	Storage    string `json:"storage"`
	Transport  string `json:"transport"`
	QueueDepth int    `json:"queue_depth"`
}

// Health reports whether the worker is running and the queue depth.
func (s *Service) Health() Health {
	s.mu.Lock()
	status := "ok"
	switch {
	case s.closed:
		status = "stopped"
	case !s.started:
		status = "starting"
	}
	s.mu.Unlock()
	return Health{
		Status:     status,
		Storage:    s.storageName(),
		Transport:  s.transportName(),
		QueueDepth: s.queue.Len(),
	}
}

func (s *Service) storageName() string {
	if s.db != nil {
		return config.StorageBadger
	}
	return config.StorageMemory
}

func (s *Service) transportName() string {
	if s.local != nil {
		return config.TransportLocal
	}
	return config.TransportUDP
}
