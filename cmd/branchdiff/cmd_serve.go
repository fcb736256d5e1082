// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/branchdiff/pkg/logging"
	"github.com/AleutianAI/branchdiff/services/comparison"
	"github.com/AleutianAI/branchdiff/services/comparison/api"
	"github.com/AleutianAI/branchdiff/services/comparison/telemetry"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	var (
		addr  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the comparison worker and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if debug {
				cfg.Logging.Level = "debug"
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.New(cfg.Logging.LoggerConfig("branchdiff"))
			defer logger.Close()

			listener, err := net.Listen("tcp", cfg.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Addr, err)
			}
			return serve(ctx, opts, cfg.HTTP.Addr, listener, logger.Slog(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&debug, "debug", false, "debug logging and gin debug mode")
	return cmd
}

// serve runs the service and the HTTP server on listener until ctx ends,
// then shuts both down within the configured timeout.
func serve(ctx context.Context, opts *cliOptions, addr string, listener net.Listener, logger *slog.Logger, out io.Writer) error {
	cfg := opts.cfg

	svc, err := comparison.New(cfg, comparison.WithLogger(logger))
	if err != nil {
		listener.Close()
		return err
	}
	defer svc.Close()

	telCfg := cfg.Telemetry.ProviderConfig("branchdiff", version)
	telCfg.Registerer = svc.Registry()
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		listener.Close()
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	if err := svc.Start(ctx); err != nil {
		listener.Close()
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		Backend:     svc,
		Logger:      logger,
		Gatherer:    svc.Registry(),
		ServiceName: telCfg.ServiceName,
		RateLimit:   cfg.HTTP.RateLimit,
		Burst:       cfg.HTTP.Burst,
	})
	server := &http.Server{Handler: router}

	printBanner(out, listener.Addr().String(), svc, telCfg.TraceExporter)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting branchdiff server", slog.String("address", listener.Addr().String()))
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server on %s stopped: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down branchdiff server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", slog.String("error", err.Error()))
	}
	return nil
}

func printBanner(out io.Writer, addr string, svc *comparison.Service, traces string) {
	health := svc.Health()
	fmt.Fprintf(out, "branchdiff listening on http://%s\n", addr)
	fmt.Fprintf(out, "  storage:   %s\n", health.Storage)
	fmt.Fprintf(out, "  transport: %s\n", health.Transport)
	if udp := svc.ListenAddr(); udp != nil {
		fmt.Fprintf(out, "  udp:       %s\n", udp)
	}
	fmt.Fprintf(out, "  metrics:   http://%s/metrics\n", addr)
	fmt.Fprintf(out, "  traces:    %s\n", traces)
}
