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
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/branchdiff/services/comparison"
	"github.com/AleutianAI/branchdiff/services/comparison/config"
)

// cliOptions is shared by every subcommand. cfg is filled in by the root
// PersistentPreRunE.
type cliOptions struct {
	configPath string
	output     OutputConfig
	cfg        config.Config
}

// newRootCmd builds the command tree. Tests build their own tree so flag
// state never leaks between runs.
func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:     "branchdiff",
		Version: version,
		Short: "Compare git branches, on demand or through a queued service",
		Long: `branchdiff compares two branches of a local git repository and reports
per-file and per-line changes, honouring .gitignore rules.

Run it one-shot with "branchdiff diff", or start the service with
"branchdiff serve" and submit comparisons over HTTP or UDP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath == "" {
				path, err := config.DefaultPath()
				if err != nil {
					return err
				}
				opts.configPath = path
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.branchdiff/branchdiff.yaml)")
	flags.BoolVar(&opts.output.JSON, "json", false, "output as JSON")
	flags.BoolVar(&opts.output.Compact, "compact", false, "compact JSON (no indentation)")

	root.AddCommand(
		newServeCmd(opts),
		newDiffCmd(opts),
		newBranchesCmd(opts),
		newFilesCmd(opts),
		newSubmitCmd(opts),
		newStatusCmd(opts),
		newResultCmd(opts),
		newListCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// --- Config ---

func newConfigCmd(opts *cliOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to --config",
		// The file may not exist yet, so skip the root loader.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				var err error
				if path, err = config.DefaultPath(); err != nil {
					return err
				}
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.output.JSON {
				return OutputJSON(cmd.OutOrStdout(), opts.cfg, opts.output.Compact)
			}
			data, err := yaml.Marshal(opts.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}

// --- Helpers ---

// openLocal builds an in-process service for one-shot commands. It never
// starts the worker and never touches the configured storage or bus.
func openLocal(opts *cliOptions, stderr io.Writer) (*comparison.Service, error) {
	cfg := opts.cfg
	cfg.Storage.Backend = config.StorageMemory
	cfg.Bus.Transport = config.TransportLocal
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return comparison.New(cfg, comparison.WithLogger(logger))
}

// serverAddr is --server if set, otherwise the configured HTTP address.
func serverAddr(opts *cliOptions, flag string) string {
	if flag != "" {
		return flag
	}
	return opts.cfg.HTTP.Addr
}
