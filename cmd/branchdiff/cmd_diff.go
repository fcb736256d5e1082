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
	"time"

	"github.com/spf13/cobra"
)

// --- One-shot repository commands ---

func newDiffCmd(opts *cliOptions) *cobra.Command {
	var (
		source, target string
		lines          bool
		exitCode       bool
	)

	cmd := &cobra.Command{
		Use:   "diff <repository>",
		Short: "Compare two branches of a local repository and print the changes",
		Long: `Compare source against target without the queue.

The source defaults to the checked-out branch; the target defaults to the
first of git.target_candidates that exists. Paths matched by the
repository's ignore files are left out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			svc, err := openLocal(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Diff(cmd.Context(), args[0], source, target)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.output.JSON {
				err = writeResult(out, opts.output, "diff", start, res)
			} else {
				err = writeDiffSummary(out, res, lines)
			}
			if err != nil {
				return err
			}
			if exitCode && len(res.FileDiffs) > 0 {
				return &exitError{code: CLIExitFindings}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source branch (default: current branch)")
	cmd.Flags().StringVar(&target, "target", "", "target branch (default: first existing target candidate)")
	cmd.Flags().BoolVar(&lines, "lines", false, "print every added and removed line")
	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "exit with 1 when the branches differ")
	return cmd
}

func newBranchesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "branches <repository>",
		Short: "List local branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			svc, err := openLocal(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svc.Close()

			branches, err := svc.Branches(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeList(cmd, opts, "branches", start, branches)
		},
	}
}

func newFilesCmd(opts *cliOptions) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "files <repository>",
		Short: "List tracked files at a ref, minus ignored paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			svc, err := openLocal(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svc.Close()

			files, err := svc.Files(cmd.Context(), args[0], ref)
			if err != nil {
				return err
			}
			return writeList(cmd, opts, "files", start, files)
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "branch or commit (default: HEAD)")
	return cmd
}

func writeList(cmd *cobra.Command, opts *cliOptions, name string, start time.Time, items []string) error {
	out := cmd.OutOrStdout()
	if opts.output.JSON {
		if items == nil {
			items = []string{}
		}
		return writeResult(out, opts.output, name, start, items)
	}
	for _, item := range items {
		fmt.Fprintln(out, item)
	}
	return nil
}
