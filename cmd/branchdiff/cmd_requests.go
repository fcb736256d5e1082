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
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/branchdiff/services/comparison/api"
	"github.com/AleutianAI/branchdiff/services/comparison/bus"
	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// --- Queued comparisons on a running server ---

func newSubmitCmd(opts *cliOptions) *cobra.Command {
	var (
		server, udpPeer string
		source, target  string
		requestedBy     string
		wait            bool
		interval        time.Duration
		timeout         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <repository>",
		Short: "Queue a comparison on a running server",
		Long: `Queue a comparison and print its request id.

By default the request is POSTed to the server's HTTP API. With --udp the
request is sent as a single datagram to the server's bus listener instead;
delivery is then at-most-once and the id is chosen locally.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			ctx := cmd.Context()

			repo, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			req := api.SubmitRequest{
				RepositoryPath: repo,
				SourceBranch:   source,
				TargetBranch:   target,
				RequestedBy:    requestedBy,
			}

			client := newAPIClient(serverAddr(opts, server))
			var id string
			if udpPeer != "" {
				id, err = submitUDP(ctx, udpPeer, req)
			} else {
				var resp *api.SubmitResponse
				if resp, err = client.Submit(ctx, req); err == nil {
					id = resp.RequestID
				}
			}
			if err != nil {
				return err
			}

			if !wait {
				if opts.output.JSON {
					return writeResult(cmd.OutOrStdout(), opts.output, "submit", start,
						api.SubmitResponse{RequestID: id, Status: datatypes.StatusPending})
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}

			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			final, err := client.Wait(waitCtx, id, interval, udpPeer != "")
			if err != nil {
				return err
			}
			return showRequest(cmd, opts, client, "submit", start, final)
		},
	}

	f := cmd.Flags()
	f.StringVar(&server, "server", "", "server address (default: http.addr)")
	f.StringVar(&udpPeer, "udp", "", "send the request to this bus listener (host:port) instead of HTTP")
	f.StringVar(&source, "source", "", "source branch (default: current branch)")
	f.StringVar(&target, "target", "", "target branch (default: first existing target candidate)")
	f.StringVar(&requestedBy, "requested-by", "", "free-form requester name")
	f.BoolVar(&wait, "wait", false, "poll until the comparison finishes and print the outcome")
	f.DurationVar(&interval, "interval", 500*time.Millisecond, "poll interval for --wait")
	f.DurationVar(&timeout, "timeout", 5*time.Minute, "give up waiting after this long")
	return cmd
}

// submitUDP publishes a RequestedEvent with a locally chosen id.
func submitUDP(ctx context.Context, peer string, req api.SubmitRequest) (string, error) {
	pub, err := bus.NewUDPPublisher(peer)
	if err != nil {
		return "", err
	}
	defer pub.Close()

	id := uuid.NewString()
	err = pub.Publish(ctx, &bus.RequestedEvent{
		RequestID:      id,
		RepositoryPath: req.RepositoryPath,
		SourceBranch:   req.SourceBranch,
		TargetBranch:   req.TargetBranch,
		RequestedBy:    req.RequestedBy,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show the status of a queued comparison",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			client := newAPIClient(serverAddr(opts, server))
			req, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.output.JSON {
				return writeResult(cmd.OutOrStdout(), opts.output, "status", start, req)
			}
			return writeRequest(cmd.OutOrStdout(), req)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server address (default: http.addr)")
	return cmd
}

func newResultCmd(opts *cliOptions) *cobra.Command {
	var (
		server string
		lines  bool
	)

	cmd := &cobra.Command{
		Use:   "result <id>",
		Short: "Print the diff of a completed comparison",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			client := newAPIClient(serverAddr(opts, server))
			res, err := client.Result(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.output.JSON {
				return writeResult(cmd.OutOrStdout(), opts.output, "result", start, res)
			}
			return writeDiffSummary(cmd.OutOrStdout(), res, lines)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server address (default: http.addr)")
	cmd.Flags().BoolVar(&lines, "lines", false, "print every added and removed line")
	return cmd
}

func newListCmd(opts *cliOptions) *cobra.Command {
	var (
		server   string
		statuses []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List comparisons known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			client := newAPIClient(serverAddr(opts, server))
			resp, err := client.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.output.JSON {
				return writeResult(out, opts.output, "list", start, resp)
			}
			for _, req := range resp.Requests {
				fmt.Fprintf(out, "%s  %-10s  %s\n", req.RequestID, req.Status, req.RepositoryPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server address (default: http.addr)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only these statuses (pending, processing, completed, failed)")
	return cmd
}

// showRequest prints a finished request. A completed request is followed by
// its diff summary; a failed one exits with CLIExitFindings.
func showRequest(cmd *cobra.Command, opts *cliOptions, client *apiClient, name string, start time.Time, req *datatypes.ComparisonRequest) error {
	out := cmd.OutOrStdout()
	var res *datatypes.GitDiffResult
	if req.Status == datatypes.StatusCompleted {
		var err error
		if res, err = client.Result(cmd.Context(), req.RequestID); err != nil {
			return err
		}
	}

	if opts.output.JSON {
		data := struct {
			Request *datatypes.ComparisonRequest `json:"request"`
			Result  *datatypes.GitDiffResult     `json:"result,omitempty"`
		}{req, res}
		if err := writeResult(out, opts.output, name, start, data); err != nil {
			return err
		}
	} else {
		if err := writeRequest(out, req); err != nil {
			return err
		}
		if res != nil {
			if err := writeDiffSummary(out, res, false); err != nil {
				return err
			}
		}
	}

	if req.Status == datatypes.StatusFailed {
		return &exitError{code: CLIExitFindings}
	}
	return nil
}
