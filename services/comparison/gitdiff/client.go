// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitdiff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// Client issues the read-only git queries the diff engine needs.
//
// # Description
//
// Every method takes the repository directory explicitly, so one Client
// serves all requests. Nothing here mutates the checkout.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Client struct {
	runner *Runner
}

// NewClient creates a Client backed by runner.
func NewClient(runner *Runner) *Client {
	return &Client{runner: runner}
}

// IsWorkTree returns nil when repo is inside a git working tree.
func (c *Client) IsWorkTree(ctx context.Context, repo string) error {
	out, err := c.runner.Run(ctx, repo, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(out)) != "true" {
		return fmt.Errorf("%s is not inside a work tree", repo)
	}
	return nil
}

// CurrentBranch returns the checked-out branch, or "HEAD" when detached.
func (c *Client) CurrentBranch(ctx context.Context, repo string) (string, error) {
	out, err := c.runner.Run(ctx, repo, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("getting current branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// RefExists reports whether ref resolves to a commit.
//
// # Outputs
//
//   - bool: True when the ref exists.
//   - error: Non-nil only when git itself failed (not for a missing ref).
func (c *Client) RefExists(ctx context.Context, repo, ref string) (bool, error) {
	if ref == "" || strings.HasPrefix(ref, "-") {
		return false, nil
	}
	_, err := c.runner.Run(ctx, repo, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err == nil {
		return true, nil
	}
	var cmdErr *datatypes.CommandExecutionError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// ListBranches returns local and remote-tracking branch names.
func (c *Client) ListBranches(ctx context.Context, repo string) ([]string, error) {
	out, err := c.runner.Run(ctx, repo, "for-each-ref", "--format=%(refname:short)", "refs/heads", "refs/remotes")
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	return splitLines(out), nil
}

// ListFiles returns every tracked path at ref.
func (c *Client) ListFiles(ctx context.Context, repo, ref string) ([]string, error) {
	out, err := c.runner.Run(ctx, repo, "ls-tree", "-r", "--name-only", "--full-tree", ref)
	if err != nil {
		return nil, fmt.Errorf("listing files at %s: %w", ref, err)
	}
	return splitLines(out), nil
}

// NumStat returns `git diff --numstat -z` output from target to source.
func (c *Client) NumStat(ctx context.Context, repo, target, source string) ([]byte, error) {
	return c.runner.Run(ctx, repo, "diff", "--numstat", "-z", "--no-renames", target, source, "--")
}

// UnifiedDiff returns the full unified diff from target to source.
func (c *Client) UnifiedDiff(ctx context.Context, repo, target, source string) ([]byte, error) {
	return c.runner.Run(ctx, repo, "diff", "--no-color", "--no-ext-diff", "--no-renames", "-U3", target, source, "--")
}

func splitLines(out []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
