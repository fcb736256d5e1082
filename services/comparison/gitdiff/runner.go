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
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// Runner executes git subprocesses.
//
// # Description
//
// Each call starts one process, drains stdout and stderr concurrently while
// the process runs, then reaps it. Output that exceeds the OS pipe buffer
// therefore never blocks the child. Cancelling ctx kills the process; Wait
// is still called on every path so no process or pipe is leaked.
//
// # Thread Safety
//
// Runner is safe for concurrent use.
type Runner struct {
	binary  string
	timeout time.Duration
}

// NewRunner creates a Runner.
//
// # Inputs
//
//   - binary: git executable; "git" when empty.
//   - timeout: Per-command timeout; zero disables it.
func NewRunner(binary string, timeout time.Duration) *Runner {
	if binary == "" {
		binary = "git"
	}
	return &Runner{binary: binary, timeout: timeout}
}

// waitDelay bounds how long Wait blocks on pipes held open by a killed
// process's descendants.
const waitDelay = 2 * time.Second

// Run executes git with args in dir and returns stdout.
//
// # Outputs
//
//   - []byte: Captured stdout.
//   - error: *datatypes.CommandExecutionError for a start failure, a non-zero
//     exit, or cancellation. Stderr is attached verbatim.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// quotePath=false keeps non-ASCII paths raw so diff headers and -z
	// numstat paths agree.
	fullArgs := append([]string{"-c", "core.quotePath=false"}, args...)
	cmd := exec.CommandContext(ctx, r.binary, fullArgs...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_PAGER=cat", "LC_ALL=C")
	cmd.WaitDelay = waitDelay

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &datatypes.CommandExecutionError{Args: args, ExitCode: -1, Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &datatypes.CommandExecutionError{Args: args, ExitCode: -1, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &datatypes.CommandExecutionError{Args: args, ExitCode: -1, Err: err}
	}

	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&stdout, stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, stderrPipe)
		return err
	})
	copyErr := g.Wait()
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &datatypes.CommandExecutionError{Args: args, ExitCode: -1, Stderr: stderr.String(), Err: ctxErr}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, &datatypes.CommandExecutionError{
				Args:     args,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
				Err:      waitErr,
			}
		}
		return nil, &datatypes.CommandExecutionError{Args: args, ExitCode: -1, Stderr: stderr.String(), Err: waitErr}
	}
	if copyErr != nil && !errors.Is(copyErr, os.ErrClosed) {
		return nil, &datatypes.CommandExecutionError{Args: args, ExitCode: -1, Stderr: stderr.String(), Err: copyErr}
	}
	return stdout.Bytes(), nil
}
