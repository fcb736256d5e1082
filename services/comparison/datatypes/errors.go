// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for store and state machine operations.
var (
	// ErrNotFound is returned when a request or result id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition is returned for a state machine edge that does
	// not exist, including any edge leaving a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrResultNotReady is returned when a result is queried before the
	// request reached StatusCompleted.
	ErrResultNotReady = errors.New("result not ready")
)

// ConfigurationError reports an unusable repository path or setting.
type ConfigurationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Path, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// RepositoryError reports a ref that cannot be resolved.
type RepositoryError struct {
	Repository string
	Ref        string
	Reason     string
	Err        error
}

func (e *RepositoryError) Error() string {
	msg := fmt.Sprintf("repository error: %s", e.Repository)
	if e.Ref != "" {
		msg += fmt.Sprintf(": ref %q", e.Ref)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// CommandExecutionError reports a git subprocess that failed or exited non-zero.
type CommandExecutionError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandExecutionError) Error() string {
	var b strings.Builder
	b.WriteString("git ")
	b.WriteString(strings.Join(e.Args, " "))
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *CommandExecutionError) Unwrap() error { return e.Err }

// ParseError reports a malformed line in git output.
//
// Parse errors never abort a comparison; the diff engine logs them and
// continues with the remaining input.
type ParseError struct {
	File   string
	Line   int
	Detail string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("parse error: %s line %d: %s", e.File, e.Line, e.Detail)
	}
	return fmt.Sprintf("parse error: line %d: %s", e.Line, e.Detail)
}

// SerializationError reports a message envelope that could not be encoded
// or decoded.
type SerializationError struct {
	MessageType string
	Op          string
	Err         error
}

func (e *SerializationError) Error() string {
	if e.MessageType != "" {
		return fmt.Sprintf("serialization error: %s %s: %v", e.Op, e.MessageType, e.Err)
	}
	return fmt.Sprintf("serialization error: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
