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
	"bufio"
	"bytes"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// =============================================================================
// Numstat
// =============================================================================

// NumstatEntry holds one path's line counts.
type NumstatEntry struct {
	Additions  int
	Deletions  int
	ChangeType datatypes.ChangeType
	Binary     bool
}

// ParseNumstat parses `git diff --numstat` output.
//
// # Description
//
// Accepts both the NUL-terminated (-z) and the newline-terminated form.
// Non-numeric count fields (git prints "-" for binary files) become 0 and
// mark the entry Binary. Records without three fields are reported as
// anomalies and skipped.
//
// # Outputs
//
//   - map[string]NumstatEntry: Entries keyed by repository-relative path.
//   - []*datatypes.ParseError: Anomalies; never fatal.
func ParseNumstat(data []byte) (map[string]NumstatEntry, []*datatypes.ParseError) {
	sep := byte('\n')
	if bytes.IndexByte(data, 0) >= 0 {
		sep = 0
	}

	stats := make(map[string]NumstatEntry)
	var anomalies []*datatypes.ParseError
	for i, record := range bytes.Split(data, []byte{sep}) {
		line := strings.TrimRight(string(record), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 || fields[2] == "" {
			anomalies = append(anomalies, &datatypes.ParseError{
				Line:   i + 1,
				Detail: "numstat record has fewer than three fields",
			})
			continue
		}

		add, addOK := parseCount(fields[0])
		del, delOK := parseCount(fields[1])
		stats[fields[2]] = NumstatEntry{
			Additions:  add,
			Deletions:  del,
			ChangeType: datatypes.ClassifyChange(add, del),
			Binary:     !addOK || !delOK,
		}
	}
	return stats, anomalies
}

func parseCount(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// =============================================================================
// Unified diff
// =============================================================================

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// IgnoreFunc reports whether a repository-relative path is excluded.
type IgnoreFunc func(path string) bool

// ParseUnifiedDiff converts unified diff text into FileDiffs.
//
// # Description
//
// Single stateful pass over the input:
//
//   - "diff --git" closes the current file (dropped if ignored) and opens a
//     new one seeded from stats, or zeroed Modified when absent
//   - lines between that marker and the first hunk are file metadata
//     ("index", "---", "+++", mode lines) and are skipped
//   - "@@ -a,b +c,d @@" resets the new-file line counter to c
//   - "+" records an Addition at the counter, then increments it
//   - "-" records a Deletion at the counter without incrementing
//   - "\" (no newline at end of file) is skipped
//   - any other line is context and increments the counter
//
// The last file is closed after the input ends.
//
// # Inputs
//
//   - r: Unified diff text.
//   - stats: Numstat entries keyed by path. May be nil.
//   - ignored: Path filter. May be nil.
//
// # Outputs
//
//   - []datatypes.FileDiff: Files in diff order, ignored paths removed.
//   - []*datatypes.ParseError: Anomalies such as malformed hunk headers.
//   - error: Non-nil only when reading r fails.
func ParseUnifiedDiff(r io.Reader, stats map[string]NumstatEntry, ignored IgnoreFunc) ([]datatypes.FileDiff, []*datatypes.ParseError, error) {
	p := &diffParser{stats: stats, ignored: ignored}
	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			lineNo++
			p.consume(strings.TrimSuffix(line, "\n"), lineNo)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, p.anomalies, err
		}
	}
	p.flush()
	return p.files, p.anomalies, nil
}

type diffParser struct {
	stats   map[string]NumstatEntry
	ignored IgnoreFunc

	current  *datatypes.FileDiff
	inHeader bool
	counter  int

	files     []datatypes.FileDiff
	anomalies []*datatypes.ParseError
}

func (p *diffParser) consume(line string, lineNo int) {
	if strings.HasPrefix(line, "diff --git ") {
		p.flush()
		p.open(diffGitPath(line))
		return
	}
	if p.current == nil {
		return
	}

	if strings.HasPrefix(line, "@@") {
		p.inHeader = false
		m := hunkHeader.FindStringSubmatch(line)
		if m == nil {
			p.anomalies = append(p.anomalies, &datatypes.ParseError{
				File:   p.current.FilePath,
				Line:   lineNo,
				Detail: "malformed hunk header: " + line,
			})
			return
		}
		start, _ := strconv.Atoi(m[3])
		p.counter = start
		return
	}
	if p.inHeader {
		return
	}

	switch {
	case strings.HasPrefix(line, "+"):
		p.current.LineChanges = append(p.current.LineChanges, datatypes.LineDiff{
			LineNumber: p.counter,
			Content:    line[1:],
			Type:       datatypes.LineAddition,
		})
		p.counter++
	case strings.HasPrefix(line, "-"):
		p.current.LineChanges = append(p.current.LineChanges, datatypes.LineDiff{
			LineNumber: p.counter,
			Content:    line[1:],
			Type:       datatypes.LineDeletion,
		})
	case strings.HasPrefix(line, `\`):
	default:
		p.counter++
	}
}

func (p *diffParser) open(path string) {
	fd := datatypes.FileDiff{
		FilePath:    path,
		ChangeType:  datatypes.ChangeModified,
		LineChanges: []datatypes.LineDiff{},
	}
	if st, ok := p.stats[path]; ok {
		fd.Additions = st.Additions
		fd.Deletions = st.Deletions
		fd.ChangeType = st.ChangeType
		fd.Binary = st.Binary
	}
	p.current = &fd
	p.inHeader = true
	p.counter = 0
}

func (p *diffParser) flush() {
	if p.current == nil {
		return
	}
	if p.ignored == nil || !p.ignored(p.current.FilePath) {
		p.files = append(p.files, *p.current)
	}
	p.current = nil
}

// diffGitPath extracts the new-side path from a "diff --git a/X b/X" line.
//
// Renames are disabled upstream, so both sides name the same path and the
// split point follows from the line length even when X contains " b/".
func diffGitPath(line string) string {
	rest := strings.TrimPrefix(line, "diff --git ")

	if strings.HasPrefix(rest, `"`) {
		if q, err := strconv.QuotedPrefix(rest); err == nil {
			if s, err := strconv.Unquote(q); err == nil {
				return strings.TrimPrefix(s, "a/")
			}
		}
	}

	if strings.HasPrefix(rest, "a/") && (len(rest)-5)%2 == 0 && len(rest) >= 5 {
		n := (len(rest) - 5) / 2
		if rest[2+n:2+n+3] == " b/" && rest[2:2+n] == rest[2+n+3:] {
			return rest[2 : 2+n]
		}
	}
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return strings.Trim(rest[i+3:], `"`)
	}
	return strings.TrimPrefix(rest, "a/")
}
