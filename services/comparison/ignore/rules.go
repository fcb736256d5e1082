// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ignore parses gitignore-style files and filters changed paths.
//
// # Description
//
// Rules are read one per line. Blank lines and lines starting with "#" are
// skipped, a leading "!" negates a rule and a trailing "/" restricts it to
// directories. Rule sets from nested ignore files are concatenated root
// first, and the last matching rule decides whether a path is ignored.
//
// # Pattern Semantics
//
//   - "**/" matches zero or more path segments
//   - "*" matches a run of characters other than "/"
//   - "?" matches one character other than "/"
//   - matching is case-insensitive and anchored to the whole path
//   - a pattern with no "/" (other than a trailing one) matches at any depth
//     below the directory of its ignore file; otherwise it is anchored there
//   - a rule matching a directory also matches everything below it; a
//     directory-only rule matches nothing else
//
// Character classes and escaped metacharacters are not supported.
//
// # Thread Safety
//
// All functions are safe for concurrent use. RuleSet is safe for concurrent
// use.
package ignore

import (
	"bufio"
	"iter"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/AleutianAI/branchdiff/services/comparison/datatypes"
)

// DefaultFileName is the ignore file consulted when none is configured.
const DefaultFileName = ".gitignore"

// =============================================================================
// Parsing
// =============================================================================

// ParseIgnoreFile lazily yields the rules of one ignore file.
//
// # Description
//
// The file is opened when iteration starts and closed when it stops,
// including early termination by the consumer. A missing or unreadable file
// yields no rules.
//
// # Inputs
//
//   - path: Path of the ignore file.
//
// # Outputs
//
//   - iter.Seq[datatypes.IgnoreRule]: Rules in file order. Base is empty.
func ParseIgnoreFile(path string) iter.Seq[datatypes.IgnoreRule] {
	return parseWithBase(path, "")
}

func parseWithBase(file, base string) iter.Seq[datatypes.IgnoreRule] {
	return func(yield func(datatypes.IgnoreRule) bool) {
		f, err := os.Open(file)
		if err != nil {
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			rule, ok := ParseLine(scanner.Text())
			if !ok {
				continue
			}
			rule.SourceFile = file
			rule.Base = base
			if !yield(rule) {
				return
			}
		}
	}
}

// ParseLine parses a single ignore-file line.
//
// Returns false for blank lines, comments, and lines that reduce to an empty
// pattern (a bare "!" or "/").
func ParseLine(line string) (datatypes.IgnoreRule, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return datatypes.IgnoreRule{}, false
	}

	var rule datatypes.IgnoreRule
	if strings.HasPrefix(line, "!") {
		rule.IsNegation = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		rule.IsDirectoryOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if line == "" {
		return datatypes.IgnoreRule{}, false
	}
	rule.Pattern = line
	return rule, true
}

// LoadHierarchicalRules collects the rules that apply inside relativePath.
//
// # Description
//
// Reads the ignore file at repoRoot, then the ignore file of every directory
// on the way down to relativePath, and concatenates them in that order.
// Later rules take precedence over earlier ones.
//
// # Inputs
//
//   - repoRoot: Repository working tree root.
//   - relativePath: Slash- or OS-separated directory relative to repoRoot.
//
// # Outputs
//
//   - []datatypes.IgnoreRule: Combined rules; nil when no ignore files exist.
func LoadHierarchicalRules(repoRoot, relativePath string) []datatypes.IgnoreRule {
	return loadHierarchical(repoRoot, relativePath, DefaultFileName)
}

func loadHierarchical(repoRoot, relativePath, fileName string) []datatypes.IgnoreRule {
	var rules []datatypes.IgnoreRule
	for _, dir := range ancestorDirs(Normalize(relativePath)) {
		file := filepath.Join(repoRoot, filepath.FromSlash(dir), fileName)
		for rule := range parseWithBase(file, dir) {
			rules = append(rules, rule)
		}
	}
	return rules
}

// ancestorDirs returns "", "a", "a/b", ... for "a/b".
func ancestorDirs(rel string) []string {
	dirs := []string{""}
	if rel == "" || rel == "." {
		return dirs
	}
	parts := strings.Split(rel, "/")
	for i := range parts {
		dirs = append(dirs, strings.Join(parts[:i+1], "/"))
	}
	return dirs
}

// =============================================================================
// Matching
// =============================================================================

// IsIgnored reports whether path is excluded by rules.
//
// Every rule is evaluated; each match sets the result to !IsNegation, so the
// last matching rule wins.
func IsIgnored(path string, rules []datatypes.IgnoreRule) bool {
	return defaultMatcher.IsIgnored(path, rules)
}

// Normalize converts path to the slash-separated, root-relative form used
// for matching.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Matcher caches compiled patterns.
type Matcher struct {
	compiled sync.Map // pattern -> *regexp.Regexp
}

var defaultMatcher = &Matcher{}

// IsIgnored evaluates rules against path. See the package IsIgnored.
func (m *Matcher) IsIgnored(p string, rules []datatypes.IgnoreRule) bool {
	p = Normalize(p)
	ignored := false
	for _, rule := range rules {
		if m.Matches(rule, p) {
			ignored = !rule.IsNegation
		}
	}
	return ignored
}

// Matches reports whether rule applies to the normalized path p.
func (m *Matcher) Matches(rule datatypes.IgnoreRule, p string) bool {
	rel := p
	if rule.Base != "" {
		prefix := rule.Base + "/"
		if len(p) <= len(prefix) || !strings.EqualFold(p[:len(prefix)], prefix) {
			return false
		}
		rel = p[len(prefix):]
	}
	if rel == "" {
		return false
	}

	re := m.regexp(rule.Pattern)

	// Ancestor directories first; a directory-only rule stops there.
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' && re.MatchString(rel[:i]) {
			return true
		}
	}
	if rule.IsDirectoryOnly {
		return false
	}
	return re.MatchString(rel)
}

func (m *Matcher) regexp(pattern string) *regexp.Regexp {
	if v, ok := m.compiled.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re := regexp.MustCompile(translate(pattern))
	v, _ := m.compiled.LoadOrStore(pattern, re)
	return v.(*regexp.Regexp)
}

// translate converts a glob pattern to an anchored, case-insensitive regular
// expression. Every non-glob character is quoted, so the result always
// compiles.
func translate(pattern string) string {
	anchored := strings.Contains(pattern, "/")
	pattern = strings.TrimPrefix(pattern, "/")

	var b strings.Builder
	b.WriteString("(?i)^")
	if !anchored {
		b.WriteString("(?:.*/)?")
	}
	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 3
		case pattern[i:] == "/**":
			b.WriteString("(?:/.*)?")
			i += 3
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			b.WriteString("[^/]*")
			i++
		case pattern[i] == '?':
			b.WriteString("[^/]")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}
	b.WriteString("$")
	return b.String()
}

// =============================================================================
// RuleSet
// =============================================================================

// RuleSet answers IsIgnored for many paths of one repository, loading the
// hierarchical rules of each directory at most once.
type RuleSet struct {
	root     string
	fileName string
	matcher  *Matcher

	mu    sync.Mutex
	byDir map[string][]datatypes.IgnoreRule
}

// NewRuleSet creates a RuleSet rooted at repoRoot.
//
// # Inputs
//
//   - repoRoot: Repository working tree root.
//   - fileName: Ignore file name; DefaultFileName when empty.
func NewRuleSet(repoRoot, fileName string) *RuleSet {
	if fileName == "" {
		fileName = DefaultFileName
	}
	return &RuleSet{
		root:     repoRoot,
		fileName: fileName,
		matcher:  defaultMatcher,
		byDir:    make(map[string][]datatypes.IgnoreRule),
	}
}

// RulesFor returns the combined rules for the directory containing p.
func (s *RuleSet) RulesFor(p string) []datatypes.IgnoreRule {
	dir := path.Dir(Normalize(p))
	if dir == "." {
		dir = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rules, ok := s.byDir[dir]; ok {
		return rules
	}
	rules := loadHierarchical(s.root, dir, s.fileName)
	s.byDir[dir] = rules
	return rules
}

// IsIgnored reports whether the repository-relative path p is excluded.
func (s *RuleSet) IsIgnored(p string) bool {
	return s.matcher.IsIgnored(p, s.RulesFor(p))
}
