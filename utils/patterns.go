package utils

import (
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// PatternMatcher filters scan candidates by glob or regular expression.
// Globs match the base name; regular expressions match the whole path.
// NTFS names are case-insensitive, so matching folds case on Windows.
type PatternMatcher struct {
	includeGlobs []string
	includeRegex []*regexp.Regexp
	excludeGlobs []string
	excludeRegex []*regexp.Regexp
	foldCase     bool
}

func NewPatternMatcher(includePatterns, excludePatterns []string) *PatternMatcher {
	return newPatternMatcher(includePatterns, excludePatterns, runtime.GOOS == "windows")
}

func newPatternMatcher(includePatterns, excludePatterns []string, foldCase bool) *PatternMatcher {
	m := &PatternMatcher{foldCase: foldCase}
	m.includeGlobs, m.includeRegex = m.compile(includePatterns)
	m.excludeGlobs, m.excludeRegex = m.compile(excludePatterns)
	return m
}

func (m *PatternMatcher) ShouldInclude(path string) bool {
	if m == nil {
		return true
	}
	if (len(m.includeGlobs) > 0 || len(m.includeRegex) > 0) && !m.matches(path, m.includeGlobs, m.includeRegex) {
		return false
	}
	if (len(m.excludeGlobs) > 0 || len(m.excludeRegex) > 0) && m.matches(path, m.excludeGlobs, m.excludeRegex) {
		return false
	}
	return true
}

func (m *PatternMatcher) matches(path string, globs []string, regexes []*regexp.Regexp) bool {
	base := filepath.Base(path)
	if m.foldCase {
		base = strings.ToLower(base)
	}
	for _, pattern := range globs {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	for _, re := range regexes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// compile splits patterns into globs and regular expressions. Every pattern
// is tried as a glob; patterns that also compile as regexps are kept as both.
func (m *PatternMatcher) compile(patterns []string) ([]string, []*regexp.Regexp) {
	globs := make([]string, 0, len(patterns))
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		glob := pattern
		expr := pattern
		if m.foldCase {
			glob = strings.ToLower(pattern)
			expr = "(?i)" + pattern
		}
		globs = append(globs, glob)
		if re, err := regexp.Compile(expr); err == nil {
			compiled = append(compiled, re)
		}
	}
	return globs, compiled
}
