package ingest

import (
	"bufio"
	"io"
	"path/filepath"
	"strings"
)

// IgnoreFile is the per-archive pattern file, read from the archive
// root when present.
const IgnoreFile = ".squashignore"

// IgnoreRules holds patterns loaded from a .squashignore file.
// Entries matching any pattern are excluded from traversal, on top of
// the dotfile rule.
type IgnoreRules struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	pattern string
	dirOnly bool // trailing / in source line
}

// ReadIgnoreRules parses .squashignore content: one pattern per line,
// blank lines and # comments skipped, a trailing slash restricts the
// pattern to directories.
func ReadIgnoreRules(r io.Reader) *IgnoreRules {
	ir := &IgnoreRules{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p := ignorePattern{pattern: line}
		if strings.HasSuffix(line, "/") {
			p.pattern = strings.TrimSuffix(line, "/")
			p.dirOnly = true
		}
		ir.patterns = append(ir.patterns, p)
	}

	return ir
}

// Len returns the number of loaded patterns.
func (ir *IgnoreRules) Len() int {
	if ir == nil {
		return 0
	}
	return len(ir.patterns)
}

// Match reports whether the given entry name matches any pattern.
// dirOnly patterns require isDir.
func (ir *IgnoreRules) Match(name string, isDir bool) bool {
	if ir == nil {
		return false
	}
	for _, p := range ir.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if matched, _ := filepath.Match(p.pattern, name); matched {
			return true
		}
	}
	return false
}
