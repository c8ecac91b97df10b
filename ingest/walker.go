package ingest

import (
	"iter"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

// Lister is the listing contract the walker traverses. ArchiveStorage
// satisfies it, as does anything else that can split a directory into
// subdirectories and files.
type Lister interface {
	ListDir(path string) (dirs, files []string, err error)
}

// WalkEntry is one traversal step: a directory with its immediate
// subdirectory and file names.
type WalkEntry struct {
	Dir   string
	Dirs  []string
	Files []string
}

// WalkOptions tune a traversal. The zero value walks from ".",
// top-down, skipping dotfiles.
type WalkOptions struct {
	Top          string // start directory, "." when empty
	BottomUp     bool   // yield parents after their subtrees
	WithDotfiles bool   // keep entries whose names start with "."
	Ignore       *IgnoreRules
	// OnError is invoked when a directory cannot be listed. That
	// branch is abandoned; sibling branches continue.
	OnError func(path string, err error)
}

// Walk lazily traverses lister depth-first, one WalkEntry per
// directory. The sequence is single-use; call Walk again to restart.
func Walk(lister Lister, opts WalkOptions) iter.Seq[WalkEntry] {
	top := opts.Top
	if top == "" {
		top = "."
	}
	return func(yield func(WalkEntry) bool) {
		walkDir(lister, top, opts, yield)
	}
}

// walkDir returns false only when the consumer stopped the sequence;
// listing failures report to OnError and count as a completed branch.
func walkDir(lister Lister, dir string, opts WalkOptions, yield func(WalkEntry) bool) bool {
	dirs, files, err := lister.ListDir(dir)
	if err != nil {
		if opts.OnError != nil {
			opts.OnError(dir, err)
		}
		return true
	}

	if !opts.WithDotfiles {
		dirs = lo.Filter(dirs, func(name string, _ int) bool { return !strings.HasPrefix(name, ".") })
		files = lo.Filter(files, func(name string, _ int) bool { return !strings.HasPrefix(name, ".") })
	}
	if opts.Ignore != nil {
		dirs = lo.Filter(dirs, func(name string, _ int) bool { return !opts.Ignore.Match(name, true) })
		files = lo.Filter(files, func(name string, _ int) bool { return !opts.Ignore.Match(name, false) })
	}

	entry := WalkEntry{Dir: dir, Dirs: dirs, Files: files}
	if !opts.BottomUp {
		if !yield(entry) {
			return false
		}
	}
	for _, sub := range dirs {
		if !walkDir(lister, filepath.Join(dir, sub), opts, yield) {
			return false
		}
	}
	if opts.BottomUp {
		if !yield(entry) {
			return false
		}
	}
	return true
}
