package ingest

import (
	"context"
	"fmt"
	"path/filepath"
)

// Orchestrator is the top-level driver: it mounts an archive box,
// walks it, matches every discovered file, and reconciles the results
// into catalog records.
type Orchestrator struct {
	cfg      Config
	store    *Store
	registry *Registry
	matcher  *Matcher

	// storageFor builds the facade for a box; replaceable in tests.
	storageFor func(ctx context.Context, box StorageBox) (*ArchiveStorage, error)
}

// NewOrchestrator wires the orchestrator over store, registry, and
// mounter.
func NewOrchestrator(cfg Config, store *Store, registry *Registry, mounter MountEnsurer) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		registry: registry,
		matcher:  NewMatcher(store),
		storageFor: func(ctx context.Context, box StorageBox) (*ArchiveStorage, error) {
			return NewArchiveStorage(ctx, cfg, mounter, box.Name, box.BasePath)
		},
	}
}

// MatchExperiment reconciles the archive registered as box against the
// experiment's catalog records. Failures on individual files are
// logged and skipped; only setup failures abort the run. The location
// get-or-create keyed on (file, box, uri) makes re-runs idempotent.
func (o *Orchestrator) MatchExperiment(ctx context.Context, exp Experiment, box StorageBox) error {
	l := sub("orchestrator")
	l.Info("matching experiment to archive", "experiment", exp.ID, "box", box.Name)

	storage, err := o.storageFor(ctx, box)
	if err != nil {
		return fmt.Errorf("match experiment %d: %w", exp.ID, err)
	}
	defer storage.Close()

	parser, err := o.registry.ForExperiment(ctx, o.store, exp)
	if err != nil {
		return fmt.Errorf("resolve parser: %w", err)
	}

	var boxData BoxData
	if parser != nil {
		boxData, err = parser.ParseBoxData(ctx, exp, box, storage)
		if err != nil {
			return fmt.Errorf("parse box data: %w", err)
		}
	}

	ignore := loadArchiveIgnoreRules(storage)
	if ignore != nil {
		l.Info("ignore patterns loaded", "box", box.Name, "patterns", ignore.Len())
	}

	var matched, registered, failed int
	walk := Walk(storage, WalkOptions{
		Ignore: ignore,
		OnError: func(path string, err error) {
			l.Warn("listing failed, branch skipped", "path", path, "err", err)
		},
	})
	for entry := range walk {
		for _, filename := range entry.Files {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(entry.Dir, filename)
			result, err := o.matchOne(ctx, parser, exp, box, storage, entry.Dir, filename, path, boxData)
			if err != nil {
				failed++
				l.Warn("file skipped", "path", path, "err", err)
				continue
			}
			matched++
			if result.Created {
				registered++
			}
		}
	}

	l.Info("match complete", "experiment", exp.ID, "box", box.Name,
		"files", matched, "new", registered, "failed", failed)
	return nil
}

// loadArchiveIgnoreRules reads the pattern file from the archive root.
// Returns nil when the archive carries none; the file itself is a
// dotfile and never walked.
func loadArchiveIgnoreRules(storage *ArchiveStorage) *IgnoreRules {
	f, err := storage.Open(IgnoreFile)
	if err != nil {
		return nil
	}
	defer f.Close()
	return ReadIgnoreRules(f)
}

// matchOne routes a single file through the custom parser or the
// default match engine and ensures its location record exists.
func (o *Orchestrator) matchOne(ctx context.Context, parser Parser, exp Experiment, box StorageBox, storage *ArchiveStorage, dir, filename, path string, boxData BoxData) (MatchResult, error) {
	var result MatchResult
	if parser != nil {
		df, err := parser.ParseFile(ctx, FileParseRequest{
			Experiment: exp,
			Box:        box,
			Storage:    storage,
			Directory:  dir,
			Filename:   filename,
			Path:       path,
			BoxData:    boxData,
		})
		if err != nil {
			return MatchResult{}, err
		}
		result = MatchResult{File: df}
	} else {
		var err error
		result, err = o.matcher.MatchFile(ctx, exp, box, storage, dir, filename, path)
		if err != nil {
			return MatchResult{}, err
		}
	}

	if result.File != nil {
		if _, _, err := o.store.GetOrCreateObject(ctx, result.File.ID, box.ID, path); err != nil {
			return MatchResult{}, err
		}
	}
	return result, nil
}
