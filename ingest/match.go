package ingest

import (
	"context"
	"fmt"
	"log/slog"
)

// MatchResult is the outcome of matching one discovered file against
// the catalog. Exactly one of File/Object is set: File when a catalog
// file still needs a location in the current box (either matched
// elsewhere or freshly created), Object when the location already
// exists here and nothing is left to do.
type MatchResult struct {
	File    *DataFile
	Object  *DataFileObject
	Created bool // File was newly registered
}

// Matcher decides whether a discovered file corresponds to an existing
// catalog record, a record stored under a different location, or a
// brand-new file. Content identity is computed only when registering
// new files.
type Matcher struct {
	store *Store
}

// NewMatcher creates a Matcher over the catalog store.
func NewMatcher(store *Store) *Matcher {
	return &Matcher{store: store}
}

// MatchFile runs the three match tiers for one discovered file.
//
// Tier 1: locations in the experiment whose URI ends with the path,
// excluding this box. Exactly one hit means the file is already
// catalogued elsewhere; the caller adds the location for this box.
// Zero or multiple hits are inconclusive and fall through; ambiguity
// is never an error here.
//
// Tier 2: an exact URI match inside this box. Exactly one hit means
// the location is already satisfied.
//
// Tier 3: register a new catalog file under the default dataset for
// (experiment, box), computing checksums, MIME type, size, and
// timestamps from the facade.
func (m *Matcher) MatchFile(ctx context.Context, exp Experiment, box StorageBox, storage *ArchiveStorage, directory, filename, path string) (MatchResult, error) {
	l := sub("match")

	// Tier 1: catalogued already, stored elsewhere.
	elsewhere, err := m.store.ObjectsBySuffix(ctx, exp.ID, path, box.ID)
	if err != nil {
		return MatchResult{}, err
	}
	if len(elsewhere) == 1 {
		df, err := m.store.GetDataFile(ctx, elsewhere[0].DataFileID)
		if err != nil {
			return MatchResult{}, err
		}
		l.Debug("matched cross-location", "path", path, "datafile", df.ID)
		return MatchResult{File: &df}, nil
	}
	if len(elsewhere) > 1 && logEnabled(slog.LevelDebug) {
		l.Debug("cross-location match inconclusive", "path", path, "candidates", len(elsewhere))
	}

	// Tier 2: registered in this box already.
	here, err := m.store.ObjectsExact(ctx, exp.ID, box.ID, path)
	if err != nil {
		return MatchResult{}, err
	}
	if len(here) == 1 {
		l.Debug("matched in box", "path", path, "object", here[0].ID)
		return MatchResult{Object: &here[0]}, nil
	}

	// Tier 3: brand-new file.
	df, err := m.registerNew(ctx, exp, box, storage, directory, filename, path)
	if err != nil {
		return MatchResult{}, err
	}
	return MatchResult{File: df, Created: true}, nil
}

// registerNew creates the catalog file for a path seen for the first
// time, attached to the default dataset for (experiment, box).
func (m *Matcher) registerNew(ctx context.Context, exp Experiment, box StorageBox, storage *ArchiveStorage, directory, filename, path string) (*DataFile, error) {
	l := sub("match")

	dataset, err := m.store.FindOrCreateDataset(ctx, exp.ID, box.ID, DefaultDatasetDescription)
	if err != nil {
		return nil, err
	}

	f, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	identity, err := ComputeIdentity(f, filename)
	f.Close() //nolint:errcheck
	if err != nil {
		return nil, fmt.Errorf("identity of %s: %w", path, err)
	}

	created, err := storage.CreatedTime(path)
	if err != nil {
		return nil, err
	}
	modified, err := storage.ModifiedTime(path)
	if err != nil {
		return nil, err
	}

	df := &DataFile{
		DatasetID:        dataset.ID,
		Filename:         filename,
		Directory:        directory,
		Size:             identity.Size,
		CreatedTime:      created,
		ModificationTime: modified,
		MimeType:         identity.MimeType,
		MD5Sum:           identity.MD5Sum,
		SHA512Sum:        identity.SHA512Sum,
	}
	if err := m.store.CreateDataFile(ctx, df); err != nil {
		return nil, err
	}
	l.Info("registered new file", "path", path, "datafile", df.ID, "size", df.Size, "mimetype", df.MimeType)
	return df, nil
}
