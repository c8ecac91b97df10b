package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens a fresh catalog in a temp dir and returns a Store
// over it. The database is closed when the test ends.
func setupTestDB(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestStore_ExperimentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	exp, err := store.CreateExperiment(ctx, "Beamline run 42")
	require.NoError(t, err)
	assert.NotZero(t, exp.ID)

	got, err := store.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp, got)

	_, err = store.GetExperiment(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ExperimentNamespaces(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)

	require.NoError(t, store.SetExperimentParameter(ctx, exp.ID, "http://example.org/schema/b", "k", "v"))
	require.NoError(t, store.SetExperimentParameter(ctx, exp.ID, "http://example.org/schema/a", "k", "v"))
	// Same namespace twice must not duplicate.
	require.NoError(t, store.SetExperimentParameter(ctx, exp.ID, "http://example.org/schema/a", "k2", "v"))

	ns, err := store.ExperimentNamespaces(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://example.org/schema/a", "http://example.org/schema/b"}, ns)
}

func TestStore_StorageBoxGetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	first, err := store.GetOrCreateStorageBox(ctx, "exp1.squashfs", "/data/squash")
	require.NoError(t, err)

	// Second call finds the same box; the base path argument is only
	// used on creation.
	again, err := store.GetOrCreateStorageBox(ctx, "exp1.squashfs", "/somewhere/else")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "/data/squash", again.BasePath)

	byID, err := store.GetStorageBox(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, byID)
}

func TestStore_FindOrCreateDatasetScoping(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)
	box, err := store.GetOrCreateStorageBox(ctx, "a.squashfs", "/data")
	require.NoError(t, err)

	ds, err := store.FindOrCreateDataset(ctx, exp.ID, box.ID, DefaultDatasetDescription)
	require.NoError(t, err)

	same, err := store.FindOrCreateDataset(ctx, exp.ID, box.ID, DefaultDatasetDescription)
	require.NoError(t, err)
	assert.Equal(t, ds.ID, same.ID)

	// A different box gets its own dataset even with the same
	// description.
	box2, err := store.GetOrCreateStorageBox(ctx, "b.squashfs", "/data")
	require.NoError(t, err)
	other, err := store.FindOrCreateDataset(ctx, exp.ID, box2.ID, DefaultDatasetDescription)
	require.NoError(t, err)
	assert.NotEqual(t, ds.ID, other.ID)
}

// seedDataFile creates a datafile in a fresh dataset under exp/box with
// one location at uri.
func seedDataFile(t *testing.T, store *Store, expID, boxID int64, directory, filename, uri string) DataFile {
	t.Helper()
	ctx := context.Background()

	ds, err := store.FindOrCreateDataset(ctx, expID, boxID, DefaultDatasetDescription)
	require.NoError(t, err)

	df := DataFile{DatasetID: ds.ID, Filename: filename, Directory: directory}
	require.NoError(t, store.CreateDataFile(ctx, &df))
	_, _, err = store.GetOrCreateObject(ctx, df.ID, boxID, uri)
	require.NoError(t, err)
	return df
}

func TestStore_ObjectsBySuffix(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)
	diskBox, err := store.GetOrCreateStorageBox(ctx, "disk", "/var/store")
	require.NoError(t, err)
	archiveBox, err := store.GetOrCreateStorageBox(ctx, "exp.squashfs", "/data")
	require.NoError(t, err)

	df := seedDataFile(t, store, exp.ID, diskBox.ID, "run1", "frame.tif", "exp/run1/frame.tif")

	// The location in the excluded box must not count as a match.
	_, _, err = store.GetOrCreateObject(ctx, df.ID, archiveBox.ID, "run1/frame.tif")
	require.NoError(t, err)

	objs, err := store.ObjectsBySuffix(ctx, exp.ID, "run1/frame.tif", archiveBox.ID)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, df.ID, objs[0].DataFileID)
	assert.Equal(t, diskBox.ID, objs[0].StorageBoxID)

	// A different experiment sees nothing.
	exp2, err := store.CreateExperiment(ctx, "other")
	require.NoError(t, err)
	objs, err = store.ObjectsBySuffix(ctx, exp2.ID, "run1/frame.tif", archiveBox.ID)
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestStore_ObjectsBySuffixEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)
	box, err := store.GetOrCreateStorageBox(ctx, "disk", "/var/store")
	require.NoError(t, err)

	seedDataFile(t, store, exp.ID, box.ID, "", "a_b.txt", "data/a_b.txt")

	// "_" is a single-character LIKE wildcard; unescaped it would also
	// match this URI.
	seedDataFile(t, store, exp.ID, box.ID, "", "axb.txt", "data/axb.txt")

	objs, err := store.ObjectsBySuffix(ctx, exp.ID, "a_b.txt", 0)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	require.NotNil(t, objs[0].URI)
	assert.Equal(t, "data/a_b.txt", *objs[0].URI)
}

func TestStore_ObjectsExact(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)
	box, err := store.GetOrCreateStorageBox(ctx, "exp.squashfs", "/data")
	require.NoError(t, err)

	df := seedDataFile(t, store, exp.ID, box.ID, "run1", "frame.tif", "run1/frame.tif")

	objs, err := store.ObjectsExact(ctx, exp.ID, box.ID, "run1/frame.tif")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, df.ID, objs[0].DataFileID)

	objs, err = store.ObjectsExact(ctx, exp.ID, box.ID, "run1/other.tif")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestStore_GetOrCreateObjectIdempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)
	box, err := store.GetOrCreateStorageBox(ctx, "exp.squashfs", "/data")
	require.NoError(t, err)
	df := seedDataFile(t, store, exp.ID, box.ID, "", "f.txt", "f.txt")

	obj, created, err := store.GetOrCreateObject(ctx, df.ID, box.ID, "f.txt")
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, obj.URI)
	assert.Equal(t, "f.txt", *obj.URI)

	obj2, created, err := store.GetOrCreateObject(ctx, df.ID, box.ID, "copy/f.txt")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, obj.ID, obj2.ID)
}

func TestStore_DefaultObjectPath(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)
	box, err := store.GetOrCreateStorageBox(ctx, "inbox", "/srv/inbox")
	require.NoError(t, err)
	df := seedDataFile(t, store, exp.ID, box.ID, "", "exp1.squashfs", "exp1.squashfs")

	path, err := store.DefaultObjectPath(ctx, df.ID)
	require.NoError(t, err)
	assert.Equal(t, "/srv/inbox/exp1.squashfs", path)

	_, err = store.DefaultObjectPath(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ParseStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)
	box, err := store.GetOrCreateStorageBox(ctx, "inbox", "/srv/inbox")
	require.NoError(t, err)
	df := seedDataFile(t, store, exp.ID, box.ID, "", "exp1.squashfs", "exp1.squashfs")

	const ns = "http://example.org/schema/squash"

	status, err := store.GetParseStatus(ctx, df.ID, ns)
	require.NoError(t, err)
	assert.Equal(t, StatusUnparsed, status, "absent status reads as unparsed")

	require.NoError(t, store.SetParseStatus(ctx, df.ID, ns, StatusRunning))
	status, err = store.GetParseStatus(ctx, df.ID, ns)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)

	// Overwrite rather than duplicate.
	require.NoError(t, store.SetParseStatus(ctx, df.ID, ns, StatusComplete))
	status, err = store.GetParseStatus(ctx, df.ID, ns)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)
}

func TestStore_UnparsedFiles(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)
	box, err := store.GetOrCreateStorageBox(ctx, "inbox", "/srv/inbox")
	require.NoError(t, err)

	const ns = "http://example.org/schema/squash"

	a := seedDataFile(t, store, exp.ID, box.ID, "", "a.squashfs", "a.squashfs")
	b := seedDataFile(t, store, exp.ID, box.ID, "", "b.squashfs", "b.squashfs")
	c := seedDataFile(t, store, exp.ID, box.ID, "", "c.squashfs", "c.squashfs")
	d := seedDataFile(t, store, exp.ID, box.ID, "", "d.squashfs", "d.squashfs")

	require.NoError(t, store.SetParseStatus(ctx, a.ID, ns, StatusUnparsed))
	require.NoError(t, store.SetParseStatus(ctx, b.ID, ns, StatusFailed))
	require.NoError(t, store.SetParseStatus(ctx, c.ID, ns, StatusRunning))
	require.NoError(t, store.SetParseStatus(ctx, d.ID, ns, StatusComplete))

	ids, err := store.UnparsedFiles(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids, "running and complete are skipped")

	// Another namespace sees none of these.
	ids, err = store.UnparsedFiles(ctx, "http://example.org/schema/other")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_DataFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)
	box, err := store.GetOrCreateStorageBox(ctx, "exp.squashfs", "/data")
	require.NoError(t, err)
	ds, err := store.FindOrCreateDataset(ctx, exp.ID, box.ID, DefaultDatasetDescription)
	require.NoError(t, err)

	df := DataFile{
		DatasetID:        ds.ID,
		Filename:         "frame.tif",
		Directory:        "run1",
		Size:             1024,
		CreatedTime:      1700000000000000000,
		ModificationTime: 1700000001000000000,
		MimeType:         "image/tiff",
		MD5Sum:           "abc",
		SHA512Sum:        "def",
	}
	require.NoError(t, store.CreateDataFile(ctx, &df))
	require.NotZero(t, df.ID)

	got, err := store.GetDataFile(ctx, df.ID)
	require.NoError(t, err)
	assert.Equal(t, df, got)

	exps, err := store.ExperimentsForDataFile(ctx, df.ID)
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, exp.ID, exps[0].ID)
}
