package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by lookups that require an existing record.
var ErrNotFound = errors.New("catalog record not found")

// Store provides the narrow catalog operations the pipeline needs:
// finds and appends on experiments, datasets, files, locations, and
// schema-tagged parameters. It never deletes.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- experiments ---

// CreateExperiment registers a new experiment.
func (s *Store) CreateExperiment(ctx context.Context, title string) (Experiment, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO experiments (title) VALUES (?)", title)
	if err != nil {
		return Experiment{}, fmt.Errorf("create experiment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Experiment{}, fmt.Errorf("create experiment id: %w", err)
	}
	return Experiment{ID: id, Title: title}, nil
}

// GetExperiment fetches one experiment by id.
func (s *Store) GetExperiment(ctx context.Context, id int64) (Experiment, error) {
	var e Experiment
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title FROM experiments WHERE id = ?", id,
	).Scan(&e.ID, &e.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return Experiment{}, fmt.Errorf("experiment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Experiment{}, fmt.Errorf("get experiment: %w", err)
	}
	return e, nil
}

// SetExperimentParameter upserts one schema-tagged parameter value on
// an experiment.
func (s *Store) SetExperimentParameter(ctx context.Context, expID int64, namespace, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiment_parameters (experiment_id, namespace, name, string_value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(experiment_id, namespace, name) DO UPDATE SET
			string_value = excluded.string_value
	`, expID, namespace, name, value)
	if err != nil {
		return fmt.Errorf("set experiment parameter: %w", err)
	}
	return nil
}

// ExperimentNamespaces lists the distinct schema namespaces attached
// to an experiment's parameter sets.
func (s *Store) ExperimentNamespaces(ctx context.Context, expID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT namespace FROM experiment_parameters
		WHERE experiment_id = ? ORDER BY namespace
	`, expID)
	if err != nil {
		return nil, fmt.Errorf("experiment namespaces: %w", err)
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, rows.Err()
}

// --- storage boxes ---

// GetOrCreateStorageBox finds the box registered for an archive name,
// creating it with the given base path when absent.
func (s *Store) GetOrCreateStorageBox(ctx context.Context, name, basePath string) (StorageBox, error) {
	var b StorageBox
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, base_path FROM storage_boxes WHERE name = ?", name,
	).Scan(&b.ID, &b.Name, &b.BasePath)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return StorageBox{}, fmt.Errorf("find storage box: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO storage_boxes (name, base_path) VALUES (?, ?)", name, basePath)
	if err != nil {
		return StorageBox{}, fmt.Errorf("create storage box: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return StorageBox{}, fmt.Errorf("create storage box id: %w", err)
	}
	return StorageBox{ID: id, Name: name, BasePath: basePath}, nil
}

// GetStorageBox fetches one box by id.
func (s *Store) GetStorageBox(ctx context.Context, id int64) (StorageBox, error) {
	var b StorageBox
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, base_path FROM storage_boxes WHERE id = ?", id,
	).Scan(&b.ID, &b.Name, &b.BasePath)
	if errors.Is(err, sql.ErrNoRows) {
		return StorageBox{}, fmt.Errorf("storage box %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return StorageBox{}, fmt.Errorf("get storage box: %w", err)
	}
	return b, nil
}

// --- datasets ---

// FindOrCreateDataset returns the dataset with the given description
// scoped to (experiment, storage box), creating and linking it on
// first use. Subsequent runs find the same dataset again.
func (s *Store) FindOrCreateDataset(ctx context.Context, expID, boxID int64, description string) (Dataset, error) {
	l := sub("store")
	var d Dataset
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.description
		FROM datasets d
		JOIN dataset_experiments de ON de.dataset_id = d.id
		JOIN dataset_boxes db ON db.dataset_id = d.id
		WHERE d.description = ? AND de.experiment_id = ? AND db.storage_box_id = ?
		ORDER BY d.id
		LIMIT 1
	`, description, expID, boxID).Scan(&d.ID, &d.Description)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, fmt.Errorf("find dataset: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Dataset{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, "INSERT INTO datasets (description) VALUES (?)", description)
	if err != nil {
		return Dataset{}, fmt.Errorf("create dataset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Dataset{}, fmt.Errorf("create dataset id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO dataset_experiments (dataset_id, experiment_id) VALUES (?, ?)", id, expID); err != nil {
		return Dataset{}, fmt.Errorf("link dataset to experiment: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO dataset_boxes (dataset_id, storage_box_id) VALUES (?, ?)", id, boxID); err != nil {
		return Dataset{}, fmt.Errorf("link dataset to storage box: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Dataset{}, fmt.Errorf("commit dataset: %w", err)
	}

	l.Info("dataset created", "id", id, "description", description, "experiment", expID, "box", boxID)
	return Dataset{ID: id, Description: description}, nil
}

// --- datafiles ---

// CreateDataFile inserts a new catalog file and fills in its id.
func (s *Store) CreateDataFile(ctx context.Context, df *DataFile) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO datafiles
			(dataset_id, filename, directory, size, created_time, modification_time, mimetype, md5sum, sha512sum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, df.DatasetID, df.Filename, df.Directory, df.Size,
		df.CreatedTime, df.ModificationTime, df.MimeType, df.MD5Sum, df.SHA512Sum)
	if err != nil {
		return fmt.Errorf("create datafile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create datafile id: %w", err)
	}
	df.ID = id
	return nil
}

// GetDataFile fetches one catalog file by id.
func (s *Store) GetDataFile(ctx context.Context, id int64) (DataFile, error) {
	var df DataFile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, dataset_id, filename, directory, size,
		       created_time, modification_time, mimetype, md5sum, sha512sum
		FROM datafiles WHERE id = ?
	`, id).Scan(&df.ID, &df.DatasetID, &df.Filename, &df.Directory, &df.Size,
		&df.CreatedTime, &df.ModificationTime, &df.MimeType, &df.MD5Sum, &df.SHA512Sum)
	if errors.Is(err, sql.ErrNoRows) {
		return DataFile{}, fmt.Errorf("datafile %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return DataFile{}, fmt.Errorf("get datafile: %w", err)
	}
	return df, nil
}

// ExperimentsForDataFile lists the experiments owning the file through
// its dataset.
func (s *Store) ExperimentsForDataFile(ctx context.Context, datafileID int64) ([]Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.title
		FROM experiments e
		JOIN dataset_experiments de ON de.experiment_id = e.id
		JOIN datafiles f ON f.dataset_id = de.dataset_id
		WHERE f.id = ?
		ORDER BY e.id
	`, datafileID)
	if err != nil {
		return nil, fmt.Errorf("experiments for datafile: %w", err)
	}
	defer rows.Close()

	var exps []Experiment
	for rows.Next() {
		var e Experiment
		if err := rows.Scan(&e.ID, &e.Title); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		exps = append(exps, e)
	}
	return exps, rows.Err()
}

// --- datafile objects (file locations) ---

func scanObjects(rows *sql.Rows) ([]DataFileObject, error) {
	defer rows.Close()
	var objs []DataFileObject
	for rows.Next() {
		var o DataFileObject
		if err := rows.Scan(&o.ID, &o.DataFileID, &o.StorageBoxID, &o.URI); err != nil {
			return nil, fmt.Errorf("scan datafile object: %w", err)
		}
		objs = append(objs, o)
	}
	return objs, rows.Err()
}

// escapeLike escapes LIKE wildcards in a literal path fragment.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ObjectsBySuffix finds locations within an experiment whose URI ends
// with the given path, excluding those bound to excludeBoxID. Tier 1
// of the match algorithm.
func (s *Store) ObjectsBySuffix(ctx context.Context, expID int64, pathSuffix string, excludeBoxID int64) ([]DataFileObject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.datafile_id, o.storage_box_id, o.uri
		FROM datafile_objects o
		JOIN datafiles f ON f.id = o.datafile_id
		JOIN dataset_experiments de ON de.dataset_id = f.dataset_id
		WHERE de.experiment_id = ?
		  AND o.uri LIKE '%' || ? ESCAPE '\'
		  AND o.storage_box_id != ?
	`, expID, escapeLike(pathSuffix), excludeBoxID)
	if err != nil {
		return nil, fmt.Errorf("objects by suffix: %w", err)
	}
	return scanObjects(rows)
}

// ObjectsExact finds locations within an experiment bound to the given
// box with an exact URI match. Tier 2 of the match algorithm.
func (s *Store) ObjectsExact(ctx context.Context, expID, boxID int64, uri string) ([]DataFileObject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.datafile_id, o.storage_box_id, o.uri
		FROM datafile_objects o
		JOIN datafiles f ON f.id = o.datafile_id
		JOIN dataset_experiments de ON de.dataset_id = f.dataset_id
		WHERE de.experiment_id = ? AND o.storage_box_id = ? AND o.uri = ?
	`, expID, boxID, uri)
	if err != nil {
		return nil, fmt.Errorf("objects exact: %w", err)
	}
	return scanObjects(rows)
}

// GetOrCreateObject binds a file to (box, uri), returning the existing
// binding when one exists. The reported bool is true on creation.
func (s *Store) GetOrCreateObject(ctx context.Context, datafileID, boxID int64, uri string) (DataFileObject, bool, error) {
	var o DataFileObject
	err := s.db.QueryRowContext(ctx, `
		SELECT id, datafile_id, storage_box_id, uri FROM datafile_objects
		WHERE datafile_id = ? AND storage_box_id = ? AND uri = ?
	`, datafileID, boxID, uri).Scan(&o.ID, &o.DataFileID, &o.StorageBoxID, &o.URI)
	if err == nil {
		return o, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return DataFileObject{}, false, fmt.Errorf("find datafile object: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO datafile_objects (datafile_id, storage_box_id, uri) VALUES (?, ?, ?)
	`, datafileID, boxID, uri)
	if err != nil {
		return DataFileObject{}, false, fmt.Errorf("create datafile object: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return DataFileObject{}, false, fmt.Errorf("create datafile object id: %w", err)
	}
	u := uri
	return DataFileObject{ID: id, DataFileID: datafileID, StorageBoxID: boxID, URI: &u}, true, nil
}

// DefaultObjectPath resolves the full on-disk path of a file's first
// location: the owning box's base path joined with the location URI.
func (s *Store) DefaultObjectPath(ctx context.Context, datafileID int64) (string, error) {
	var basePath string
	var uri sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT b.base_path, o.uri
		FROM datafile_objects o
		JOIN storage_boxes b ON b.id = o.storage_box_id
		WHERE o.datafile_id = ?
		ORDER BY o.id
		LIMIT 1
	`, datafileID).Scan(&basePath, &uri)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no location for datafile %d: %w", datafileID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("default object path: %w", err)
	}
	if !uri.Valid {
		return "", fmt.Errorf("location for datafile %d has no uri: %w", datafileID, ErrNotFound)
	}
	return filepath.Join(basePath, uri.String), nil
}

// --- datafile parameters / parse status ---

// SetDataFileParameter upserts one schema-tagged parameter value on a
// catalog file.
func (s *Store) SetDataFileParameter(ctx context.Context, datafileID int64, namespace, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datafile_parameters (datafile_id, namespace, name, string_value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(datafile_id, namespace, name) DO UPDATE SET
			string_value = excluded.string_value
	`, datafileID, namespace, name, value)
	if err != nil {
		return fmt.Errorf("set datafile parameter: %w", err)
	}
	return nil
}

// GetDataFileParameter reads a parameter value; ok is false when the
// parameter is absent.
func (s *Store) GetDataFileParameter(ctx context.Context, datafileID int64, namespace, name string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT string_value FROM datafile_parameters
		WHERE datafile_id = ? AND namespace = ? AND name = ?
	`, datafileID, namespace, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get datafile parameter: %w", err)
	}
	return value.String, value.Valid, nil
}

// GetParseStatus reads the parse status for (file, namespace); absent
// status reads as unparsed.
func (s *Store) GetParseStatus(ctx context.Context, datafileID int64, namespace string) (string, error) {
	v, ok, err := s.GetDataFileParameter(ctx, datafileID, namespace, ParseStatusParam)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return StatusUnparsed, nil
	}
	return v, nil
}

// SetParseStatus persists the parse status for (file, namespace).
func (s *Store) SetParseStatus(ctx context.Context, datafileID int64, namespace, status string) error {
	return s.SetDataFileParameter(ctx, datafileID, namespace, ParseStatusParam, status)
}

// UnparsedFiles lists the files carrying a parse_status parameter in
// the namespace whose value is neither complete nor running.
func (s *Store) UnparsedFiles(ctx context.Context, namespace string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT datafile_id FROM datafile_parameters
		WHERE namespace = ? AND name = ?
		  AND string_value NOT IN (?, ?)
		ORDER BY datafile_id
	`, namespace, ParseStatusParam, StatusComplete, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("unparsed files: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan datafile id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
