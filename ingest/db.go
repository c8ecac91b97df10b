package ingest

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id    INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS experiment_parameters (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id INTEGER NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    namespace     TEXT NOT NULL,
    name          TEXT NOT NULL,
    string_value  TEXT,
    UNIQUE(experiment_id, namespace, name)
);

CREATE TABLE IF NOT EXISTS storage_boxes (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    name      TEXT NOT NULL UNIQUE,
    base_path TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS datasets (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    description TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dataset_experiments (
    dataset_id    INTEGER NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
    experiment_id INTEGER NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    PRIMARY KEY (dataset_id, experiment_id)
);

CREATE TABLE IF NOT EXISTS dataset_boxes (
    dataset_id     INTEGER NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
    storage_box_id INTEGER NOT NULL REFERENCES storage_boxes(id) ON DELETE CASCADE,
    PRIMARY KEY (dataset_id, storage_box_id)
);

CREATE TABLE IF NOT EXISTS datafiles (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    dataset_id        INTEGER NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
    filename          TEXT NOT NULL,
    directory         TEXT NOT NULL DEFAULT '',
    size              INTEGER NOT NULL DEFAULT 0,
    created_time      INTEGER NOT NULL DEFAULT 0,
    modification_time INTEGER NOT NULL DEFAULT 0,
    mimetype          TEXT NOT NULL DEFAULT '',
    md5sum            TEXT NOT NULL DEFAULT '',
    sha512sum         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS datafile_objects (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    datafile_id    INTEGER NOT NULL REFERENCES datafiles(id) ON DELETE CASCADE,
    storage_box_id INTEGER NOT NULL REFERENCES storage_boxes(id) ON DELETE CASCADE,
    uri            TEXT,
    UNIQUE(datafile_id, storage_box_id, uri)
);

CREATE INDEX IF NOT EXISTS idx_objects_uri ON datafile_objects(uri);

CREATE TABLE IF NOT EXISTS datafile_parameters (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    datafile_id  INTEGER NOT NULL REFERENCES datafiles(id) ON DELETE CASCADE,
    namespace    TEXT NOT NULL,
    name         TEXT NOT NULL,
    string_value TEXT,
    UNIQUE(datafile_id, namespace, name)
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// OpenDB opens (or creates) the catalog SQLite database at dbPath.
func OpenDB(dbPath string) (*sql.DB, error) {
	l := sub("db")
	l.Info("opening catalog database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	l := sub("db")
	var version int
	err := db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		// meta table doesn't exist or no row, treat as fresh database
		if _, execErr := db.Exec(schema); execErr != nil {
			return fmt.Errorf("create schema: %w", execErr)
		}
		_, execErr := db.Exec("INSERT INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion)
		if execErr != nil {
			return fmt.Errorf("set schema version: %w", execErr)
		}
		l.Info("schema created", "version", schemaVersion)
		return nil
	}

	if version > schemaVersion {
		return fmt.Errorf("catalog schema version %d is newer than supported %d", version, schemaVersion)
	}
	l.Debug("schema up to date", "version", version)
	return nil
}
