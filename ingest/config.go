package ingest

import (
	"fmt"
	"time"
)

// Config carries every tunable of the ingest pipeline. It is built at
// the CLI edge and passed into constructors explicitly; nothing in
// this package reads process-wide state.
type Config struct {
	// MountRoot is the directory under which archive images are
	// mounted, one subdirectory per image name.
	MountRoot string

	// MountCmd is the external mount utility, invoked as
	// `MountCmd <image> <location>`. squashfuse by default.
	MountCmd string

	// MountTimeout bounds a single mount invocation. A hung mount
	// utility fails the operation instead of blocking the task.
	MountTimeout time.Duration

	// SourceRoot is the directory where new archive images appear.
	// Watched by the inbox watcher when the daemon runs.
	SourceRoot string

	// DBPath locates the catalog SQLite database.
	DBPath string

	// Parsers maps schema namespace to a registered parser name.
	// Namespaces without an entry fall back to default ingestion.
	Parsers map[string]string

	// ScanInterval is the period between background scans for
	// unparsed archive files.
	ScanInterval time.Duration

	// Workers caps the number of parse jobs running concurrently.
	Workers int

	// LogDir enables file logging when non-empty.
	LogDir string
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		MountRoot:    "/mnt/squashfs",
		MountCmd:     "/usr/local/bin/squashfuse",
		MountTimeout: 30 * time.Second,
		DBPath:       "catalog.db",
		Parsers:      map[string]string{},
		ScanInterval: 5 * time.Minute,
		Workers:      2,
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.MountRoot == "" {
		return fmt.Errorf("config: mount root is required")
	}
	if c.MountCmd == "" {
		return fmt.Errorf("config: mount command is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("config: scan interval must be positive, got %s", c.ScanInterval)
	}
	return nil
}
