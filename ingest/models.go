package ingest

import (
	"path/filepath"
)

// SquashExt is the filename extension of archive images handled here.
const SquashExt = ".squashfs"

// DefaultDatasetDescription names the dataset that collects files
// registered by default ingestion, one per (experiment, storage box).
const DefaultDatasetDescription = "squashfs-files"

// Parse status values persisted as the parse_status parameter.
// Transitions run strictly forward; StatusFailed is a dead end that
// requires manual intervention.
const (
	StatusUnparsed = "unparsed"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ParseStatusParam is the parameter name carrying the status value;
// ParseErrorParam carries the failure reason when status is failed.
const (
	ParseStatusParam = "parse_status"
	ParseErrorParam  = "parse_error"
)

// ArchiveImage identifies one squashfs image: its file name, the path
// of the image file itself, and the location it is exposed at once
// mounted. Location is always mountRoot/name, so two images with the
// same name share a mount point.
type ArchiveImage struct {
	Name     string // image file name, e.g. "exp42.squashfs"
	Source   string // absolute path of the image file
	Location string // mount point, derived from mount root + name
}

// NewArchiveImage builds an ArchiveImage for the given image file
// under the configured mount root.
func NewArchiveImage(mountRoot, name, basePath string) ArchiveImage {
	return ArchiveImage{
		Name:     name,
		Source:   filepath.Join(basePath, name),
		Location: filepath.Join(mountRoot, name),
	}
}

// Experiment is the catalog collection that owns datasets and whose
// schema namespaces select a parser.
type Experiment struct {
	ID    int64
	Title string
}

// StorageBox describes one storage backend instance; for this pipeline
// a box is a registered squashfs archive (name + base path of the
// image file).
type StorageBox struct {
	ID       int64
	Name     string // archive file name
	BasePath string // directory holding the image file
}

// Dataset groups catalog files under a description.
type Dataset struct {
	ID          int64
	Description string
}

// DataFile is one logical catalog file. Times are unix nanoseconds.
type DataFile struct {
	ID               int64
	DatasetID        int64
	Filename         string
	Directory        string
	Size             int64
	CreatedTime      int64
	ModificationTime int64
	MimeType         string
	MD5Sum           string
	SHA512Sum        string
}

// DataFileObject binds a DataFile to a concrete location: a storage
// box plus a URI within it. (datafile, box, uri) is unique.
type DataFileObject struct {
	ID           int64
	DataFileID   int64
	StorageBoxID int64
	URI          *string // nil when the location carries no URI yet
}
