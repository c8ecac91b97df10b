package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	gosync "sync"
	"syscall"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/maruel/natural"
	"github.com/spf13/afero"
)

// statTTL bounds the per-instance stat cache. The mounted tree is a
// read-only image, so cached metadata cannot go stale while mounted;
// the TTL plus the eviction loop bound memory across long runs.
const statTTL = 5 * time.Minute

// MountEnsurer is the slice of Mounter that ArchiveStorage needs.
type MountEnsurer interface {
	EnsureMounted(ctx context.Context, img ArchiveImage) error
}

// ArchiveStorage is the virtual-filesystem facade over one mounted
// archive image. All callers that need archive bytes or metadata go
// through this type, never through mount mechanics directly. Every
// name is resolved through SafeJoin before touching the filesystem.
type ArchiveStorage struct {
	img      ArchiveImage
	fs       afero.Fs // rooted at img.Location
	stats    *ttlcache.Cache[string, os.FileInfo]
	stopOnce gosync.Once
}

// NewArchiveStorage mounts the named image found under basePath and
// returns a facade over it.
func NewArchiveStorage(ctx context.Context, cfg Config, mounter MountEnsurer, name, basePath string) (*ArchiveStorage, error) {
	img := NewArchiveImage(cfg.MountRoot, name, basePath)
	if err := mounter.EnsureMounted(ctx, img); err != nil {
		return nil, fmt.Errorf("storage for %s: %w", name, err)
	}
	fs := afero.NewBasePathFs(afero.NewReadOnlyFs(afero.NewOsFs()), img.Location)
	return newArchiveStorage(img, fs), nil
}

// NewArchiveStorageForDataFile builds the facade for an archive that
// is itself a catalog file, resolving the image source from the file's
// default location.
func NewArchiveStorageForDataFile(ctx context.Context, cfg Config, mounter MountEnsurer, store *Store, datafileID int64) (*ArchiveStorage, error) {
	df, err := store.GetDataFile(ctx, datafileID)
	if err != nil {
		return nil, fmt.Errorf("storage for datafile %d: %w", datafileID, err)
	}
	source, err := store.DefaultObjectPath(ctx, datafileID)
	if err != nil {
		return nil, fmt.Errorf("storage for datafile %d: %w", datafileID, err)
	}
	return NewArchiveStorage(ctx, cfg, mounter, df.Filename, filepath.Dir(source))
}

func newArchiveStorage(img ArchiveImage, fs afero.Fs) *ArchiveStorage {
	s := &ArchiveStorage{
		img: img,
		fs:  fs,
		stats: ttlcache.New(
			ttlcache.WithTTL[string, os.FileInfo](statTTL),
		),
	}
	go s.stats.Start()
	return s
}

// Close stops the stat cache eviction loop. Safe to call more than
// once; the facade itself stays usable and the archive remains mounted.
func (s *ArchiveStorage) Close() {
	s.stopOnce.Do(s.stats.Stop)
}

// Image returns the archive image this facade exposes.
func (s *ArchiveStorage) Image() ArchiveImage { return s.img }

// Path resolves name against the mount location, returning the
// normalized absolute path. Traversal attempts surface as
// ErrSuspiciousAccess.
func (s *ArchiveStorage) Path(name string) (string, error) {
	return SafeJoin(s.img.Location, name)
}

// rel resolves name through the path guard and returns it relative to
// the mount location, ready for the rooted filesystem.
func (s *ArchiveStorage) rel(name string) (string, error) {
	abs, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if abs == s.img.Location {
		return ".", nil
	}
	return strings.TrimPrefix(abs, s.img.Location+string(filepath.Separator)), nil
}

// Open returns a byte stream over the named file.
func (s *ArchiveStorage) Open(name string) (io.ReadCloser, error) {
	rel, err := s.rel(name)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Exists reports whether the named entry exists in the archive.
func (s *ArchiveStorage) Exists(name string) (bool, error) {
	rel, err := s.rel(name)
	if err != nil {
		return false, err
	}
	_, err = s.fs.Stat(rel)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", name, err)
}

// ListDir lists one directory, split by entry type and natural-sorted.
func (s *ArchiveStorage) ListDir(path string) (dirs, files []string, err error) {
	rel, err := s.rel(path)
	if err != nil {
		return nil, nil, err
	}
	entries, err := afero.ReadDir(s.fs, rel)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", path, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		} else {
			files = append(files, e.Name())
		}
	}
	sort.Sort(natural.StringSlice(dirs))
	sort.Sort(natural.StringSlice(files))
	return dirs, files, nil
}

func (s *ArchiveStorage) stat(name string) (os.FileInfo, error) {
	rel, err := s.rel(name)
	if err != nil {
		return nil, err
	}
	if item := s.stats.Get(rel); item != nil {
		return item.Value(), nil
	}
	info, err := s.fs.Stat(rel)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	s.stats.Set(rel, info, ttlcache.DefaultTTL)
	return info, nil
}

// Size returns the byte size of the named file.
func (s *ArchiveStorage) Size(name string) (int64, error) {
	info, err := s.stat(name)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ModifiedTime returns the modification time in unix nanoseconds.
func (s *ArchiveStorage) ModifiedTime(name string) (int64, error) {
	info, err := s.stat(name)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}

// AccessedTime returns the access time in unix nanoseconds, falling
// back to the modification time when the backend has no atime.
func (s *ArchiveStorage) AccessedTime(name string) (int64, error) {
	info, err := s.stat(name)
	if err != nil {
		return 0, err
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Atim.Sec, st.Atim.Nsec).UnixNano(), nil
	}
	return info.ModTime().UnixNano(), nil
}

// CreatedTime returns the inode change time in unix nanoseconds,
// falling back to the modification time when the backend has no ctime.
func (s *ArchiveStorage) CreatedTime(name string) (int64, error) {
	info, err := s.stat(name)
	if err != nil {
		return 0, err
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Ctim.Sec, st.Ctim.Nsec).UnixNano(), nil
	}
	return info.ModTime().UnixNano(), nil
}

// BuildIdentifier turns a stored location's URI into a mount-relative
// identifier. URIs recorded at first registration may carry the
// archive name as their leading segment; that prefix is stripped.
// Returns "" when the location has no URI.
func (s *ArchiveStorage) BuildIdentifier(obj DataFileObject) string {
	if obj.URI == nil {
		return ""
	}
	sqName := strings.TrimSuffix(s.img.Name, SquashExt)
	parts := strings.Split(*obj.URI, string(filepath.Separator))
	if len(parts) > 1 && parts[0] == sqName {
		return filepath.Join(parts[1:]...)
	}
	return *obj.URI
}
