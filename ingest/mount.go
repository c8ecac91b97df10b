package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrMountVerify is returned when the mount utility ran but the
// location still does not show up in the mount table.
var ErrMountVerify = errors.New("mount not visible after mounting")

// mountTable is where the live OS mount table is read from. The file
// lists one mount per line with the target as the second field.
const mountTable = "/proc/self/mounts"

// Mounter exposes archive images as directory trees by invoking an
// external mount utility. Mount state is never cached in-process: every
// check re-reads the OS mount table, which stays the single source of
// truth across concurrent runs.
type Mounter struct {
	cfg Config

	// seams for tests
	readMounts func() ([]byte, error)
	runMount   func(ctx context.Context, cmd, image, location string) error
}

// NewMounter creates a Mounter using the configured mount utility.
func NewMounter(cfg Config) *Mounter {
	return &Mounter{
		cfg:        cfg,
		readMounts: func() ([]byte, error) { return os.ReadFile(mountTable) },
		runMount: func(ctx context.Context, cmd, image, location string) error {
			return exec.CommandContext(ctx, cmd, image, location).Run()
		},
	}
}

// Mounted reports whether location appears as a mount target in the
// live mount table.
func (m *Mounter) Mounted(location string) (bool, error) {
	out, err := m.readMounts()
	if err != nil {
		return false, fmt.Errorf("read mount table: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == location {
			return true, nil
		}
	}
	return false, nil
}

// EnsureMounted makes img available at img.Location. Idempotent: when
// the location is already in the mount table nothing runs. Otherwise
// the mount point directory is created (a pre-existing directory is
// fine, any other mkdir failure aborts) and the mount utility is
// invoked with a bounded wait. The mount table is consulted once more
// afterwards; ErrMountVerify is returned when the target is still
// absent, so a silently failed mount never leaves the facade pointing
// at an empty directory.
func (m *Mounter) EnsureMounted(ctx context.Context, img ArchiveImage) error {
	l := sub("mount")

	mounted, err := m.Mounted(img.Location)
	if err != nil {
		return err
	}
	if mounted {
		l.Debug("already mounted", "location", img.Location)
		return nil
	}

	if err := os.MkdirAll(img.Location, 0750); err != nil {
		return fmt.Errorf("create mount point %s: %w", img.Location, err)
	}

	mctx := ctx
	if m.cfg.MountTimeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, m.cfg.MountTimeout)
		defer cancel()
	}

	l.Info("mounting archive", "image", img.Source, "location", img.Location)
	if err := m.runMount(mctx, m.cfg.MountCmd, img.Source, img.Location); err != nil {
		return fmt.Errorf("mount %s at %s: %w", img.Source, img.Location, err)
	}

	// Re-check: the utility's exit status alone is not trusted.
	mounted, err = m.Mounted(img.Location)
	if err != nil {
		return err
	}
	if !mounted {
		return fmt.Errorf("%s: %w", img.Location, ErrMountVerify)
	}
	l.Debug("mount verified", "location", img.Location)
	return nil
}
