package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_WakesOnNewArchive(t *testing.T) {
	dir := t.TempDir()
	wake := make(chan struct{}, 1)

	w, err := NewWatcher(dir, wake)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx) //nolint:errcheck

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "exp1.squashfs"), []byte("sqsh"), 0644))

	select {
	case <-wake:
	case <-time.After(5 * time.Second):
		t.Fatal("no wake signal after archive appeared")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	wake := make(chan struct{}, 1)

	w, err := NewWatcher(dir, wake)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)

	// A dotfile and a non-archive file must not trigger a wake.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".partial.squashfs"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	select {
	case <-wake:
		t.Fatal("wake signalled for ignored files")
	case <-time.After(2 * debounceInterval):
	}
}

func TestWatcher_MissingDirFails(t *testing.T) {
	wake := make(chan struct{}, 1)
	w, err := NewWatcher(filepath.Join(t.TempDir(), "absent"), wake)
	require.NoError(t, err)
	defer w.Close()

	require.Error(t, w.Start(context.Background()))
}
