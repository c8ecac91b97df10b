package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// Watcher monitors the archive source directory for newly appearing
// squashfs images and wakes the daemon's scan instead of leaving the
// new archive waiting for the next interval.
type Watcher struct {
	sourceRoot string
	wake       chan<- struct{}
	watcher    *fsnotify.Watcher
}

// NewWatcher creates a watcher on the archive source directory. Wake
// signals are delivered on wake, non-blocking.
func NewWatcher(sourceRoot string, wake chan<- struct{}) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		sourceRoot: sourceRoot,
		wake:       wake,
		watcher:    w,
	}, nil
}

// Start begins watching. Events for squashfs images are debounced and
// collapsed into a single wake signal. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	l := sub("watcher")
	if err := w.watcher.Add(w.sourceRoot); err != nil {
		return err
	}
	l.Info("watching archive inbox", "dir", w.sourceRoot)

	pending := false
	timer := time.NewTimer(debounceInterval)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			base := filepath.Base(event.Name)
			if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, SquashExt) {
				continue
			}
			l.Debug("archive appeared", "name", base)
			pending = true
			timer.Reset(debounceInterval)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watch error", "err", err)

		case <-timer.C:
			if pending {
				pending = false
				select {
				case w.wake <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Close releases the underlying watcher.
func (w *Watcher) Close() {
	w.watcher.Close() //nolint:errcheck
}
