package ingest

import (
	"context"
	gosync "sync"
	"time"

	"github.com/marusama/semaphore/v2"
)

// Daemon drives the background protocol: periodic scans enqueue parse
// jobs, an inbox watcher triggers early scans, and a bounded set of
// workers executes jobs off the queue.
type Daemon struct {
	cfg    Config
	runner *Runner
	wake   chan struct{}
}

// NewDaemon creates a daemon over the runner.
func NewDaemon(cfg Config, runner *Runner) *Daemon {
	return &Daemon{
		cfg:    cfg,
		runner: runner,
		wake:   make(chan struct{}, 1),
	}
}

// Run starts the daemon: an immediate scan, the inbox watcher when a
// source root is configured, then the scan ticker and worker loop.
// Blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) {
	l := sub("daemon")
	l.Info("ingest daemon starting", "interval", d.cfg.ScanInterval, "workers", d.cfg.Workers)

	if d.cfg.SourceRoot != "" {
		watcher, err := NewWatcher(d.cfg.SourceRoot, d.wake)
		if err != nil {
			l.Error("watcher creation failed, continuing without inbox watch", "err", err)
		} else {
			go func() {
				if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
					l.Warn("watcher stopped unexpectedly", "err", err)
				}
			}()
		}
	}

	var wg gosync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.scanLoop(ctx)
	}()

	d.workLoop(ctx)
	wg.Wait()
	l.Info("ingest daemon stopped")
}

// scanLoop runs a scan immediately, then on every tick or watcher
// wake-up.
func (d *Daemon) scanLoop(ctx context.Context) {
	l := sub("daemon")
	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	scan := func() {
		if _, err := d.runner.Scan(ctx); err != nil && ctx.Err() == nil {
			l.Error("scan failed", "err", err)
		}
	}

	scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scan()
		case <-d.wake:
			l.Debug("scan triggered by watcher")
			scan()
		}
	}
}

// workLoop pops jobs and dispatches them, capping concurrency with a
// semaphore sized by the worker count.
func (d *Daemon) workLoop(ctx context.Context) {
	l := sub("daemon")
	sem := semaphore.New(d.cfg.Workers)
	done := ctx.Done()

	var wg gosync.WaitGroup
	for {
		job, ok := d.runner.Queue().Pop(done)
		if !ok {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(job ParseJob) {
			defer wg.Done()
			defer sem.Release(1)
			if err := d.runner.RunParseJob(ctx, job); err != nil && ctx.Err() == nil {
				l.Error("parse job failed", "datafile", job.DataFileID, "ns", job.Namespace, "err", err)
			}
		}(job)
	}
	wg.Wait()
}
