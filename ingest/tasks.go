package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	gosync "sync"
)

// ParseJob identifies one background parse unit: an archive catalog
// file under one schema namespace.
type ParseJob struct {
	DataFileID int64
	Namespace  string
}

// JobQueue is a thread-safe dedup FIFO of parse jobs. Pushing a job
// already queued is a no-op; Pop blocks until a job arrives or done
// closes.
type JobQueue struct {
	mu     gosync.Mutex
	set    map[ParseJob]struct{}
	order  []ParseJob
	notify chan struct{} // signaled when items are added
}

// NewJobQueue creates an empty job queue.
func NewJobQueue() *JobQueue {
	return &JobQueue{
		set:    make(map[ParseJob]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Push adds a job unless it is already queued.
func (q *JobQueue) Push(job ParseJob) {
	q.PushMany([]ParseJob{job})
}

// PushMany adds the given jobs under one lock, skipping those already
// queued, and returns how many were newly enqueued.
func (q *JobQueue) PushMany(jobs []ParseJob) int {
	q.mu.Lock()
	added := 0
	for _, job := range jobs {
		if _, exists := q.set[job]; exists {
			continue
		}
		q.set[job] = struct{}{}
		q.order = append(q.order, job)
		added++
	}
	newLen := len(q.order)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("push", "offered", len(jobs), "added", added, "queueLen", newLen)
	}
	if added == 0 {
		return 0
	}

	// Non-blocking signal
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return added
}

// Pop removes and returns the next job in FIFO order. Returns
// (zero, false) when done closes.
func (q *JobQueue) Pop(done <-chan struct{}) (ParseJob, bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			job := q.order[0]
			q.order = q.order[1:]
			delete(q.set, job)
			remaining := len(q.order)
			q.mu.Unlock()
			if logEnabled(slog.LevelDebug) {
				sub("queue").Debug("pop", "datafile", job.DataFileID, "ns", job.Namespace, "remaining", remaining)
			}
			return job, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return ParseJob{}, false
		case <-q.notify:
			// Loop back to check queue
		}
	}
}

// Has reports whether the job is currently queued.
func (q *JobQueue) Has(job ParseJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.set[job]
	return exists
}

// Len returns the current queue size.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Runner executes the two background units: the scan that enqueues
// parse jobs for files not yet processed, and the per-file parse unit
// guarded by the persisted status field. The status check suppresses
// duplicate work but is not a lock: two units racing before either
// persists `running` can both proceed. That window is accepted and
// bounded by the scan interval.
type Runner struct {
	cfg          Config
	store        *Store
	registry     *Registry
	orchestrator *Orchestrator
	queue        *JobQueue
}

// NewRunner wires a Runner over the catalog and registry.
func NewRunner(cfg Config, store *Store, registry *Registry, orchestrator *Orchestrator) *Runner {
	return &Runner{
		cfg:          cfg,
		store:        store,
		registry:     registry,
		orchestrator: orchestrator,
		queue:        NewJobQueue(),
	}
}

// Queue exposes the job queue for the daemon's workers.
func (r *Runner) Queue() *JobQueue {
	return r.queue
}

// Scan enumerates the configured namespaces and enqueues a parse job
// for every file whose status is neither complete nor running.
// Returns the number of jobs newly enqueued; jobs already queued do
// not count.
func (r *Runner) Scan(ctx context.Context) (int, error) {
	l := sub("scan")
	enqueued := 0
	for _, ns := range r.registry.Namespaces() {
		ids, err := r.store.UnparsedFiles(ctx, ns)
		if err != nil {
			return enqueued, fmt.Errorf("scan namespace %s: %w", ns, err)
		}
		jobs := make([]ParseJob, 0, len(ids))
		for _, id := range ids {
			jobs = append(jobs, ParseJob{DataFileID: id, Namespace: ns})
		}
		enqueued += r.queue.PushMany(jobs)
		l.Debug("namespace scanned", "ns", ns, "files", len(ids))
	}
	if enqueued > 0 {
		l.Info("scan enqueued jobs", "count", enqueued)
	}
	return enqueued, nil
}

// RunParseJob executes one parse unit. The status parameter is
// re-read first: complete or running exits without effect. Otherwise
// the status moves to running, the archive is ingested, and the final
// status (complete, or failed with a reason) is persisted even when
// ingestion panics partway into the catalog writes.
func (r *Runner) RunParseJob(ctx context.Context, job ParseJob) error {
	l := sub("task")

	status, err := r.store.GetParseStatus(ctx, job.DataFileID, job.Namespace)
	if err != nil {
		return fmt.Errorf("parse job %d/%s: %w", job.DataFileID, job.Namespace, err)
	}
	if status == StatusComplete || status == StatusRunning {
		l.Debug("parse suppressed", "datafile", job.DataFileID, "ns", job.Namespace, "status", status)
		return nil
	}

	if err := r.store.SetParseStatus(ctx, job.DataFileID, job.Namespace, StatusRunning); err != nil {
		return fmt.Errorf("parse job %d/%s: %w", job.DataFileID, job.Namespace, err)
	}

	final := StatusFailed
	reason := "aborted before completion"
	defer func() {
		// Persisted unconditionally so a failure inside ingestion
		// still leaves a diagnosable status behind. ctx may already be
		// cancelled here (shutdown mid-ingest); a status stuck on
		// running would suppress the file from every future scan, so
		// these writes must not inherit the cancellation.
		pctx := context.WithoutCancel(ctx)
		if err := r.store.SetParseStatus(pctx, job.DataFileID, job.Namespace, final); err != nil {
			l.Error("persist final status failed", "datafile", job.DataFileID, "ns", job.Namespace, "err", err)
		}
		if final == StatusFailed {
			if err := r.store.SetDataFileParameter(pctx, job.DataFileID, job.Namespace, ParseErrorParam, reason); err != nil {
				l.Error("persist failure reason failed", "datafile", job.DataFileID, "err", err)
			}
		}
	}()

	if err := r.ingestArchive(ctx, job); err != nil {
		reason = err.Error()
		l.Warn("parse failed", "datafile", job.DataFileID, "ns", job.Namespace, "err", err)
		return nil // recorded in status, not propagated
	}

	final = StatusComplete
	l.Info("parse complete", "datafile", job.DataFileID, "ns", job.Namespace)
	return nil
}

// ingestArchive reconciles the archive identified by the job's catalog
// file against every experiment that owns it.
func (r *Runner) ingestArchive(ctx context.Context, job ParseJob) error {
	df, err := r.store.GetDataFile(ctx, job.DataFileID)
	if err != nil {
		return err
	}
	source, err := r.store.DefaultObjectPath(ctx, job.DataFileID)
	if err != nil {
		return err
	}
	box, err := r.store.GetOrCreateStorageBox(ctx, df.Filename, filepath.Dir(source))
	if err != nil {
		return err
	}
	exps, err := r.store.ExperimentsForDataFile(ctx, job.DataFileID)
	if err != nil {
		return err
	}
	if len(exps) == 0 {
		return fmt.Errorf("datafile %d belongs to no experiment", job.DataFileID)
	}
	for _, exp := range exps {
		if err := r.orchestrator.MatchExperiment(ctx, exp, box); err != nil {
			return err
		}
	}
	return nil
}
