// Package transfer runs downloads and uploads on a worker pool. It
// implements the enqueuers the synchronizer hands jobs to and records the
// results in the state store.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	syncerrors "github.com/alexjbarnes/replica-sync/internal/errors"
	"github.com/alexjbarnes/replica-sync/internal/models"
	"github.com/alexjbarnes/replica-sync/internal/remote"
	"github.com/alexjbarnes/replica-sync/internal/state"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// retryBaseDelay is the first backoff after a transient failure;
	// later attempts double it.
	retryBaseDelay = 2 * time.Second

	// retryMaxDelay caps the retry backoff.
	retryMaxDelay = time.Minute

	// maxFinishedJobs bounds how many completed jobs stay queryable.
	maxFinishedJobs = 1024
)

// Remote is the server side of a transfer. *remote.Client implements it.
type Remote interface {
	ReadFile(ctx context.Context, remotePath, account, spaceID string) (*models.FileMetadata, error)
	Download(ctx context.Context, remotePath, account, spaceID string, w io.Writer) (string, error)
	Upload(ctx context.Context, remotePath, account, spaceID string, r io.Reader, pre remote.Precondition) (string, error)
}

// Store is the part of the state store the queue writes results to.
type Store interface {
	GetFileByID(id int64) (*models.File, error)
	GetFileByPath(account, space, remotePath string) (*models.File, error)
	SaveFile(f *models.File) error
	SaveConflict(id int64, etag string) error
	MarkSynchronized(id int64, c state.SyncedContent) error
}

// Kind distinguishes downloads from uploads.
type Kind string

const (
	KindDownload Kind = "download"
	KindUpload   Kind = "upload"
)

// Status is the lifecycle position of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is a snapshot of one transfer.
type Job struct {
	ID          models.JobID
	Kind        Kind
	FileID      int64
	AccountName string
	SpaceID     string
	RemotePath  string
	LocalPath   string
	Mode        models.UploadMode
	Status      Status
	Attempts    int
	Error       string

	// ResultFileID is the row created by an as-new upload.
	ResultFileID int64

	err  error
	done chan struct{}
}

// Err returns the error a failed job ended with.
func (j Job) Err() error { return j.err }

func (j *Job) key() string {
	if j.Kind == KindDownload {
		return "download:" + strconv.FormatInt(j.FileID, 10)
	}

	return "upload:" + strconv.FormatInt(j.FileID, 10) + ":" + j.Mode.String()
}

// Queue accepts transfer jobs and runs them on a fixed pool of workers.
// Enqueueing never blocks. A job already pending or running for the same
// file and direction is not duplicated. Jobs for one file run one at a
// time in the order they were enqueued.
type Queue struct {
	remote      Remote
	store       Store
	storage     *Storage
	workers     int
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	jobs     map[models.JobID]*Job
	inflight map[string]models.JobID
	pending  []*Job
	busy     map[int64]bool
	finished []models.JobID
	wake     chan struct{}
}

// Config sizes the queue.
type Config struct {
	Workers     int
	MaxAttempts int
}

// NewQueue creates a queue. Call Run to start the workers.
func NewQueue(r Remote, store Store, storage *Storage, cfg Config, logger *slog.Logger) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return &Queue{
		remote:      r,
		store:       store,
		storage:     storage,
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  retryBaseDelay,
		logger:      logger,
		jobs:        make(map[models.JobID]*Job),
		inflight:    make(map[string]models.JobID),
		busy:        make(map[int64]bool),
		wake:        make(chan struct{}, 1),
	}
}

// EnqueueDownload schedules a download of f's server version into local
// storage. It returns nil when the same download is already in flight.
func (q *Queue) EnqueueDownload(account string, f *models.File) *models.JobID {
	return q.enqueue(&Job{
		Kind:        KindDownload,
		FileID:      f.ID,
		AccountName: account,
		SpaceID:     f.SpaceID,
		RemotePath:  f.RemotePath,
		LocalPath:   f.StoragePath,
	})
}

// EnqueueUpload schedules an upload. It returns nil when the same upload
// is already in flight.
func (q *Queue) EnqueueUpload(req models.UploadRequest) *models.JobID {
	return q.enqueue(&Job{
		Kind:        KindUpload,
		FileID:      req.FileID,
		AccountName: req.AccountName,
		SpaceID:     req.SpaceID,
		RemotePath:  req.RemotePath,
		LocalPath:   req.LocalPath,
		Mode:        req.Mode,
	})
}

func (q *Queue) enqueue(j *Job) *models.JobID {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := j.key()
	if existing, ok := q.inflight[key]; ok {
		q.logger.Debug("transfer already in flight",
			slog.String("job_id", string(existing)),
			slog.String("path", j.RemotePath),
		)

		return nil
	}

	j.ID = models.JobID(uuid.NewString())
	j.Status = StatusPending
	j.done = make(chan struct{})

	q.jobs[j.ID] = j
	q.inflight[key] = j.ID
	q.pending = append(q.pending, j)

	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.logger.Debug("transfer enqueued",
		slog.String("job_id", string(j.ID)),
		slog.String("kind", string(j.Kind)),
		slog.String("path", j.RemotePath),
	)

	id := j.ID

	return &id
}

// Status returns a snapshot of a job.
func (q *Queue) Status(id models.JobID) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}

	return *j, true
}

// Jobs returns snapshots of every pending, running and recently finished
// job.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}

	return out
}

// Wait blocks until the job finishes or ctx ends and returns the final
// snapshot.
func (q *Queue) Wait(ctx context.Context, id models.JobID) (Job, error) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	q.mu.Unlock()

	if !ok {
		return Job{}, fmt.Errorf("unknown job %s", id)
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}

	snap, _ := q.Status(id)

	return snap, nil
}

// Run starts the workers and blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for range q.workers {
		g.Go(func() error {
			q.worker(ctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

func (q *Queue) worker(ctx context.Context) {
	for {
		j := q.next()
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		err := q.runWithRetry(ctx, j)
		q.finish(j, err)

		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the first pending job whose file has nothing running.
func (q *Queue) next() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, j := range q.pending {
		if q.busy[j.FileID] {
			continue
		}

		q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
		q.busy[j.FileID] = true
		j.Status = StatusRunning

		if len(q.pending) > 0 {
			select {
			case q.wake <- struct{}{}:
			default:
			}
		}

		return j
	}

	return nil
}

func (q *Queue) finish(j *Job, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, j.key())
	delete(q.busy, j.FileID)

	if err != nil {
		j.Status = StatusFailed
		j.err = err
		j.Error = err.Error()
	} else {
		j.Status = StatusDone
	}

	close(j.done)

	q.finished = append(q.finished, j.ID)
	if len(q.finished) > maxFinishedJobs {
		delete(q.jobs, q.finished[0])
		q.finished = q.finished[1:]
	}

	if len(q.pending) > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}

	attrs := []any{
		slog.String("job_id", string(j.ID)),
		slog.String("kind", string(j.Kind)),
		slog.String("path", j.RemotePath),
		slog.Int("attempts", j.Attempts),
	}

	if err != nil {
		q.logger.Warn("transfer failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}

	q.logger.Info("transfer complete", attrs...)
}

func (q *Queue) runWithRetry(ctx context.Context, j *Job) error {
	delay := q.retryDelay

	for {
		q.mu.Lock()
		j.Attempts++
		attempt := j.Attempts
		q.mu.Unlock()

		err := q.execute(ctx, j)
		if err == nil || !remote.IsTransient(err) || attempt >= q.maxAttempts {
			return err
		}

		q.logger.Debug("transient transfer error, retrying",
			slog.String("job_id", string(j.ID)),
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		delay = min(delay*2, retryMaxDelay)
	}
}

func (q *Queue) execute(ctx context.Context, j *Job) error {
	f, err := q.store.GetFileByID(j.FileID)
	if err != nil {
		return fmt.Errorf("loading file %d: %w", j.FileID, err)
	}

	if f == nil {
		return fmt.Errorf("file %d: %w", j.FileID, syncerrors.ErrFileNotFound)
	}

	if j.Kind == KindDownload {
		return q.download(ctx, j, f)
	}

	switch j.Mode {
	case models.UploadModeAsNew:
		return q.uploadAsNew(ctx, j, f)
	default:
		return q.upload(ctx, j, f)
	}
}
