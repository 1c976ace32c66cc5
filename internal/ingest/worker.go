package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sorakabot/soraka/internal/dataset"
	"github.com/sorakabot/soraka/internal/storage"
)

// JobType is the queue type for knowledge-base ingest batches.
const JobType = "kb_ingest"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// RowLoader stores a batch of rows in the knowledge base.
type RowLoader interface {
	Load(ctx context.Context, rows []dataset.Row) (int, error)
}

// Payload is the JSON body of a kb_ingest job.
type Payload struct {
	Entries []dataset.Row `json:"entries"`
}

// NewJob builds a pending kb_ingest job for rows.
func NewJob(rows []dataset.Row) (storage.Job, error) {
	data, err := json.Marshal(Payload{Entries: rows})
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding payload: %w", err)
	}
	return storage.Job{
		ID:          uuid.NewString(),
		Type:        JobType,
		PayloadJSON: string(data),
	}, nil
}

// Worker processes kb_ingest jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	loader RowLoader
	poll   time.Duration
	logger *zap.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, loader RowLoader, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:  store,
		loader: loader,
		poll:   pollInterval,
		logger: logger,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", zap.Error(err))
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single kb_ingest job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", zap.String("job_id", job.ID), zap.Error(err))
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	n, err := w.loader.Load(ctx, payload.Entries)
	if err != nil {
		return fmt.Errorf("loading entries: %w", err)
	}
	w.logger.Info("knowledge base entries ingested", zap.String("job_id", job.ID), zap.Int("count", n))
	return nil
}
