package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/cortex/internal/storage"
)

// embedTimeout bounds a single embed call. On timeout the job fails and is
// retried by the queue; retrieval keeps working on FTS alone meanwhile.
const embedTimeout = 30 * time.Second

// JobType is the queue type the worker claims.
const JobType = "embed_unit"

// JobStore is the slice of the storage layer the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetUnit(id string) (storage.Unit, error)
	SaveVector(id string, embedding []float32) error
}

// Worker drains embed_unit jobs from the queue so embedding never blocks
// the request path.
type Worker struct {
	store    JobStore
	embedder Embedder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0 it defaults to 500ms.
func NewWorker(store JobStore, embedder Embedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		poll:     pollInterval,
		logger:   slog.Default(),
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
			w.logger.Error("embed worker iteration failed", "error", err)
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

// RunOnce claims and processes a single job. Returns true if a job was
// processed regardless of outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("embed job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// Payload is the embed job body.
type Payload struct {
	UnitID string `json:"unit_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	unit, err := w.store.GetUnit(payload.UnitID)
	if err == storage.ErrNotFound {
		// Unit vanished between enqueue and claim. Nothing to embed.
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading unit %s: %w", payload.UnitID, err)
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	vec, err := w.embedder.Embed(embedCtx, EmbedText(unit.Intent, unit.Action, unit.Tags))
	if err != nil {
		return fmt.Errorf("embedding unit %s: %w", unit.ID, err)
	}

	if err := w.store.SaveVector(unit.ID, vec); err != nil {
		return fmt.Errorf("saving vector: %w", err)
	}
	return nil
}
