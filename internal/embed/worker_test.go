package embed

import (
	"context"
	"testing"

	"github.com/kalambet/cortex/internal/storage"
)

func openWorkerStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorker_EmbedsQueuedUnit(t *testing.T) {
	s := openWorkerStore(t)

	now := storage.NowMillis()
	unit := storage.Unit{
		ID: "u1", Kind: storage.KindDecision,
		Intent: "Use structured logging everywhere", Outcome: "unknown",
		CreatedAt: now, Timestamp: now, Confidence: 0.8, Importance: 0.5, IsActive: true,
	}
	if err := s.InsertUnit(unit); err != nil {
		t.Fatalf("InsertUnit: %v", err)
	}
	if err := s.EnqueueJob(storage.Job{ID: "j1", Type: JobType, PayloadJSON: `{"unit_id":"u1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := NewWorker(s, NewHashEmbedder(), 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("no job processed")
	}

	has, err := s.HasVector("u1")
	if err != nil {
		t.Fatalf("HasVector: %v", err)
	}
	if !has {
		t.Error("vector not written")
	}
}

func TestWorker_MissingUnitCompletesQuietly(t *testing.T) {
	s := openWorkerStore(t)
	if err := s.EnqueueJob(storage.Job{ID: "j1", Type: JobType, PayloadJSON: `{"unit_id":"gone"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := NewWorker(s, NewHashEmbedder(), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	pending, err := s.PendingJobCount()
	if err != nil {
		t.Fatalf("PendingJobCount: %v", err)
	}
	if pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}
}

func TestWorker_NoJobs(t *testing.T) {
	s := openWorkerStore(t)
	w := NewWorker(s, NewHashEmbedder(), 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("claimed a job from an empty queue")
	}
}
