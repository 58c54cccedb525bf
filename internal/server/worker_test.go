package server

import (
	"context"
	"errors"
	"testing"

	"github.com/cwbudde/mayflydoe/internal/space"
	"github.com/cwbudde/mayflydoe/internal/store"
	"github.com/cwbudde/mayflydoe/internal/strategy"
)

func boxRequest(n int) JobRequest {
	cfg := strategy.DefaultConfig()
	cfg.Space = space.Spec{Inputs: []space.InputSpec{
		{Key: "a", Type: "continuous", Bounds: []float64{-1, 1}},
		{Key: "b", Type: "continuous", Bounds: []float64{-1, 1}},
	}}
	cfg.Options.RandomSeed = 1
	cfg.Options.NRestarts = 2
	return JobRequest{Problem: cfg, NExperiments: n}
}

func newTestWorker(t *testing.T) (*worker, *store.FSStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	return &worker{jobs: NewJobManager(), store: st, traceDir: dir, metrics: NewMetrics()}, st
}

func TestRunJob_Success(t *testing.T) {
	w, st := newTestWorker(t)
	job := w.jobs.CreateJob(boxRequest(4))

	if err := w.runJob(context.Background(), job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := w.jobs.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Fatalf("Job should be completed, got %s (%s)", updated.State, updated.Error)
	}
	if updated.Candidates == nil || updated.Candidates.Len() != 4 {
		t.Fatalf("Expected 4 candidates, got %+v", updated.Candidates)
	}
	if updated.Updates == 0 {
		t.Error("Observer should have reported progress")
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}

	record, err := st.LoadRecord(job.ID)
	if err != nil {
		t.Fatalf("Record should be persisted: %v", err)
	}
	if record.Value != updated.Value {
		t.Errorf("Record value %v, job value %v", record.Value, updated.Value)
	}

	reader, err := store.NewTraceReader(st.BaseDir(), job.ID)
	if err != nil {
		t.Fatalf("Trace should exist: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != updated.Updates {
		t.Errorf("Expected %d trace entries, got %d", updated.Updates, len(entries))
	}
}

func TestRunJob_WithExperiments(t *testing.T) {
	w, _ := newTestWorker(t)
	req := boxRequest(2)
	req.Experiments = &strategy.Table{
		Keys: []string{"a", "b"},
		Rows: [][]any{{1.0, 1.0}, {-1.0, -1.0}},
	}
	job := w.jobs.CreateJob(req)

	if err := w.runJob(context.Background(), job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}
	updated, _ := w.jobs.GetJob(job.ID)
	if updated.Candidates.Len() != 2 {
		t.Errorf("Only new rows should be returned, got %d", updated.Candidates.Len())
	}
}

func TestRunJob_InvalidProblem(t *testing.T) {
	w, st := newTestWorker(t)
	req := boxRequest(4)
	req.Problem.Formula = "a + missing"
	job := w.jobs.CreateJob(req)

	if err := w.runJob(context.Background(), job.ID); err == nil {
		t.Fatal("runJob should fail for an unknown formula term")
	}

	updated, _ := w.jobs.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
	if _, err := st.LoadRecord(job.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Failed job must not be persisted, got %v", err)
	}
}

func TestRunJob_Cancelled(t *testing.T) {
	w, _ := newTestWorker(t)
	job := w.jobs.CreateJob(boxRequest(4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.runJob(ctx, job.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	updated, _ := w.jobs.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

func TestRunJob_NotFound(t *testing.T) {
	w, _ := newTestWorker(t)
	if err := w.runJob(context.Background(), "nonexistent"); err == nil {
		t.Error("Expected error for unknown job")
	}
}
