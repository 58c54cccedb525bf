package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/mayflydoe/internal/solver"
	"github.com/cwbudde/mayflydoe/internal/store"
	"github.com/cwbudde/mayflydoe/internal/strategy"
)

// progressInterval throttles SSE updates.
const progressInterval = 500 * time.Millisecond

// worker runs jobs. Records and traces are only written when the store and
// trace directory are set.
type worker struct {
	jobs     *JobManager
	store    store.Store
	traceDir string
	metrics  *Metrics
}

// runJob executes a design job in the background.
func (w *worker) runJob(ctx context.Context, jobID string) error {
	job, exists := w.jobs.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err := w.jobs.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return err
	}

	cfg := job.Request.Problem
	strategyName := string(cfg.Options.Strategy)
	if w.metrics != nil {
		w.metrics.jobStarted()
	}
	start := time.Now()
	finish := func(state JobState) {
		if w.metrics != nil {
			w.metrics.jobFinished(strategyName, state, time.Since(start))
		}
	}

	slog.Info("Starting job", "job_id", jobID, "n_experiments", job.Request.NExperiments, "strategy", strategyName)

	var trace *store.TraceWriter
	if w.traceDir != "" {
		tw, err := store.NewTraceWriter(w.traceDir, jobID, false)
		if err != nil {
			slog.Warn("Failed to open trace", "job_id", jobID, "error", err)
		} else {
			trace = tw
			defer trace.Close()
		}
	}

	cfg.Options.Observer = func(p solver.Progress) {
		w.jobs.UpdateJob(jobID, func(j *Job) {
			j.Updates++
			j.Phase = p.Phase
			if j.Updates == 1 || p.Best < j.Best {
				j.Best = p.Best
			}
			if p.Nodes > j.Nodes {
				j.Nodes = p.Nodes
			}
		})
		if trace != nil {
			trace.Observe(p)
		}
	}

	strat, err := strategy.New(cfg)
	if err != nil {
		w.markJobFailed(jobID, err)
		finish(StateFailed)
		return err
	}
	if job.Request.Experiments != nil && job.Request.Experiments.Len() > 0 {
		if err := strat.Tell(*job.Request.Experiments); err != nil {
			w.markJobFailed(jobID, err)
			finish(StateFailed)
			return err
		}
	}

	progressDone := make(chan struct{})
	go w.monitorProgress(ctx, jobID, progressDone)

	proposal, err := strat.Ask(ctx, job.Request.NExperiments)
	close(progressDone)
	elapsed := time.Since(start)
	if trace != nil {
		if err := trace.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "job_id", jobID, "error", err)
		}
	}

	// a cancelled solve still returns its best design; the job is cancelled anyway
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		w.markJobCancelled(jobID)
		finish(StateCancelled)
		return context.Canceled
	}
	if err != nil {
		w.markJobFailed(jobID, err)
		finish(StateFailed)
		return err
	}

	if w.store != nil {
		record := store.NewRecord(jobID, strat.Config(), job.Request.NExperiments, proposal, elapsed)
		if err := w.store.SaveRecord(record); err != nil {
			slog.Error("Failed to save design record", "job_id", jobID, "error", err)
		}
	}
	finish(StateCompleted)

	endTime := time.Now()
	err = w.jobs.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Value = proposal.Value
		j.Best = proposal.Value
		j.Converged = proposal.Converged
		j.Candidates = &proposal.Candidates
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"value", proposal.Value,
		"converged", proposal.Converged,
	)

	w.broadcast(jobID)
	return nil
}

// monitorProgress periodically broadcasts the job state while it runs.
func (w *worker) monitorProgress(ctx context.Context, jobID string, done chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.broadcast(jobID)
		}
	}
}

func (w *worker) broadcast(jobID string) {
	job, exists := w.jobs.GetJob(jobID)
	if !exists {
		return
	}
	w.jobs.broadcaster.Broadcast(newProgressEvent(job))
}

func (w *worker) markJobFailed(jobID string, err error) {
	endTime := time.Now()
	w.jobs.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	w.broadcast(jobID)
}

func (w *worker) markJobCancelled(jobID string) {
	endTime := time.Now()
	w.jobs.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	w.broadcast(jobID)
}
