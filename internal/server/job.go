package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/mayflydoe/internal/strategy"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job has finished.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobRequest is the body of POST /api/v1/jobs.
type JobRequest struct {
	Problem      strategy.Config `json:"problem"`
	NExperiments int             `json:"n_experiments" validate:"gt=0"`
	// Experiments already run; the design is augmented around them.
	Experiments *strategy.Table `json:"experiments,omitempty"`
}

// Job represents a design generation job
type Job struct {
	ID         string          `json:"id"`
	State      JobState        `json:"state"`
	Request    JobRequest      `json:"request"`
	Phase      string          `json:"phase,omitempty"`
	Updates    int             `json:"updates"`
	Best       float64         `json:"best"`
	Nodes      int             `json:"nodes,omitempty"`
	Value      float64         `json:"value"`
	Converged  bool            `json:"converged"`
	Candidates *strategy.Table `json:"candidates,omitempty"`
	StartTime  time.Time       `json:"startTime"`
	EndTime    *time.Time      `json:"endTime,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job for req.
func (jm *JobManager) CreateJob(req JobRequest) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Request:   req,
		StartTime: time.Now(),
	}
	jm.jobs[job.ID] = job
	return job
}

// GetJob returns a copy of the job.
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns copies of all jobs, oldest first.
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartTime.Before(jobs[j].StartTime) })
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	updateFn(job)
	return nil
}

// SetCancel registers the cancel function of a running job.
func (jm *JobManager) SetCancel(id string, cancel context.CancelFunc) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[id] = cancel
}

// ClearCancel forgets the cancel function of a job that has returned.
func (jm *JobManager) ClearCancel(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	delete(jm.cancels, id)
}

// Cancel stops a running job. It reports whether the job exists.
func (jm *JobManager) Cancel(id string) bool {
	jm.mu.Lock()
	_, exists := jm.jobs[id]
	cancel := jm.cancels[id]
	delete(jm.cancels, id)
	jm.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return exists
}

// RunningCount returns the number of jobs in the running state.
func (jm *JobManager) RunningCount() int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	n := 0
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			n++
		}
	}
	return n
}
