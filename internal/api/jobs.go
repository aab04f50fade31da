package api

import (
	"sync"
	"time"

	"github.com/planforge/planforge/core/pipeline"
)

// JobStatus represents the current state of a conversion job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Job represents an asynchronous conversion job. A job mirrors exactly
// one pipeline run; it receives one terminal update, after which it is
// never modified again.
type Job struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	SourcePath  string    `json:"source_path"`
	OutputPath  string    `json:"output_path,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	CreatedAt   string    `json:"created_at"`
	CompletedAt string    `json:"completed_at,omitempty"`
}

// JobStore manages conversion jobs in memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates a new job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create registers a pending job for run id.
func (s *JobStore) Create(id, sourcePath string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{
		ID:         id,
		Status:     JobStatusPending,
		SourcePath: sourcePath,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	s.jobs[id] = job
	return job
}

// Get returns a copy of the job with the given ID.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns copies of all jobs.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// SetStage marks the job running at the given pipeline stage.
func (s *JobStore) SetStage(id string, stage pipeline.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok && job.Status != JobStatusDone && job.Status != JobStatusFailed {
		job.Status = JobStatusRunning
		job.Stage = string(stage)
	}
}

// Complete records the terminal result for a job. Later calls for the
// same job are ignored, preserving the single-terminal invariant.
func (s *JobStore) Complete(id string, result *pipeline.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status == JobStatusDone || job.Status == JobStatusFailed {
		return
	}

	job.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	if result.Succeeded() {
		job.Status = JobStatusDone
		job.Stage = string(pipeline.StageDone)
		job.OutputPath = result.OutputPath
	} else {
		job.Status = JobStatusFailed
		job.Stage = string(result.Failure.Stage)
		job.Error = result.Failure.Message
		job.ErrorKind = string(result.Failure.Kind)
	}
}
