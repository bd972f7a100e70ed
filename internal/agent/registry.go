package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aseven02/streamget/internal/douyin"
	"github.com/aseven02/streamget/internal/orchestrator"
)

// JobState is the coarse lifecycle of one agent-managed capture run.
type JobState string

const (
	JobStateRunning  JobState = "running"
	JobStateFinished JobState = "finished"
)

// Job is one capture run managed by the agent. Runs are held in memory
// only; nothing persists across agent restarts.
type Job struct {
	ID          uuid.UUID               `json:"id"`
	RoomURL     string                  `json:"room_url"`
	Qualities   []douyin.Quality        `json:"qualities"`
	DurationSec int                     `json:"duration_sec,omitempty"`
	State       JobState                `json:"state"`
	CreatedAt   time.Time               `json:"created_at"`
	FinishedAt  time.Time               `json:"finished_at,omitempty"`
	Report      *orchestrator.RunReport `json:"-"`

	cancel context.CancelFunc
}

// Registry tracks in-flight and finished jobs.
type Registry struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[uuid.UUID]*Job)}
}

// Add registers a new job.
func (r *Registry) Add(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

// Get returns a snapshot of one job.
func (r *Registry) Get(id uuid.UUID) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of all jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	list := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		list = append(list, *job)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Cancel signals one running job to stop. Sessions transition to
// INTERRUPTED; the job reaches finished once they drain.
func (r *Registry) Cancel(id uuid.UUID) bool {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok || job.State != JobStateRunning || job.cancel == nil {
		return false
	}
	job.cancel()
	return true
}

// Finish records a job's report and terminal state.
func (r *Registry) Finish(id uuid.UUID, report *orchestrator.RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.State = JobStateFinished
	job.FinishedAt = report.FinishedAt
	job.Report = report
}
