package demandsync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusFetching   JobStatus = "fetching"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the in-memory state of one ingestion run. It is not persisted; a
// process restart abandons it and a fresh run converges to the same stored
// rows.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStore owns job lifecycle state. The in-memory implementation is the
// default; any store honoring the same transition rules is a drop-in.
type JobStore interface {
	Create() *Job
	// Adopt registers a pending job under an externally assigned id
	// (Pub/Sub push delivery), or returns the existing one.
	Adopt(id string) *Job
	Get(id string) (*Job, bool)
	// SetStatus moves a job to the given status unless it is already
	// terminal. Returns false for unknown or terminal jobs.
	SetStatus(id string, status JobStatus, message string) bool
	// UpdateProgress advances the counters. Processed never goes backwards,
	// so page retries under concurrent workers cannot lose updates.
	UpdateProgress(id string, processed, total int, message string) bool
}

type memoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryJobStore() JobStore {
	return &memoryJobStore{jobs: make(map[string]*Job)}
}

func (s *memoryJobStore) Create() *Job {
	return s.Adopt(uuid.NewString())
}

func (s *memoryJobStore) Adopt(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		copied := *job
		return &copied
	}
	now := time.Now()
	job := &Job{
		ID:        id,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[id] = job
	copied := *job
	return &copied
}

func (s *memoryJobStore) Get(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	copied := *job
	return &copied, true
}

func (s *memoryJobStore) SetStatus(id string, status JobStatus, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return false
	}
	job.Status = status
	job.Message = message
	job.UpdatedAt = time.Now()
	return true
}

func (s *memoryJobStore) UpdateProgress(id string, processed, total int, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return false
	}
	if processed > job.Processed {
		job.Processed = processed
	}
	if total > job.Total {
		job.Total = total
	}
	if message != "" {
		job.Message = message
	}
	job.UpdatedAt = time.Now()
	return true
}
