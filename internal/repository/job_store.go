package repository

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

// JobStore keeps the latest snapshot of every live job. It never hands out
// the stored value itself, only clones.
type JobStore interface {
	Create(ctx context.Context, job *entity.Job) error
	Save(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Release(ctx context.Context, id uuid.UUID) error
	Len() int
}

type memoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*entity.Job
	log  *slog.Logger
}

func NewMemoryJobStore(log *slog.Logger) JobStore {
	if log == nil {
		log = slog.Default()
	}
	return &memoryJobStore{jobs: make(map[uuid.UUID]*entity.Job), log: log}
}

// Create registers a new job; ids are never reused.
func (s *memoryJobStore) Create(_ context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		s.log.Error("job_store create rejected duplicate id", "job_id", job.ID)
		return common.ErrDuplicateJob
	}
	s.jobs[job.ID] = job.Clone()
	s.log.Debug("job_store created", "job_id", job.ID)
	return nil
}

// Save replaces the snapshot of an existing job.
func (s *memoryJobStore) Save(_ context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return common.ErrNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *memoryJobStore) Get(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return job.Clone(), nil
}

// Release drops a job once its response has been delivered.
func (s *memoryJobStore) Release(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return common.ErrNotFound
	}
	delete(s.jobs, id)
	s.log.Debug("job_store released", "job_id", id)
	return nil
}

func (s *memoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
