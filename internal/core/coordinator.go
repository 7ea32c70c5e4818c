package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/batch-orchestrator/internal/async"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
	"github.com/joseph-ayodele/batch-orchestrator/internal/repository"
)

const archiveTimeout = 10 * time.Second

type CoordinatorOption func(*Coordinator)

// WithArchive persists terminal jobs and, when requested, their artifacts.
func WithArchive(a repository.ArchiveRepository) CoordinatorOption {
	return func(c *Coordinator) { c.archive = a }
}

func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator is the entry point for requests: it creates the job, admits it
// through the queue and hands back the terminal snapshot.
type Coordinator struct {
	store   repository.JobStore
	manager *Manager
	queue   async.Queue
	archive repository.ArchiveRepository
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func NewCoordinator(
	store repository.JobStore,
	manager *Manager,
	queue async.Queue,
	jobTimeout time.Duration,
	logger *slog.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if jobTimeout <= 0 {
		jobTimeout = 2 * time.Minute
	}
	c := &Coordinator{
		store:   store,
		manager: manager,
		queue:   queue,
		timeout: jobTimeout,
		now:     time.Now,
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Process runs raw through the whole flow and returns the terminal job. If
// ctx ends first the job keeps running; the latest snapshot is returned
// together with ctx's error.
func (c *Coordinator) Process(ctx context.Context, raw []byte) (*entity.Job, error) {
	job := entity.NewJob(json.RawMessage(raw), c.now(), c.timeout)
	if err := c.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	reqID := common.RequestIDFromContext(ctx)
	log := c.logger.With("job_id", job.ID, "req_id", reqID)
	log.Info("coordinator.job.received", "bytes", len(raw))

	done := make(chan *entity.Job, 1)
	task := async.Task{
		JobID:       job.ID,
		SubmittedAt: job.CreatedAt,
		Run: func(qctx context.Context) {
			qctx = common.WithJobID(common.WithRequestID(qctx, reqID), job.ID)
			c.complete(c.manager.Run(qctx, job), done)
		},
	}
	if err := c.queue.Enqueue(ctx, task); err != nil {
		log.Warn("coordinator.job.admission_failed", "error", err)
		c.complete(c.manager.Abort(job, fmt.Errorf("admission failed: %w", err)), done)
	}

	select {
	case final := <-done:
		return final, nil
	case <-ctx.Done():
		log.Warn("coordinator.job.caller_gone", "error", ctx.Err())
		snap, err := c.Get(context.WithoutCancel(ctx), job.ID)
		if err != nil {
			return nil, ctx.Err()
		}
		return snap, ctx.Err()
	}
}

// complete archives the terminal job, delivers it and frees its live slot.
func (c *Coordinator) complete(job *entity.Job, done chan<- *entity.Job) {
	c.persist(job)
	done <- job
	if err := c.store.Release(context.Background(), job.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
		c.logger.Error("coordinator.job.release_failed", "job_id", job.ID, "error", err)
	}
}

func (c *Coordinator) persist(job *entity.Job) {
	if c.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	log := c.logger.With("job_id", job.ID)

	if _, err := c.archive.SaveJob(ctx, job); err != nil {
		log.Warn("coordinator.archive.job_failed", "error", err)
	}
	if job.Request == nil || !job.Request.StoreResults {
		return
	}

	artifacts := map[string]any{}
	if job.Normalization != nil {
		artifacts[repository.ArtifactNormalized] = job.Normalization
	}
	for p, res := range job.BatchResults {
		artifacts[repository.BatchArtifactKey(string(p))] = res
	}
	if job.Analysis != nil {
		artifacts[repository.ArtifactAnalysis] = job.Analysis
	}
	for key, payload := range artifacts {
		if _, err := c.archive.SaveArtifact(ctx, job.ID, key, payload); err != nil {
			log.Warn("coordinator.archive.artifact_failed", "key", key, "error", err)
		}
	}
	log.Debug("coordinator.archive.stored", "artifacts", len(artifacts))
}

// Get returns the live snapshot of a job, falling back to the archive once
// the job has been released.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := c.store.Get(ctx, id)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, common.ErrNotFound) || c.archive == nil {
		return nil, err
	}
	return c.archive.GetJob(ctx, id)
}

// Cancel stops a running job. A job that already finished is left as is.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	if c.manager.Cancel(id) {
		c.logger.Info("coordinator.job.cancelled", "job_id", id)
	}
	return c.Get(ctx, id)
}

// Shutdown drains the queue. When ctx ends first, running jobs are cancelled
// and jobs still waiting in the queue fail without running.
func (c *Coordinator) Shutdown(ctx context.Context) {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		c.queue.Shutdown(ctx)
	}()
	select {
	case <-drained:
		return
	case <-ctx.Done():
	}
	c.manager.Shutdown()
	<-drained
}

// Live reports how many jobs are held in the live store and how many of them
// are running.
func (c *Coordinator) Live() (stored, running int) {
	return c.store.Len(), c.manager.InFlight()
}
