package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/analysis"
	"github.com/joseph-ayodele/batch-orchestrator/internal/backend"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
	"github.com/joseph-ayodele/batch-orchestrator/internal/repository"
	"github.com/joseph-ayodele/batch-orchestrator/internal/response"
	"github.com/joseph-ayodele/batch-orchestrator/internal/validator"
)

// Policy is the retry and cost policy applied to every job.
type Policy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Costs       analysis.CostModel
}

// PolicyFromConfig builds a Policy from the loaded configuration.
func PolicyFromConfig(cfg *common.Config) Policy {
	return Policy{
		MaxRetries:  cfg.Retry.MaxRetries,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
		Costs:       analysis.CostModelFromConfig(cfg.Cost),
	}
}

// Backoff returns the delay before retry number n (1-based):
// BaseBackoff * 2^(n-1), capped at MaxBackoff.
func (p Policy) Backoff(n int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < n && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// TransitionHook observes every state change. It runs on the job's goroutine
// with a snapshot and must not block.
type TransitionHook func(job *entity.Job, tr entity.Transition)

type ManagerOption func(*Manager)

func WithTransitionHook(h TransitionHook) ManagerOption {
	return func(m *Manager) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager drives jobs through their state machine. Each job is owned by the
// goroutine running Run for it; the manager itself only shares the table of
// in-flight cancel handles between jobs.
type Manager struct {
	store     repository.JobStore
	validator *validator.Validator
	norm      backend.Normalizer
	batch     backend.BatchProcessor
	policy    Policy
	logger    *slog.Logger
	now       func() time.Time
	hooks     []TransitionHook

	mu       sync.Mutex
	inflight map[uuid.UUID]context.CancelCauseFunc
	closed   bool
}

func NewManager(
	store repository.JobStore,
	v *validator.Validator,
	norm backend.Normalizer,
	batch backend.BatchProcessor,
	policy Policy,
	logger *slog.Logger,
	opts ...ManagerOption,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:     store,
		validator: v,
		norm:      norm,
		batch:     batch,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
		inflight:  make(map[uuid.UUID]context.CancelCauseFunc),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Cancel stops a running job's pending calls. It reports whether the job was
// in flight.
func (m *Manager) Cancel(id uuid.UUID) bool {
	m.mu.Lock()
	cancel, ok := m.inflight[id]
	m.mu.Unlock()
	if ok {
		m.logger.Info("manager.job.cancel_requested", "job_id", id)
		cancel(common.ErrCancelled)
	}
	return ok
}

// Shutdown cancels every in-flight job. Jobs handed to Run afterwards are
// aborted without being started.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, cancel := range m.inflight {
		m.logger.Warn("manager.job.cancelled_on_shutdown", "job_id", id)
		cancel(common.ErrCancelled)
	}
}

// InFlight is the number of jobs currently running.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *Manager) track(id uuid.UUID, cancel context.CancelCauseFunc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.inflight[id] = cancel
	return true
}

func (m *Manager) untrack(id uuid.UUID) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// Run drives job from RECEIVED to a terminal state and returns the final
// snapshot. The caller hands ownership of job to Run.
func (m *Manager) Run(ctx context.Context, job *entity.Job) (final *entity.Job) {
	r, release, ok := m.start(ctx, job)
	if !ok {
		m.logger.Warn("manager.job.refused", "job_id", job.ID)
		return m.Abort(job, fmt.Errorf("%w: manager is shut down", common.ErrCancelled))
	}
	defer release()

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("manager.job.panic", "panic", p)
			r.stop()
			if !r.job.State.IsTerminal() {
				r.addError(constants.ErrorKindInternal, "", 0, fmt.Sprintf("internal error: %v", p))
				r.finish(constants.JobStateFailed)
			}
			final = r.job.Clone()
		}
	}()

	r.execute()
	return r.job.Clone()
}

// start registers job as in flight and prepares its run under the job's
// deadline. release must be called once the run is over. It reports false
// after Shutdown.
func (m *Manager) start(ctx context.Context, job *entity.Job) (*run, func(), bool) {
	if job.RetryCount == nil {
		job.RetryCount = map[constants.Branch]int{}
	}
	dctx, cancelDeadline := context.WithDeadlineCause(ctx, job.Deadline, common.ErrTimeout)
	jctx, cancel := context.WithCancelCause(dctx)
	if !m.track(job.ID, cancel) {
		cancel(common.ErrCancelled)
		cancelDeadline()
		return nil, nil, false
	}

	r := &run{
		m:      m,
		job:    job,
		ctx:    jctx,
		log:    m.logger.With("job_id", job.ID),
		events: make(chan branchEvent, 2*len(constants.Branches)),
		closed: make(chan struct{}),
		join:   newJoiner(constants.Branches),
	}
	return r, func() {
		m.untrack(job.ID)
		cancel(nil)
		cancelDeadline()
	}, true
}

// Abort ends a job that never started running, for example because it could
// not be admitted. It returns the terminal snapshot.
func (m *Manager) Abort(job *entity.Job, cause error) *entity.Job {
	r := &run{m: m, job: job, ctx: context.Background(), log: m.logger.With("job_id", job.ID)}
	r.addError(constants.ErrorKindInternal, "", 0, cause.Error())
	r.finish(constants.JobStateFailed)
	return r.job.Clone()
}

type eventKind int

const (
	eventResult eventKind = iota
	eventRetryDue
)

// branchEvent is the only way branch goroutines and retry timers talk to the
// job goroutine.
type branchEvent struct {
	JobID   uuid.UUID
	Branch  constants.Branch
	Attempt int
	kind    eventKind
	norm    *entity.NormalizationResult
	batch   map[constants.Pipeline]entity.BatchResult
	err     error
}

// run is the per-job state owned by the job goroutine.
type run struct {
	m      *Manager
	job    *entity.Job
	ctx    context.Context
	log    *slog.Logger
	events chan branchEvent
	closed chan struct{}
	join   *joiner
	timers []*time.Timer
}

func (r *run) execute() {
	r.transition(constants.JobStateValidating, nil)
	res := r.m.validator.Validate(r.job.RawRequest)
	if !res.OK {
		r.log.Info("manager.job.rejected", "errors", len(res.Errors), "error", res.Err())
		r.finish(constants.JobStateRejected, func(j *entity.Job) {
			j.ValidationErrors = res.Errors
		})
		return
	}
	r.transition(constants.JobStateValidated, func(j *entity.Job) {
		j.Request = res.Request
	})

	r.transition(constants.JobStateDispatching, nil)
	for _, b := range constants.Branches {
		r.call(b)
	}
	r.transition(constants.JobStateAwaitingResults, nil)

	r.await()

	succeeded := r.join.count(branchSucceeded)
	if succeeded == 0 {
		r.log.Warn("manager.job.failed", "errors", len(r.job.Errors))
		r.finish(constants.JobStateFailed)
		return
	}
	degraded := succeeded < len(constants.Branches)
	r.transition(constants.JobStateJoined, func(j *entity.Job) {
		j.Degraded = degraded
	})

	r.transition(constants.JobStateAnalyzing, nil)
	metrics := analysis.Compute(r.job.Normalization, r.job.BatchResults, r.m.policy.Costs)

	r.transition(constants.JobStateResponding, func(j *entity.Job) {
		j.Analysis = &metrics
	})
	if degraded {
		r.finish(constants.JobStateCompletedDegraded)
	} else {
		r.finish(constants.JobStateCompleted)
	}
}

// await consumes branch events until both branches are resolved or the job
// context ends.
func (r *run) await() {
	defer r.stop()
	for !r.join.done() {
		select {
		case ev := <-r.events:
			r.handle(ev)
		case <-r.ctx.Done():
			r.expire()
		}
	}
}

// stop disarms retry timers and releases goroutines still trying to post.
func (r *run) stop() {
	if r.closed == nil {
		return
	}
	select {
	case <-r.closed:
		return
	default:
	}
	for _, t := range r.timers {
		t.Stop()
	}
	close(r.closed)
}

func (r *run) post(ev branchEvent) {
	select {
	case r.events <- ev:
	case <-r.closed:
	}
}

// call dispatches the next attempt of branch b on its own goroutine.
func (r *run) call(b constants.Branch) {
	attempt := r.join.dispatch(b)
	req := r.job.Request
	jobID := r.job.ID
	r.log.Debug("manager.branch.dispatch", "branch", b, "attempt", attempt)

	go func() {
		ev := branchEvent{JobID: jobID, Branch: b, Attempt: attempt, kind: eventResult}
		defer func() {
			if p := recover(); p != nil {
				ev.err = fmt.Errorf("%w: %s backend panic: %v", common.ErrInternal, b, p)
				ev.norm, ev.batch = nil, nil
			}
			r.post(ev)
		}()

		switch b {
		case constants.BranchNormalization:
			res, err := r.m.norm.Normalize(r.ctx, backend.NormalizeRequest{
				JobID:      jobID,
				Values:     req.Values,
				GPUEnabled: req.GPUEnabled,
			})
			if err != nil {
				ev.err = err
				return
			}
			if err := res.CheckFinite(); err != nil {
				ev.err = common.NewPermanentError(string(b), err)
				return
			}
			ev.norm = &res
		case constants.BranchBatch:
			res, err := r.m.batch.Process(r.ctx, backend.BatchRequest{
				JobID:    jobID,
				Values:   req.Values,
				Records:  req.Records,
				Pipeline: req.Pipeline,
				Spark:    req.Spark,
			})
			if err != nil {
				ev.err = err
				return
			}
			for _, p := range constants.PipelineCompare.Expand() {
				if r, ok := res[p]; ok {
					if err := r.CheckFinite(); err != nil {
						ev.err = common.NewPermanentError(string(b), err)
						return
					}
				}
			}
			ev.batch = res
		}
	}()
}

func (r *run) handle(ev branchEvent) {
	if r.ctx.Err() != nil {
		// expiry wins over anything that raced with it
		return
	}
	if ev.JobID != r.job.ID {
		r.log.Warn("manager.event.foreign", "event_job_id", ev.JobID)
		return
	}

	if ev.kind == eventRetryDue {
		if r.join.acceptRetry(ev.Branch, ev.Attempt) {
			r.call(ev.Branch)
		}
		return
	}

	if !r.join.acceptResult(ev.Branch, ev.Attempt) {
		r.log.Debug("manager.event.stale", "branch", ev.Branch, "attempt", ev.Attempt)
		return
	}

	if ev.err == nil {
		r.record(ev)
		r.join.resolve(ev.Branch, branchSucceeded)
		r.log.Info("manager.branch.succeeded", "branch", ev.Branch, "attempt", ev.Attempt)
		return
	}

	kind := errorKind(ev.err)
	r.addError(kind, ev.Branch, ev.Attempt, ev.err.Error())

	if kind == constants.ErrorKindServiceTransient && r.job.RetryCount[ev.Branch] < r.m.policy.MaxRetries {
		r.job.RetryCount[ev.Branch]++
		n := r.job.RetryCount[ev.Branch]
		delay := r.m.policy.Backoff(n)
		r.log.Warn("manager.branch.retry", "branch", ev.Branch, "attempt", ev.Attempt, "retry", n, "backoff", delay, "error", ev.err)
		r.save()

		due := branchEvent{JobID: r.job.ID, Branch: ev.Branch, Attempt: ev.Attempt, kind: eventRetryDue}
		r.timers = append(r.timers, time.AfterFunc(delay, func() { r.post(due) }))
		return
	}

	r.join.resolve(ev.Branch, branchLost)
	r.log.Warn("manager.branch.lost", "branch", ev.Branch, "attempt", ev.Attempt, "kind", kind, "error", ev.err)
	r.save()
}

// record stores a branch result. Each result field is written at most once.
func (r *run) record(ev branchEvent) {
	switch ev.Branch {
	case constants.BranchNormalization:
		if r.job.Normalization == nil {
			r.job.Normalization = ev.norm
		}
	case constants.BranchBatch:
		if r.job.BatchResults == nil {
			r.job.BatchResults = ev.batch
		}
	}
	r.save()
}

// expire resolves every pending branch as lost when the job context ends,
// either by deadline or by cancellation.
func (r *run) expire() {
	cause := context.Cause(r.ctx)
	kind, msg := constants.ErrorKindTimeout, common.ErrTimeout.Error()
	if !common.IsTimeout(cause) {
		kind, msg = constants.ErrorKindInternal, common.ErrCancelled.Error()
	}
	for _, b := range r.join.pending() {
		r.addError(kind, b, r.join.attempt(b), msg)
		r.join.resolve(b, branchLost)
		r.log.Warn("manager.branch.expired", "branch", b, "kind", kind)
	}
	r.save()
}

func errorKind(err error) constants.ErrorKind {
	switch {
	case errors.Is(err, common.ErrInternal):
		return constants.ErrorKindInternal
	case common.IsTransient(err):
		return constants.ErrorKindServiceTransient
	default:
		return constants.ErrorKindServicePermanent
	}
}

func (r *run) addError(kind constants.ErrorKind, b constants.Branch, attempt int, msg string) {
	r.job.Errors = append(r.job.Errors, entity.JobError{
		Kind:    kind,
		Branch:  b,
		Attempt: attempt,
		Message: msg,
	})
}

// transition moves the job to state to, applying mutate in the same step.
// An illegal edge is a programming error.
func (r *run) transition(to constants.JobState, mutate func(*entity.Job)) {
	from := r.job.State
	if !constants.CanTransition(from, to) {
		panic(fmt.Sprintf("illegal job transition %s -> %s", from, to))
	}
	if mutate != nil {
		mutate(r.job)
	}
	tr := entity.Transition{From: from, To: to, At: r.m.now()}
	r.job.State = to
	r.job.Transitions = append(r.job.Transitions, tr)
	r.log.Debug("manager.job.transition", "from", from, "to", to)
	r.save()

	if len(r.m.hooks) > 0 {
		snap := r.job.Clone()
		for _, h := range r.m.hooks {
			h(snap, tr)
		}
	}
}

// finish enters a terminal state. The response is assembled from a snapshot
// already in that state, then committed together with the state change.
func (r *run) finish(state constants.JobState, mutate ...func(*entity.Job)) {
	now := r.m.now()
	for _, fn := range mutate {
		fn(r.job)
	}
	snap := r.job.Clone()
	snap.State = state
	snap.FinishedAt = &now
	resp := response.Assemble(snap)

	r.transition(state, func(j *entity.Job) {
		j.FinishedAt = &now
		j.Response = &resp
	})
	r.log.Info("manager.job.finished", "state", state, "status", resp.Status, "total_time_s", resp.TotalTime)
}

func (r *run) save() {
	if r.m.store == nil {
		return
	}
	if err := r.m.store.Save(r.ctx, r.job); err != nil && !errors.Is(err, common.ErrNotFound) {
		r.log.Error("manager.store.save_failed", "error", err)
	}
}
