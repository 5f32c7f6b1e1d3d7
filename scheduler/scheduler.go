// Package scheduler maintains the set of submitted jobs and selects the
// next one eligible for execution.
//
// The scheduler is the sole serialization point for job-state mutation:
// every transition — submit, dequeue, completion, retry, pause, cancel,
// dependency propagation — is applied under one mutex, so a worker
// completing a job can never race the re-evaluation of its dependents.
// Workers block in Next until a job is eligible; callers block in Wait
// until a job reaches a terminal state.
//
// Eligibility: a job is eligible when it is queued or waiting, its RunAt
// has passed, every dependency is completed, and — for a sequential
// group — it is the earliest not-yet-completed member. Among eligible
// jobs, selection is priority-first (critical > high > normal > low)
// with earliest CreatedAt as the FIFO tie-break. If a dependency fails
// or is canceled, the dependent is canceled immediately rather than left
// waiting forever.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Store is the slice of persistence the scheduler writes through to.
// Both interfaces are implemented by every store backend.
type Store interface {
	job.Store
	group.Store
}

// Hooks receives lifecycle events emitted by the scheduler. The ext
// package's Registry satisfies it; a nil Hooks disables emission.
type Hooks interface {
	EmitJobQueued(ctx context.Context, j *job.Job)
	EmitJobStarted(ctx context.Context, j *job.Job)
	EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration)
	EmitJobFailed(ctx context.Context, j *job.Job, err error)
	EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time)
	EmitJobCanceled(ctx context.Context, j *job.Job)
	EmitGroupFinished(ctx context.Context, g *group.Group, status group.Status)
}

// Scheduler owns the in-memory job and group tables. All fields behind
// mu; the wake channel nudges blocked Next calls after a state change.
type Scheduler struct {
	mu sync.Mutex

	jobs       map[string]*job.Job
	groups     map[string]*group.Group
	dependents map[string][]string

	// cancelIntent and pauseIntent mark running jobs whose cancel or
	// pause takes effect when the current attempt reports its outcome.
	cancelIntent map[string]struct{}
	pauseIntent  map[string]struct{}

	waiters map[string][]chan job.State

	// finishedGroups records groups whose terminal status has already
	// been announced, so a late cancel does not re-emit it.
	finishedGroups map[string]struct{}

	// canceller cancels the execution context of a running job; the
	// worker pool installs it at start.
	canceller func(jobID string)

	store        Store
	hooks        Hooks
	logger       *slog.Logger
	limiter      *rate.Limiter
	maxQueue     int
	pollInterval time.Duration

	wake   chan struct{}
	closed bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxQueueSize sets the backpressure threshold: Submit fails with
// ErrQueueFull once this many jobs are queued or waiting. Zero means
// unlimited.
func WithMaxQueueSize(n int) Option {
	return func(s *Scheduler) { s.maxQueue = n }
}

// WithPollInterval sets how long Next sleeps when no backoff timer is
// pending and nothing wakes it earlier.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithDispatchRate limits how many jobs per second Next may hand out.
// Zero disables rate limiting.
func WithDispatchRate(perSecond float64) Option {
	return func(s *Scheduler) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// New creates a Scheduler writing through to store. hooks may be nil.
func New(store Store, hooks Hooks, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		jobs:           make(map[string]*job.Job),
		groups:         make(map[string]*group.Group),
		dependents:     make(map[string][]string),
		cancelIntent:   make(map[string]struct{}),
		pauseIntent:    make(map[string]struct{}),
		waiters:        make(map[string][]chan job.State),
		finishedGroups: make(map[string]struct{}),
		store:          store,
		hooks:          hooks,
		logger:         logger,
		pollInterval:   250 * time.Millisecond,
		wake:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCanceller installs the callback used to cancel the execution
// context of a running job. Called by the worker pool before Start.
func (s *Scheduler) SetCanceller(fn func(jobID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceller = fn
}

// Close wakes all blocked Next calls and makes them return. Terminal
// waiters are unaffected; jobs already running finish their attempt.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wakeUp()
}

// Add registers a created job with the scheduler and persists it. The
// job stays in StateCreated and is not considered for execution until
// Submit.
func (s *Scheduler) Add(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s already added", batch.ErrInvalidState, key)
	}
	s.jobs[key] = j
	s.indexDependenciesLocked(j)
	snapshot := j.Clone()
	s.mu.Unlock()

	return s.persistJob(ctx, snapshot)
}

// AddGroup registers a group and persists it.
func (s *Scheduler) AddGroup(ctx context.Context, g *group.Group) error {
	s.mu.Lock()
	s.groups[g.ID.String()] = g
	snapshot := g.Clone()
	s.mu.Unlock()

	return s.persistGroup(ctx, snapshot)
}

// AddJobToGroup attaches a job to a group. The job may be in any
// non-terminal state; sequencing constraints apply from the next
// eligibility evaluation.
func (s *Scheduler) AddJobToGroup(ctx context.Context, jobID id.JobID, groupID id.GroupID) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrJobNotFound
	}
	g, ok := s.groups[groupID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrGroupNotFound
	}
	if j.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", batch.ErrInvalidState, jobID, j.State)
	}
	j.GroupID = groupID
	j.Touch()
	g.Add(jobID)
	jobSnap, groupSnap := j.Clone(), g.Clone()
	s.mu.Unlock()

	if err := s.persistJob(ctx, jobSnap); err != nil {
		return err
	}
	return s.persistGroup(ctx, groupSnap)
}

// Submit transitions a created job to queued (or waiting, when blocked
// on dependencies or group sequencing) and makes it visible to workers.
// Fails with ErrJobNotFound for unknown job or dependency ids,
// ErrInvalidState when the job is not in StateCreated, and ErrQueueFull
// past the backpressure threshold.
func (s *Scheduler) Submit(ctx context.Context, jobID id.JobID) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrJobNotFound
	}
	if j.State != job.StateCreated {
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s, want %s", batch.ErrInvalidState, jobID, j.State, job.StateCreated)
	}
	if s.maxQueue > 0 && s.queueDepthLocked() >= s.maxQueue {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d jobs pending", batch.ErrQueueFull, s.maxQueue)
	}
	// Every dependency must exist by submission time; an id the
	// scheduler has never seen would leave the job waiting forever.
	for _, dep := range j.DependsOn {
		if _, ok := s.jobs[dep.String()]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: dependency %s of job %s", batch.ErrJobNotFound, dep, jobID)
		}
	}

	// A dependency may already have failed by submission time.
	if bad, ok := s.failedDependencyLocked(j); ok {
		tx := &txn{}
		s.cancelJobLocked(tx, j, fmt.Sprintf("dependency %s %s", bad.ID, bad.State))
		s.mu.Unlock()
		s.flush(ctx, tx)
		return nil
	}

	now := time.Now().UTC()
	j.QueuedAt = &now
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	if s.blockedLocked(j) {
		j.State = job.StateWaiting
	} else {
		j.State = job.StateQueued
	}
	j.Touch()
	queued := j.Clone()
	s.mu.Unlock()

	s.wakeUp()
	if s.hooks != nil {
		s.hooks.EmitJobQueued(ctx, queued)
	}
	return s.persistJob(ctx, queued)
}

// Next blocks until a job is eligible for execution, marks it running,
// and returns a snapshot of it. It returns ctx.Err() when the context
// is done and ErrStoreClosed after Close.
func (s *Scheduler) Next(ctx context.Context) (*job.Job, error) {
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, batch.ErrStoreClosed
		}

		now := time.Now().UTC()
		best := s.selectLocked(now)
		if best != nil {
			best.State = job.StateRunning
			best.Attempt++
			started := now
			best.StartedAt = &started
			best.Touch()
			snapshot := best.Clone()
			s.mu.Unlock()

			if s.hooks != nil {
				s.hooks.EmitJobStarted(ctx, snapshot)
			}
			s.persistBestEffort(ctx, snapshot)
			return snapshot, nil
		}

		wait := s.nextTimerLocked(now)
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// selectLocked returns the highest-priority eligible job, or nil.
func (s *Scheduler) selectLocked(now time.Time) *job.Job {
	var best *job.Job
	for _, j := range s.jobs {
		if !s.eligibleLocked(j, now) {
			continue
		}
		if best == nil || higherPriority(j, best) {
			best = j
		}
	}
	return best
}

// higherPriority reports whether a should be dequeued before b:
// priority descending, then CreatedAt ascending, then id for
// determinism.
func higherPriority(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// eligibleLocked applies the full eligibility rule from the package doc.
func (s *Scheduler) eligibleLocked(j *job.Job, now time.Time) bool {
	if j.State != job.StateQueued && j.State != job.StateWaiting {
		return false
	}
	if j.RunAt.After(now) {
		return false
	}
	for _, dep := range j.DependsOn {
		// A dependency gone from the table was completed and cleared:
		// Submit verifies existence, and a failed or canceled one would
		// have cascaded this job to canceled.
		if d, ok := s.jobs[dep.String()]; ok && d.State != job.StateCompleted {
			return false
		}
	}
	if !j.GroupID.IsNil() {
		g, ok := s.groups[j.GroupID.String()]
		if ok && g.Sequential {
			blocking, found := g.FirstBlocking(s.lookupLocked())
			if found && blocking != j.ID {
				return false
			}
		}
	}
	return true
}

// blockedLocked reports whether the job must hold in StateWaiting:
// eligible in every respect except dependencies or group sequencing.
func (s *Scheduler) blockedLocked(j *job.Job) bool {
	for _, dep := range j.DependsOn {
		if d, ok := s.jobs[dep.String()]; ok && d.State != job.StateCompleted {
			return true
		}
	}
	if !j.GroupID.IsNil() {
		g, ok := s.groups[j.GroupID.String()]
		if ok && g.Sequential {
			blocking, found := g.FirstBlocking(s.lookupLocked())
			if found && blocking != j.ID {
				return true
			}
		}
	}
	return false
}

// nextTimerLocked returns how long Next may sleep: the nearest pending
// RunAt among queued jobs, bounded by the poll interval.
func (s *Scheduler) nextTimerLocked(now time.Time) time.Duration {
	wait := s.pollInterval
	for _, j := range s.jobs {
		if j.State != job.StateQueued && j.State != job.StateWaiting {
			continue
		}
		if j.RunAt.After(now) {
			if d := j.RunAt.Sub(now); d < wait {
				wait = d
			}
		}
	}
	return wait
}

func (s *Scheduler) queueDepthLocked() int {
	n := 0
	for _, j := range s.jobs {
		if j.State == job.StateQueued || j.State == job.StateWaiting {
			n++
		}
	}
	return n
}

// failedDependencyLocked returns a dependency in a failed or canceled
// state, if any.
func (s *Scheduler) failedDependencyLocked(j *job.Job) (*job.Job, bool) {
	for _, dep := range j.DependsOn {
		if d, ok := s.jobs[dep.String()]; ok {
			if d.State == job.StateFailed || d.State == job.StateCanceled {
				return d, true
			}
		}
	}
	return nil, false
}

func (s *Scheduler) indexDependenciesLocked(j *job.Job) {
	key := j.ID.String()
	for _, dep := range j.DependsOn {
		s.dependents[dep.String()] = append(s.dependents[dep.String()], key)
	}
}

func (s *Scheduler) lookupLocked() group.Lookup {
	return func(jobID id.JobID) (job.State, bool) {
		j, ok := s.jobs[jobID.String()]
		if !ok {
			return "", false
		}
		return j.State, true
	}
}

func (s *Scheduler) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// persistJob writes through to the store. Callers pass a clone taken
// under the mutex. Failures are logged and wrapped in ErrPersistence;
// in-memory scheduling state is unaffected.
func (s *Scheduler) persistJob(ctx context.Context, j *job.Job) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveJob(ctx, j); err != nil {
		s.logger.Error("persist job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("task", j.Task),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", batch.ErrPersistence, err)
	}
	return nil
}

// persistBestEffort is persistJob for call sites that only log.
func (s *Scheduler) persistBestEffort(ctx context.Context, j *job.Job) {
	_ = s.persistJob(ctx, j) //nolint:errcheck // already logged inside
}

func (s *Scheduler) persistGroup(ctx context.Context, g *group.Group) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveGroup(ctx, g); err != nil {
		s.logger.Error("persist group failed",
			slog.String("group_id", g.ID.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", batch.ErrPersistence, err)
	}
	return nil
}
