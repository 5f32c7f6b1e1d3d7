package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

type eventKind int

const (
	eventCompleted eventKind = iota
	eventFailed
	eventRetrying
	eventCanceled
	eventGroupFinished
)

// event is a lifecycle notification recorded under the mutex and
// emitted after it is released, since hooks may call back into the
// scheduler.
type event struct {
	kind      eventKind
	job       *job.Job
	group     *group.Group
	status    group.Status
	err       error
	elapsed   time.Duration
	attempt   int
	nextRunAt time.Time
}

// txn accumulates the side effects of one locked mutation: events to
// emit and snapshots to persist, both applied by flush after unlock.
type txn struct {
	events      []event
	dirtyJobs   []*job.Job
	dirtyGroups []*group.Group
}

func (tx *txn) touchJob(j *job.Job)       { tx.dirtyJobs = append(tx.dirtyJobs, j.Clone()) }
func (tx *txn) touchGroup(g *group.Group) { tx.dirtyGroups = append(tx.dirtyGroups, g.Clone()) }

// flush persists dirty snapshots best-effort, emits events, and wakes
// workers. Must be called without the mutex held.
func (s *Scheduler) flush(ctx context.Context, tx *txn) {
	for _, j := range tx.dirtyJobs {
		s.persistBestEffort(ctx, j)
	}
	for _, g := range tx.dirtyGroups {
		_ = s.persistGroup(ctx, g) //nolint:errcheck // logged inside
	}
	if s.hooks != nil {
		for _, ev := range tx.events {
			switch ev.kind {
			case eventCompleted:
				s.hooks.EmitJobCompleted(ctx, ev.job, ev.elapsed)
			case eventFailed:
				s.hooks.EmitJobFailed(ctx, ev.job, ev.err)
			case eventRetrying:
				s.hooks.EmitJobRetrying(ctx, ev.job, ev.attempt, ev.nextRunAt)
			case eventCanceled:
				s.hooks.EmitJobCanceled(ctx, ev.job)
			case eventGroupFinished:
				s.hooks.EmitGroupFinished(ctx, ev.group, ev.status)
			}
		}
	}
	if len(tx.dirtyJobs) > 0 {
		s.wakeUp()
	}
}

// MarkCompleted records a successful attempt. If cancellation was
// requested while the job ran but the handler still finished, the
// result stands.
func (s *Scheduler) MarkCompleted(ctx context.Context, jobID id.JobID, result []byte) error {
	tx := &txn{}
	s.mu.Lock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrJobNotFound
	}
	if j.State != job.StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s, want %s", batch.ErrInvalidState, jobID, j.State, job.StateRunning)
	}
	j.Result = result
	j.LastError = ""
	j.Progress = 100
	s.finalizeLocked(tx, j, job.StateCompleted, nil)
	s.mu.Unlock()

	s.flush(ctx, tx)
	return nil
}

// Requeue records a failed attempt with retries remaining: the job
// returns to the queue after delay. A cancel or pause requested during
// the attempt takes effect here instead.
func (s *Scheduler) Requeue(ctx context.Context, jobID id.JobID, runErr error, delay time.Duration) error {
	tx := &txn{}
	s.mu.Lock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrJobNotFound
	}
	if j.State != job.StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s, want %s", batch.ErrInvalidState, jobID, j.State, job.StateRunning)
	}
	key := jobID.String()
	if runErr != nil {
		j.LastError = runErr.Error()
	}
	switch {
	case s.hasIntent(s.cancelIntent, key):
		s.finalizeLocked(tx, j, job.StateCanceled, runErr)
	case s.hasIntent(s.pauseIntent, key):
		delete(s.pauseIntent, key)
		j.State = job.StatePaused
		j.StartedAt = nil
		j.Touch()
		tx.touchJob(j)
	default:
		now := time.Now().UTC()
		j.State = job.StateQueued
		j.StartedAt = nil
		j.RunAt = now.Add(delay)
		j.Touch()
		tx.touchJob(j)
		tx.events = append(tx.events, event{
			kind:      eventRetrying,
			job:       j.Clone(),
			attempt:   j.Attempt,
			nextRunAt: j.RunAt,
		})
	}
	s.mu.Unlock()

	s.flush(ctx, tx)
	return nil
}

// MarkFailed records a terminally failed attempt: retries exhausted or
// the failure is not retryable. A cancel requested during the attempt
// wins over the failure.
func (s *Scheduler) MarkFailed(ctx context.Context, jobID id.JobID, runErr error) error {
	tx := &txn{}
	s.mu.Lock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrJobNotFound
	}
	if j.State != job.StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s, want %s", batch.ErrInvalidState, jobID, j.State, job.StateRunning)
	}
	if runErr != nil {
		j.LastError = runErr.Error()
	}
	if s.hasIntent(s.cancelIntent, jobID.String()) || errors.Is(runErr, batch.ErrJobCanceled) {
		s.finalizeLocked(tx, j, job.StateCanceled, runErr)
	} else {
		s.finalizeLocked(tx, j, job.StateFailed, runErr)
	}
	s.mu.Unlock()

	s.flush(ctx, tx)
	return nil
}

// Cancel cancels a job. Terminal jobs are left as they are. A running
// job has its execution context canceled and reaches StateCanceled when
// the attempt reports back; any other state transitions immediately.
func (s *Scheduler) Cancel(ctx context.Context, jobID id.JobID) error {
	tx := &txn{}
	s.mu.Lock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrJobNotFound
	}
	canceller := s.cancelLocked(tx, j)
	s.mu.Unlock()

	if canceller != nil {
		canceller(jobID.String())
	}
	s.flush(ctx, tx)
	return nil
}

// CancelGroup cancels every non-terminal member of a group.
func (s *Scheduler) CancelGroup(ctx context.Context, groupID id.GroupID) error {
	tx := &txn{}
	s.mu.Lock()
	g, ok := s.groups[groupID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrGroupNotFound
	}
	var running []string
	for _, memberID := range g.MemberIDs {
		j, ok := s.jobs[memberID.String()]
		if !ok {
			continue
		}
		if s.cancelLocked(tx, j) != nil {
			running = append(running, memberID.String())
		}
	}
	canceller := s.canceller
	s.mu.Unlock()

	if canceller != nil {
		for _, key := range running {
			canceller(key)
		}
	}
	s.flush(ctx, tx)
	return nil
}

// cancelLocked applies cancellation to one job. For a running job it
// records the intent and returns the canceller for the caller to invoke
// outside the lock; otherwise it returns nil.
func (s *Scheduler) cancelLocked(tx *txn, j *job.Job) func(string) {
	switch {
	case j.Terminal():
		return nil
	case j.State == job.StateRunning:
		s.cancelIntent[j.ID.String()] = struct{}{}
		return s.canceller
	default:
		s.cancelJobLocked(tx, j, "")
		return nil
	}
}

// cancelJobLocked transitions a non-running, non-terminal job straight
// to StateCanceled. reason, when non-empty, becomes LastError.
func (s *Scheduler) cancelJobLocked(tx *txn, j *job.Job, reason string) {
	if reason != "" {
		j.LastError = reason
	}
	s.finalizeLocked(tx, j, job.StateCanceled, nil)
}

// finalizeLocked applies a terminal transition and all of its
// consequences: waiter notification, dependent cascade, group
// propagation, and promotion of unblocked waiting jobs.
func (s *Scheduler) finalizeLocked(tx *txn, j *job.Job, state job.State, runErr error) {
	key := j.ID.String()
	now := time.Now().UTC()
	j.State = state
	j.FinishedAt = &now
	j.Touch()
	delete(s.cancelIntent, key)
	delete(s.pauseIntent, key)
	tx.touchJob(j)

	switch state {
	case job.StateCompleted:
		var elapsed time.Duration
		if j.StartedAt != nil {
			elapsed = now.Sub(*j.StartedAt)
		}
		tx.events = append(tx.events, event{kind: eventCompleted, job: j.Clone(), elapsed: elapsed})
	case job.StateFailed:
		tx.events = append(tx.events, event{kind: eventFailed, job: j.Clone(), err: runErr})
	case job.StateCanceled:
		tx.events = append(tx.events, event{kind: eventCanceled, job: j.Clone()})
	}

	for _, ch := range s.waiters[key] {
		ch <- state
	}
	delete(s.waiters, key)

	if state == job.StateFailed || state == job.StateCanceled {
		s.cascadeLocked(tx, j)
	}
	if !j.GroupID.IsNil() {
		s.groupTransitionLocked(tx, j, state)
	}
	s.promoteLocked(tx)
}

// cascadeLocked cancels every job that depends, directly or
// transitively, on a failed or canceled one. Dependents cannot be
// running: their dependencies were not all completed.
func (s *Scheduler) cascadeLocked(tx *txn, failed *job.Job) {
	for _, depKey := range s.dependents[failed.ID.String()] {
		d, ok := s.jobs[depKey]
		if !ok || d.Terminal() || d.State == job.StateRunning {
			continue
		}
		s.cancelJobLocked(tx, d, fmt.Sprintf("dependency %s %s", failed.ID, failed.State))
	}
}

// groupTransitionLocked applies group semantics after a member reaches
// a terminal state. A failed member cancels its siblings when the group
// is CancelOnFailure; a failed or canceled member of a sequential group
// cancels the members after it, since they could never become eligible.
// When the whole group settles, its terminal status is announced once.
func (s *Scheduler) groupTransitionLocked(tx *txn, member *job.Job, state job.State) {
	g, ok := s.groups[member.GroupID.String()]
	if !ok {
		return
	}

	if state == job.StateFailed && g.CancelOnFailure {
		for _, memberID := range g.MemberIDs {
			if memberID == member.ID {
				continue
			}
			sib, ok := s.jobs[memberID.String()]
			if !ok || sib.Terminal() {
				continue
			}
			if sib.State == job.StateRunning {
				s.cancelIntent[memberID.String()] = struct{}{}
				if s.canceller != nil {
					// Safe under the lock: the pool's canceller only
					// cancels a context.
					s.canceller(memberID.String())
				}
				continue
			}
			s.cancelJobLocked(tx, sib, fmt.Sprintf("group member %s failed", member.ID))
		}
	}

	if g.Sequential && (state == job.StateFailed || state == job.StateCanceled) {
		after := false
		for _, memberID := range g.MemberIDs {
			if memberID == member.ID {
				after = true
				continue
			}
			if !after {
				continue
			}
			sib, ok := s.jobs[memberID.String()]
			if !ok || sib.Terminal() || sib.State == job.StateRunning {
				continue
			}
			s.cancelJobLocked(tx, sib, fmt.Sprintf("preceding group member %s %s", member.ID, state))
		}
	}

	gKey := g.ID.String()
	if _, announced := s.finishedGroups[gKey]; announced {
		return
	}
	summary := g.Summarize(s.lookupLocked())
	if summary.Status.Terminal() {
		s.finishedGroups[gKey] = struct{}{}
		tx.events = append(tx.events, event{kind: eventGroupFinished, group: g.Clone(), status: summary.Status})
	}
}

// promoteLocked moves waiting jobs whose blockers have cleared into the
// queue, so listings and stats reflect readiness promptly.
func (s *Scheduler) promoteLocked(tx *txn) {
	for _, j := range s.jobs {
		if j.State != job.StateWaiting {
			continue
		}
		if bad, ok := s.failedDependencyLocked(j); ok {
			s.cancelJobLocked(tx, j, fmt.Sprintf("dependency %s %s", bad.ID, bad.State))
			continue
		}
		if !s.blockedLocked(j) {
			j.State = job.StateQueued
			j.Touch()
			tx.touchJob(j)
		}
	}
}

// Pause holds a job out of scheduling. Queued and waiting jobs pause
// immediately; a running job finishes its current attempt and pauses
// instead of requeueing. Pausing an already paused job is a no-op.
func (s *Scheduler) Pause(ctx context.Context, jobID id.JobID) error {
	tx := &txn{}
	s.mu.Lock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrJobNotFound
	}
	switch j.State {
	case job.StatePaused:
		s.mu.Unlock()
		return nil
	case job.StateRunning:
		s.pauseIntent[jobID.String()] = struct{}{}
		s.mu.Unlock()
		return nil
	case job.StateQueued, job.StateWaiting:
		j.State = job.StatePaused
		j.Touch()
		tx.touchJob(j)
		s.mu.Unlock()
		s.flush(ctx, tx)
		return nil
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot pause job %s in state %s", batch.ErrInvalidState, jobID, j.State)
	}
}

// Resume returns a paused job to the queue, or to waiting when its
// blockers still hold. Resuming a job that is not paused clears any
// pending pause intent and is otherwise a no-op for schedulable states.
func (s *Scheduler) Resume(ctx context.Context, jobID id.JobID) error {
	tx := &txn{}
	s.mu.Lock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrJobNotFound
	}
	switch j.State {
	case job.StatePaused:
		if s.blockedLocked(j) {
			j.State = job.StateWaiting
		} else {
			j.State = job.StateQueued
		}
		j.Touch()
		tx.touchJob(j)
		s.mu.Unlock()
		s.flush(ctx, tx)
		return nil
	case job.StateRunning:
		delete(s.pauseIntent, jobID.String())
		s.mu.Unlock()
		return nil
	case job.StateQueued, job.StateWaiting:
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot resume job %s in state %s", batch.ErrInvalidState, jobID, j.State)
	}
}

// UpdateProgress records handler-reported progress for a running job.
// pct is clamped to [0, 100].
func (s *Scheduler) UpdateProgress(ctx context.Context, jobID id.JobID, pct float64, message string) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		s.mu.Unlock()
		return batch.ErrJobNotFound
	}
	if j.Terminal() {
		s.mu.Unlock()
		return nil
	}
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	j.Progress = pct
	if message != "" {
		j.ProgressMessage = message
	}
	j.Touch()
	snapshot := j.Clone()
	s.mu.Unlock()

	s.persistBestEffort(ctx, snapshot)
	return nil
}

// Wait blocks until the job reaches a terminal state and returns it.
func (s *Scheduler) Wait(ctx context.Context, jobID id.JobID) (job.State, error) {
	s.mu.Lock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		s.mu.Unlock()
		return "", batch.ErrJobNotFound
	}
	if j.Terminal() {
		state := j.State
		s.mu.Unlock()
		return state, nil
	}
	ch := make(chan job.State, 1)
	key := jobID.String()
	s.waiters[key] = append(s.waiters[key], ch)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		chans := s.waiters[key]
		for i, c := range chans {
			if c == ch {
				s.waiters[key] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return "", ctx.Err()
	case state := <-ch:
		return state, nil
	}
}

// Get returns a snapshot of a job.
func (s *Scheduler) Get(jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, batch.ErrJobNotFound
	}
	return j.Clone(), nil
}

// GetGroup returns a snapshot of a group.
func (s *Scheduler) GetGroup(groupID id.GroupID) (*group.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID.String()]
	if !ok {
		return nil, batch.ErrGroupNotFound
	}
	return g.Clone(), nil
}

// GroupSummary derives the aggregate status and progress of a group
// from its members' current states.
func (s *Scheduler) GroupSummary(groupID id.GroupID) (group.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID.String()]
	if !ok {
		return group.Summary{}, batch.ErrGroupNotFound
	}
	return g.Summarize(s.lookupLocked()), nil
}

// List returns snapshots of jobs matching opts, newest first.
func (s *Scheduler) List(opts job.ListOpts) []*job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*job.Job
	for _, j := range s.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Tag != "" && !hasTag(j, opts.Tag) {
			continue
		}
		out = append(out, j.Clone())
	}
	sortJobsByCreated(out)
	return paginate(out, opts.Offset, opts.Limit)
}

// Groups returns snapshots of all known groups.
func (s *Scheduler) Groups() []*group.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*group.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.Clone())
	}
	return out
}

// Stats counts jobs per state.
func (s *Scheduler) Stats() map[job.State]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[job.State]int)
	for _, j := range s.jobs {
		stats[j.State]++
	}
	return stats
}

// ClearTerminal removes terminal jobs from the scheduler and the store.
// With no states given it clears completed, failed, and canceled jobs;
// otherwise only the listed states. It returns the number removed.
func (s *Scheduler) ClearTerminal(ctx context.Context, states ...job.State) int {
	allowed := make(map[job.State]bool, len(states))
	if len(states) == 0 {
		allowed[job.StateCompleted] = true
		allowed[job.StateFailed] = true
		allowed[job.StateCanceled] = true
	} else {
		for _, st := range states {
			allowed[st] = true
		}
	}

	s.mu.Lock()
	var removed []id.JobID
	for key, j := range s.jobs {
		if j.Terminal() && allowed[j.State] {
			delete(s.jobs, key)
			delete(s.dependents, key)
			removed = append(removed, j.ID)
		}
	}
	s.mu.Unlock()

	if s.store != nil {
		for _, jobID := range removed {
			if err := s.store.DeleteJob(ctx, jobID); err != nil {
				s.logger.Warn("clear job from store failed",
					"job_id", jobID.String(), "error", err.Error())
			}
		}
	}
	return len(removed)
}

// Restore loads persisted jobs and groups back into the scheduler after
// a restart. Records already live in the scheduler are kept as-is. Jobs
// found in StateRunning were interrupted mid-attempt: with retry budget
// left they are demoted to StateQueued and the spent attempt stays
// counted; with the budget exhausted they are finalized as failed.
func (s *Scheduler) Restore(ctx context.Context, jobs []*job.Job, groups []*group.Group) {
	tx := &txn{}
	s.mu.Lock()
	for _, g := range groups {
		if _, ok := s.groups[g.ID.String()]; ok {
			continue
		}
		s.groups[g.ID.String()] = g
	}
	var interrupted []*job.Job
	for _, j := range jobs {
		if _, ok := s.jobs[j.ID.String()]; ok {
			continue
		}
		s.jobs[j.ID.String()] = j
		s.indexDependenciesLocked(j)
		if j.State == job.StateRunning {
			interrupted = append(interrupted, j)
		}
	}
	// Terminal groups from a previous run have already been announced.
	lookup := s.lookupLocked()
	for _, g := range groups {
		if g.Summarize(lookup).Status.Terminal() {
			s.finishedGroups[g.ID.String()] = struct{}{}
		}
	}
	// Dependents and groups are fully indexed at this point, so a
	// failure here cascades the same way it would at runtime.
	for _, j := range interrupted {
		if j.Retry.Exhausted(j.Attempt) {
			runErr := fmt.Errorf("attempt %d interrupted by shutdown, retries exhausted", j.Attempt)
			j.LastError = runErr.Error()
			s.finalizeLocked(tx, j, job.StateFailed, runErr)
			continue
		}
		j.State = job.StateQueued
		j.StartedAt = nil
		j.Touch()
		tx.touchJob(j)
	}
	s.mu.Unlock()

	s.flush(ctx, tx)
}

func (s *Scheduler) hasIntent(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func hasTag(j *job.Job, tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func sortJobsByCreated(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
}

func paginate(jobs []*job.Job, offset, limit int) []*job.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}
