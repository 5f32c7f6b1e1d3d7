package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

func testJob(opts ...func(*job.Job)) *job.Job {
	j := &job.Job{
		Entity:   batch.NewEntity(),
		ID:       id.NewJobID(),
		Task:     "noop",
		Priority: job.PriorityNormal,
		State:    job.StateCreated,
		Retry:    job.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func addAndSubmit(t *testing.T, s *Scheduler, j *job.Job) {
	t.Helper()
	ctx := context.Background()
	if err := s.Add(ctx, j); err != nil {
		t.Fatalf("Add(%s): %v", j.ID, err)
	}
	if err := s.Submit(ctx, j.ID); err != nil {
		t.Fatalf("Submit(%s): %v", j.ID, err)
	}
}

func mustNext(t *testing.T, s *Scheduler) *job.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	j, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return j
}

func TestSubmitTransitions(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	if err := s.Submit(ctx, id.NewJobID()); !errors.Is(err, batch.ErrJobNotFound) {
		t.Fatalf("Submit(unknown) = %v, want ErrJobNotFound", err)
	}

	j := testJob()
	addAndSubmit(t, s, j)

	got, err := s.Get(j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != job.StateQueued {
		t.Fatalf("state = %s, want %s", got.State, job.StateQueued)
	}
	if got.QueuedAt == nil {
		t.Fatal("QueuedAt not set")
	}

	if err := s.Submit(ctx, j.ID); !errors.Is(err, batch.ErrInvalidState) {
		t.Fatalf("second Submit = %v, want ErrInvalidState", err)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	s := New(nil, nil, nil, WithMaxQueueSize(1))
	ctx := context.Background()

	first := testJob()
	addAndSubmit(t, s, first)

	second := testJob()
	if err := s.Add(ctx, second); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Submit(ctx, second.ID); !errors.Is(err, batch.ErrQueueFull) {
		t.Fatalf("Submit = %v, want ErrQueueFull", err)
	}

	// Draining the queue frees capacity.
	running := mustNext(t, s)
	if err := s.MarkCompleted(ctx, running.ID, nil); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := s.Submit(ctx, second.ID); err != nil {
		t.Fatalf("Submit after drain: %v", err)
	}
}

func TestNextPriorityOrder(t *testing.T) {
	s := New(nil, nil, nil)

	low := testJob(func(j *job.Job) { j.Priority = job.PriorityLow })
	critical := testJob(func(j *job.Job) { j.Priority = job.PriorityCritical })
	normal := testJob(func(j *job.Job) { j.Priority = job.PriorityNormal })
	for _, j := range []*job.Job{low, critical, normal} {
		addAndSubmit(t, s, j)
	}

	want := []id.JobID{critical.ID, normal.ID, low.ID}
	for i, wantID := range want {
		got := mustNext(t, s)
		if got.ID != wantID {
			t.Fatalf("dequeue %d: got %s, want %s", i, got.ID, wantID)
		}
		if got.State != job.StateRunning {
			t.Fatalf("dequeue %d: state = %s, want %s", i, got.State, job.StateRunning)
		}
		if got.Attempt != 1 {
			t.Fatalf("dequeue %d: attempt = %d, want 1", i, got.Attempt)
		}
	}
}

func TestNextFIFOWithinPriority(t *testing.T) {
	s := New(nil, nil, nil)

	first := testJob()
	second := testJob(func(j *job.Job) { j.CreatedAt = first.CreatedAt.Add(time.Millisecond) })
	addAndSubmit(t, s, second)
	addAndSubmit(t, s, first)

	if got := mustNext(t, s); got.ID != first.ID {
		t.Fatalf("got %s, want earlier-created %s", got.ID, first.ID)
	}
}

func TestDependencyGating(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	parent := testJob()
	child := testJob(func(j *job.Job) { j.DependsOn = []id.JobID{parent.ID} })
	addAndSubmit(t, s, parent)
	addAndSubmit(t, s, child)

	got, _ := s.Get(child.ID)
	if got.State != job.StateWaiting {
		t.Fatalf("child state = %s, want %s", got.State, job.StateWaiting)
	}

	running := mustNext(t, s)
	if running.ID != parent.ID {
		t.Fatalf("dequeued %s, want parent %s", running.ID, parent.ID)
	}
	if err := s.MarkCompleted(ctx, parent.ID, []byte(`"ok"`)); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	if got := mustNext(t, s); got.ID != child.ID {
		t.Fatalf("dequeued %s, want child %s", got.ID, child.ID)
	}
}

func TestDependencyFailureCancelsDependents(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	parent := testJob()
	child := testJob(func(j *job.Job) { j.DependsOn = []id.JobID{parent.ID} })
	grandchild := testJob(func(j *job.Job) { j.DependsOn = []id.JobID{child.ID} })
	addAndSubmit(t, s, parent)
	addAndSubmit(t, s, child)
	addAndSubmit(t, s, grandchild)

	running := mustNext(t, s)
	if err := s.MarkFailed(ctx, running.ID, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	for _, dep := range []*job.Job{child, grandchild} {
		got, _ := s.Get(dep.ID)
		if got.State != job.StateCanceled {
			t.Fatalf("dependent %s state = %s, want %s", dep.ID, got.State, job.StateCanceled)
		}
		if got.LastError == "" {
			t.Fatalf("dependent %s has no LastError", dep.ID)
		}
	}
}

func TestSubmitAgainstAlreadyFailedDependency(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	parent := testJob()
	addAndSubmit(t, s, parent)
	running := mustNext(t, s)
	if err := s.MarkFailed(ctx, running.ID, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	child := testJob(func(j *job.Job) { j.DependsOn = []id.JobID{parent.ID} })
	if err := s.Add(ctx, child); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Submit(ctx, child.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, _ := s.Get(child.ID)
	if got.State != job.StateCanceled {
		t.Fatalf("state = %s, want %s", got.State, job.StateCanceled)
	}
}

func TestSubmitRejectsUnknownDependency(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	child := testJob(func(j *job.Job) { j.DependsOn = []id.JobID{id.NewJobID()} })
	if err := s.Add(ctx, child); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := s.Submit(ctx, child.ID)
	if !errors.Is(err, batch.ErrJobNotFound) {
		t.Fatalf("Submit = %v, want %v", err, batch.ErrJobNotFound)
	}
	got, _ := s.Get(child.ID)
	if got.State != job.StateCreated {
		t.Fatalf("state = %s, want %s", got.State, job.StateCreated)
	}
}

func TestClearedCompletedDependencyDoesNotBlock(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	parent := testJob()
	child := testJob(func(j *job.Job) { j.DependsOn = []id.JobID{parent.ID} })
	addAndSubmit(t, s, parent)
	addAndSubmit(t, s, child)

	running := mustNext(t, s)
	if err := s.MarkCompleted(ctx, running.ID, nil); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if n := s.ClearTerminal(ctx); n != 1 {
		t.Fatalf("ClearTerminal = %d, want 1", n)
	}

	if got := mustNext(t, s); got.ID != child.ID {
		t.Fatalf("dequeued %s, want child %s", got.ID, child.ID)
	}
}

func TestSequentialGroupOrdering(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	g := group.New("seq", true, false)
	if err := s.AddGroup(ctx, g); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}

	var members []*job.Job
	for range 3 {
		j := testJob()
		if err := s.Add(ctx, j); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := s.AddJobToGroup(ctx, j.ID, g.ID); err != nil {
			t.Fatalf("AddJobToGroup: %v", err)
		}
		members = append(members, j)
	}
	for _, j := range members {
		if err := s.Submit(ctx, j.ID); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	for i, want := range members {
		got := mustNext(t, s)
		if got.ID != want.ID {
			t.Fatalf("member %d: dequeued %s, want %s", i, got.ID, want.ID)
		}
		if err := s.MarkCompleted(ctx, got.ID, nil); err != nil {
			t.Fatalf("MarkCompleted: %v", err)
		}
	}

	summary, err := s.GroupSummary(g.ID)
	if err != nil {
		t.Fatalf("GroupSummary: %v", err)
	}
	if summary.Status != group.StatusCompleted {
		t.Fatalf("group status = %s, want %s", summary.Status, group.StatusCompleted)
	}
	if summary.Completed != 3 {
		t.Fatalf("completed = %d, want 3", summary.Completed)
	}
}

func TestSequentialGroupFailureCancelsRemainder(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	g := group.New("seq", true, false)
	if err := s.AddGroup(ctx, g); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	var members []*job.Job
	for range 3 {
		j := testJob(func(j *job.Job) { j.Retry.MaxAttempts = 1 })
		if err := s.Add(ctx, j); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := s.AddJobToGroup(ctx, j.ID, g.ID); err != nil {
			t.Fatalf("AddJobToGroup: %v", err)
		}
		if err := s.Submit(ctx, j.ID); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		members = append(members, j)
	}

	running := mustNext(t, s)
	if running.ID != members[0].ID {
		t.Fatalf("dequeued %s, want first member", running.ID)
	}
	if err := s.MarkFailed(ctx, running.ID, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	for _, m := range members[1:] {
		got, _ := s.Get(m.ID)
		if got.State != job.StateCanceled {
			t.Fatalf("member %s state = %s, want %s", m.ID, got.State, job.StateCanceled)
		}
	}
	summary, _ := s.GroupSummary(g.ID)
	if summary.Status != group.StatusFailed {
		t.Fatalf("group status = %s, want %s", summary.Status, group.StatusFailed)
	}
}

func TestCancelOnFailureGroup(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	g := group.New("parallel", false, true)
	if err := s.AddGroup(ctx, g); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	a := testJob()
	b := testJob()
	for _, j := range []*job.Job{a, b} {
		if err := s.Add(ctx, j); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := s.AddJobToGroup(ctx, j.ID, g.ID); err != nil {
			t.Fatalf("AddJobToGroup: %v", err)
		}
		if err := s.Submit(ctx, j.ID); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	running := mustNext(t, s)
	if err := s.MarkFailed(ctx, running.ID, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	other := b
	if running.ID == b.ID {
		other = a
	}
	got, _ := s.Get(other.ID)
	if got.State != job.StateCanceled {
		t.Fatalf("sibling state = %s, want %s", got.State, job.StateCanceled)
	}
}

func TestRequeueSetsBackoffTimer(t *testing.T) {
	s := New(nil, nil, nil, WithPollInterval(10*time.Millisecond))
	ctx := context.Background()

	j := testJob()
	addAndSubmit(t, s, j)

	running := mustNext(t, s)
	before := time.Now().UTC()
	if err := s.Requeue(ctx, running.ID, errors.New("transient"), 50*time.Millisecond); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	got, _ := s.Get(j.ID)
	if got.State != job.StateQueued {
		t.Fatalf("state = %s, want %s", got.State, job.StateQueued)
	}
	if got.LastError != "transient" {
		t.Fatalf("LastError = %q", got.LastError)
	}
	if got.RunAt.Before(before.Add(40 * time.Millisecond)) {
		t.Fatalf("RunAt = %v, want at least 50ms out", got.RunAt)
	}

	// The job becomes eligible again once the timer elapses.
	again := mustNext(t, s)
	if again.ID != j.ID || again.Attempt != 2 {
		t.Fatalf("redequeue: id=%s attempt=%d", again.ID, again.Attempt)
	}
	if time.Now().UTC().Before(got.RunAt) {
		t.Fatal("dequeued before RunAt")
	}
}

func TestCancelQueuedJob(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	j := testJob()
	addAndSubmit(t, s, j)
	if err := s.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := s.Get(j.ID)
	if got.State != job.StateCanceled {
		t.Fatalf("state = %s, want %s", got.State, job.StateCanceled)
	}
	if got.FinishedAt == nil {
		t.Fatal("FinishedAt not set")
	}

	// Canceling a terminal job is a no-op.
	if err := s.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel(terminal): %v", err)
	}
}

func TestCancelRunningJobAppliesOnReport(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	var canceledKey string
	s.SetCanceller(func(key string) { canceledKey = key })

	j := testJob()
	addAndSubmit(t, s, j)
	running := mustNext(t, s)

	if err := s.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceledKey != j.ID.String() {
		t.Fatalf("canceller got %q, want %q", canceledKey, j.ID)
	}
	got, _ := s.Get(j.ID)
	if got.State != job.StateRunning {
		t.Fatalf("state = %s, want still %s", got.State, job.StateRunning)
	}

	// The attempt reports back as if its context was canceled.
	if err := s.Requeue(ctx, running.ID, context.Canceled, time.Second); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	got, _ = s.Get(j.ID)
	if got.State != job.StateCanceled {
		t.Fatalf("state = %s, want %s", got.State, job.StateCanceled)
	}
}

func TestPauseResume(t *testing.T) {
	s := New(nil, nil, nil, WithPollInterval(10*time.Millisecond))
	ctx := context.Background()

	j := testJob()
	addAndSubmit(t, s, j)
	if err := s.Pause(ctx, j.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, _ := s.Get(j.ID)
	if got.State != job.StatePaused {
		t.Fatalf("state = %s, want %s", got.State, job.StatePaused)
	}

	// A paused job is not handed to workers.
	nextCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := s.Next(nextCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next while paused = %v, want deadline exceeded", err)
	}

	if err := s.Resume(ctx, j.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := mustNext(t, s); got.ID != j.ID {
		t.Fatalf("dequeued %s, want %s", got.ID, j.ID)
	}
}

func TestPauseRunningAppliesOnRequeue(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	j := testJob()
	addAndSubmit(t, s, j)
	running := mustNext(t, s)

	if err := s.Pause(ctx, j.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := s.Requeue(ctx, running.ID, errors.New("transient"), 0); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	got, _ := s.Get(j.ID)
	if got.State != job.StatePaused {
		t.Fatalf("state = %s, want %s", got.State, job.StatePaused)
	}
}

func TestWaitReturnsTerminalState(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	j := testJob()
	addAndSubmit(t, s, j)

	done := make(chan job.State, 1)
	go func() {
		state, err := s.Wait(ctx, j.ID)
		if err != nil {
			return
		}
		done <- state
	}()

	running := mustNext(t, s)
	if err := s.MarkCompleted(ctx, running.ID, nil); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	select {
	case state := <-done:
		if state != job.StateCompleted {
			t.Fatalf("Wait = %s, want %s", state, job.StateCompleted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}

	// Waiting on an already-terminal job returns immediately.
	state, err := s.Wait(ctx, j.ID)
	if err != nil || state != job.StateCompleted {
		t.Fatalf("Wait(terminal) = %s, %v", state, err)
	}
}

func TestStatsAndClear(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	done := testJob()
	queued := testJob()
	addAndSubmit(t, s, done)
	addAndSubmit(t, s, queued)

	running := mustNext(t, s)
	if err := s.MarkCompleted(ctx, running.ID, nil); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	stats := s.Stats()
	if stats[job.StateCompleted] != 1 || stats[job.StateQueued] != 1 {
		t.Fatalf("stats = %v", stats)
	}

	if n := s.ClearTerminal(ctx); n != 1 {
		t.Fatalf("ClearTerminal = %d, want 1", n)
	}
	if _, err := s.Get(done.ID); !errors.Is(err, batch.ErrJobNotFound) {
		t.Fatalf("Get(cleared) = %v, want ErrJobNotFound", err)
	}
	if _, err := s.Get(queued.ID); err != nil {
		t.Fatalf("queued job removed: %v", err)
	}
}

func TestListFilters(t *testing.T) {
	s := New(nil, nil, nil)

	tagged := testJob(func(j *job.Job) { j.Tags = []string{"photos"} })
	plain := testJob()
	addAndSubmit(t, s, tagged)
	addAndSubmit(t, s, plain)

	byTag := s.List(job.ListOpts{Tag: "photos"})
	if len(byTag) != 1 || byTag[0].ID != tagged.ID {
		t.Fatalf("List(tag) = %d jobs", len(byTag))
	}
	byState := s.List(job.ListOpts{State: job.StateQueued})
	if len(byState) != 2 {
		t.Fatalf("List(queued) = %d jobs, want 2", len(byState))
	}
	limited := s.List(job.ListOpts{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("List(limit=1) = %d jobs", len(limited))
	}
}

func TestRestoreDemotesRunning(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	interrupted := testJob(func(j *job.Job) {
		j.State = job.StateRunning
		j.Attempt = 1
		started := time.Now().UTC()
		j.StartedAt = &started
	})
	finished := testJob(func(j *job.Job) {
		j.State = job.StateCompleted
		now := time.Now().UTC()
		j.FinishedAt = &now
	})
	s.Restore(ctx, []*job.Job{interrupted, finished}, nil)

	got, _ := s.Get(interrupted.ID)
	if got.State != job.StateQueued {
		t.Fatalf("state = %s, want %s", got.State, job.StateQueued)
	}
	if got.Attempt != 1 {
		t.Fatalf("attempt = %d, restart must not charge an attempt", got.Attempt)
	}
	if got.StartedAt != nil {
		t.Fatal("StartedAt not cleared")
	}

	kept, _ := s.Get(finished.ID)
	if kept.State != job.StateCompleted {
		t.Fatalf("finished job state = %s", kept.State)
	}
}

func TestRestoreFailsExhaustedRunning(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	exhausted := testJob(func(j *job.Job) {
		j.State = job.StateRunning
		j.Attempt = j.Retry.MaxAttempts
		started := time.Now().UTC()
		j.StartedAt = &started
	})
	dependent := testJob(func(j *job.Job) {
		j.State = job.StateWaiting
		j.DependsOn = []id.JobID{exhausted.ID}
	})
	s.Restore(ctx, []*job.Job{exhausted, dependent}, nil)

	got, _ := s.Get(exhausted.ID)
	if got.State != job.StateFailed {
		t.Fatalf("state = %s, want %s", got.State, job.StateFailed)
	}
	if got.Attempt != got.Retry.MaxAttempts {
		t.Fatalf("attempt = %d, want %d", got.Attempt, got.Retry.MaxAttempts)
	}
	if got.FinishedAt == nil {
		t.Fatal("FinishedAt not set")
	}
	if got.LastError == "" {
		t.Fatal("LastError not recorded")
	}

	// The failure must cascade: the dependent can never run.
	dep, _ := s.Get(dependent.ID)
	if dep.State != job.StateCanceled {
		t.Fatalf("dependent state = %s, want %s", dep.State, job.StateCanceled)
	}
}

func TestUpdateProgressClamps(t *testing.T) {
	s := New(nil, nil, nil)
	ctx := context.Background()

	j := testJob()
	addAndSubmit(t, s, j)
	mustNext(t, s)

	if err := s.UpdateProgress(ctx, j.ID, 150, "almost"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, _ := s.Get(j.ID)
	if got.Progress != 100 || got.ProgressMessage != "almost" {
		t.Fatalf("progress = %v %q", got.Progress, got.ProgressMessage)
	}
}

func TestCloseUnblocksNext(t *testing.T) {
	s := New(nil, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, batch.ErrStoreClosed) {
			t.Fatalf("Next after Close = %v, want ErrStoreClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}
