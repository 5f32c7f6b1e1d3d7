package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
	"github.com/whoisdsmith/SmartFileOrganizer/middleware"
	"github.com/whoisdsmith/SmartFileOrganizer/scheduler"
	"github.com/whoisdsmith/SmartFileOrganizer/task"
	"github.com/whoisdsmith/SmartFileOrganizer/worker"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newStack wires a registry, scheduler, and pool the way the engine
// does, with tight timings for tests.
func newStack(t *testing.T, reg *task.Registry, workers int) (*scheduler.Scheduler, *worker.Pool) {
	t.Helper()
	logger := discard()
	sched := scheduler.New(nil, nil, logger, scheduler.WithPollInterval(5*time.Millisecond))
	coord := worker.NewCoordinator(sched, nil, logger)
	exec := worker.NewExecutor(reg, sched, coord, logger,
		middleware.Recover(logger),
		middleware.Timeout(logger),
	)
	pool := worker.NewPool(sched, exec, logger, worker.WithPoolConcurrency(workers))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("pool.Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
		sched.Close()
	})
	return sched, pool
}

func fastRetry(maxAttempts int) job.RetryPolicy {
	return job.RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  1.0,
		MaxDelay:    5 * time.Millisecond,
	}
}

func submitJob(t *testing.T, sched *scheduler.Scheduler, taskName string, payload []byte, policy job.RetryPolicy) id.JobID {
	t.Helper()
	ctx := context.Background()
	j := &job.Job{
		Entity:   batch.NewEntity(),
		ID:       id.NewJobID(),
		Task:     taskName,
		Payload:  payload,
		Priority: job.PriorityNormal,
		State:    job.StateCreated,
		Retry:    policy,
	}
	if err := sched.Add(ctx, j); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := sched.Submit(ctx, j.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return j.ID
}

func waitFor(t *testing.T, sched *scheduler.Scheduler, jobID id.JobID) job.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := sched.Wait(ctx, jobID)
	if err != nil {
		t.Fatalf("Wait(%s): %v", jobID, err)
	}
	return state
}

func TestPoolExecutesJob(t *testing.T) {
	reg := task.NewRegistry()
	err := reg.Register("echo", func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	sched, _ := newStack(t, reg, 2)
	jobID := submitJob(t, sched, "echo", []byte(`{"v":1}`), fastRetry(3))

	if state := waitFor(t, sched, jobID); state != job.StateCompleted {
		t.Fatalf("state = %s, want %s", state, job.StateCompleted)
	}
	got, err := sched.Get(jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Result) != `{"v":1}` {
		t.Fatalf("result = %q", got.Result)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %v, want 100", got.Progress)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	reg := task.NewRegistry()
	err := reg.Register("flaky", func(context.Context, []byte) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []byte("ok"), nil
	}, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	sched, _ := newStack(t, reg, 1)
	jobID := submitJob(t, sched, "flaky", nil, fastRetry(5))

	if state := waitFor(t, sched, jobID); state != job.StateCompleted {
		t.Fatalf("state = %s, want %s", state, job.StateCompleted)
	}
	got, _ := sched.Get(jobID)
	if got.Attempt != 3 {
		t.Fatalf("attempt = %d, want 3", got.Attempt)
	}
}

func TestRetriesExhausted(t *testing.T) {
	reg := task.NewRegistry()
	err := reg.Register("doomed", func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("permanent")
	}, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	sched, _ := newStack(t, reg, 1)
	jobID := submitJob(t, sched, "doomed", nil, fastRetry(2))

	if state := waitFor(t, sched, jobID); state != job.StateFailed {
		t.Fatalf("state = %s, want %s", state, job.StateFailed)
	}
	got, _ := sched.Get(jobID)
	if got.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", got.Attempt)
	}
	if got.LastError != "permanent" {
		t.Fatalf("LastError = %q", got.LastError)
	}
}

func TestUnknownTaskFailsWithoutRetry(t *testing.T) {
	sched, _ := newStack(t, task.NewRegistry(), 1)
	jobID := submitJob(t, sched, "no-such-task", nil, fastRetry(5))

	if state := waitFor(t, sched, jobID); state != job.StateFailed {
		t.Fatalf("state = %s, want %s", state, job.StateFailed)
	}
	got, _ := sched.Get(jobID)
	if got.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1 (no retries for unregistered tasks)", got.Attempt)
	}
}

func TestPanicIsRecoveredAndFails(t *testing.T) {
	reg := task.NewRegistry()
	err := reg.Register("panicky", func(context.Context, []byte) ([]byte, error) {
		panic("kaboom")
	}, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	sched, _ := newStack(t, reg, 1)
	jobID := submitJob(t, sched, "panicky", nil, fastRetry(1))

	if state := waitFor(t, sched, jobID); state != job.StateFailed {
		t.Fatalf("state = %s, want %s", state, job.StateFailed)
	}
	got, _ := sched.Get(jobID)
	if got.LastError == "" {
		t.Fatal("LastError empty after panic")
	}
}

func TestCancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	reg := task.NewRegistry()
	err := reg.Register("blocker", func(ctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	sched, _ := newStack(t, reg, 1)
	jobID := submitJob(t, sched, "blocker", nil, fastRetry(3))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	if err := sched.Cancel(context.Background(), jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if state := waitFor(t, sched, jobID); state != job.StateCanceled {
		t.Fatalf("state = %s, want %s", state, job.StateCanceled)
	}
}

func TestTimeoutFailsJob(t *testing.T) {
	reg := task.NewRegistry()
	err := reg.Register("slow", func(ctx context.Context, _ []byte) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return []byte("late"), nil
		}
	}, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	sched, _ := newStack(t, reg, 1)
	ctx := context.Background()
	j := &job.Job{
		Entity:  batch.NewEntity(),
		ID:      id.NewJobID(),
		Task:    "slow",
		State:   job.StateCreated,
		Retry:   fastRetry(1),
		Timeout: 20 * time.Millisecond,
	}
	if err := sched.Add(ctx, j); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := sched.Submit(ctx, j.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if state := waitFor(t, sched, j.ID); state != job.StateFailed {
		t.Fatalf("state = %s, want %s", state, job.StateFailed)
	}
	got, _ := sched.Get(j.ID)
	if !strings.Contains(got.LastError, batch.ErrJobTimeout.Error()) {
		t.Fatalf("LastError = %q, want timeout", got.LastError)
	}
}

func TestProgressReporting(t *testing.T) {
	reg := task.NewRegistry()
	err := reg.Register("progressive", func(ctx context.Context, _ []byte) ([]byte, error) {
		ctrl := task.FromContext(ctx)
		ctrl.Progress(50, "halfway")
		return []byte("done"), nil
	}, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	sched, _ := newStack(t, reg, 1)
	jobID := submitJob(t, sched, "progressive", nil, fastRetry(1))

	if state := waitFor(t, sched, jobID); state != job.StateCompleted {
		t.Fatalf("state = %s, want %s", state, job.StateCompleted)
	}
	got, _ := sched.Get(jobID)
	if got.ProgressMessage != "halfway" {
		t.Fatalf("ProgressMessage = %q", got.ProgressMessage)
	}
}

func TestStopWaitsForInflightJob(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	reg := task.NewRegistry()
	err := reg.Register("slowpoke", func(context.Context, []byte) ([]byte, error) {
		<-release
		finished.Store(true)
		return nil, nil
	}, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	logger := discard()
	sched := scheduler.New(nil, nil, logger, scheduler.WithPollInterval(5*time.Millisecond))
	coord := worker.NewCoordinator(sched, nil, logger)
	exec := worker.NewExecutor(reg, sched, coord, logger)
	pool := worker.NewPool(sched, exec, logger, worker.WithPoolConcurrency(1))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	jobID := submitJob(t, sched, "slowpoke", nil, fastRetry(1))

	// Wait until the job is actually running.
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := sched.Get(jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State == job.StateRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never started")
		}
		time.Sleep(time.Millisecond)
	}

	stopDone := make(chan struct{})
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after job finished")
	}
	if !finished.Load() {
		t.Fatal("in-flight job was not allowed to finish")
	}
	sched.Close()
}
