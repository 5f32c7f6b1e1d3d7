package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Source hands out eligible jobs to workers. The scheduler implements
// it; Next blocks until a job is ready, and SetCanceller installs the
// callback the scheduler uses to cancel a running job's context.
type Source interface {
	Next(ctx context.Context) (*job.Job, error)
	SetCanceller(fn func(jobID string))
}

// Pool manages a set of concurrent worker goroutines that pull jobs
// from the Source and execute them through the Executor.
type Pool struct {
	source      Source
	executor    *Executor
	concurrency int
	workerID    id.WorkerID
	logger      *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// activeJobs maps a running job id to the CancelFunc of its
	// execution context.
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPool creates a worker pool.
func NewPool(source Source, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		source:      source,
		executor:    executor,
		concurrency: 4,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		activeJobs:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.baseCtx, p.baseCancel = context.WithCancel(context.Background())

	p.source.SetCanceller(p.cancelJob)

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.runLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// current jobs. If the context has a deadline, jobs still running when
// time runs out are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.baseCancel
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Stop pulling new jobs; active jobs keep their own contexts.
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// runLoop is run by each worker goroutine.
func (p *Pool) runLoop() {
	defer p.wg.Done()

	for {
		j, err := p.source.Next(p.baseCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, batch.ErrStoreClosed) {
				return
			}
			p.logger.Error("next job error", slog.String("error", err.Error()))
			continue
		}

		// The execution context is independent of the pool context so a
		// graceful Stop lets in-flight jobs run to completion.
		ctx, cancel := context.WithCancel(context.Background())
		key := j.ID.String()
		p.trackJob(key, cancel)

		if execErr := p.executor.Execute(ctx, j); execErr != nil {
			p.logger.Debug("job execution failed",
				slog.String("job_id", key),
				slog.String("task", j.Task),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(key)
		cancel()
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

// cancelJob cancels the execution context of one running job. Installed
// on the Source as its canceller.
func (p *Pool) cancelJob(jobID string) {
	p.activeMu.Lock()
	cancel, ok := p.activeJobs[jobID]
	p.activeMu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
