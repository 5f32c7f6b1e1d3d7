package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/backoff"
	"github.com/whoisdsmith/SmartFileOrganizer/ext"
	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
	mw "github.com/whoisdsmith/SmartFileOrganizer/middleware"
	"github.com/whoisdsmith/SmartFileOrganizer/scheduler"
	"github.com/whoisdsmith/SmartFileOrganizer/store"
	bunstore "github.com/whoisdsmith/SmartFileOrganizer/store/bun"
	"github.com/whoisdsmith/SmartFileOrganizer/store/memory"
	"github.com/whoisdsmith/SmartFileOrganizer/task"
	"github.com/whoisdsmith/SmartFileOrganizer/worker"
)

// Engine wraps a Processor with the fully wired job pipeline.
// Use Build() to create one.
type Engine struct {
	p          *batch.Processor
	store      store.Store
	registry   *task.Registry
	extensions *ext.Registry
	sched      *scheduler.Scheduler
	pool       *worker.Pool
	bo         backoff.Strategy
	mws        []mw.Middleware
	logger     *slog.Logger

	// ownedDB is set when Build opened the default SQLite database
	// itself; Stop closes it.
	ownedDB io.Closer

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain, after the
// defaults.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the fallback retry backoff strategy, used for jobs
// whose retry policy carries no base delay. If not set,
// backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the metrics extension use
// this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine on top of a Processor.
//
// Store selection: if the Processor was configured with a store it must
// implement store.Store; otherwise a SQLite database under
// Config.DataDir is opened, or, when DataDir is empty, an in-memory
// store is used.
func Build(p *batch.Processor, opts ...Option) (*Engine, error) {
	logger := p.Logger()
	config := p.Config()

	eng := &Engine{
		p:          p,
		registry:   task.NewRegistry(),
		extensions: ext.NewRegistry(logger),
		logger:     logger,
	}

	if s := p.Store(); s != nil {
		st, ok := s.(store.Store)
		if !ok {
			return nil, fmt.Errorf("batch: configured store does not implement store.Store")
		}
		eng.store = st
	} else if config.DataDir != "" {
		db, err := bunstore.OpenSQLite(filepath.Join(config.DataDir, "batch.db"))
		if err != nil {
			return nil, fmt.Errorf("batch: open sqlite store: %w", err)
		}
		eng.store = bunstore.New(db, bunstore.WithLogger(logger))
		eng.ownedDB = db
	} else {
		eng.store = memory.New()
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Register the built-in metrics extension.
	var metricsExt *ext.MetricsExtension
	if eng.meterProvider != nil {
		metricsExt = ext.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/whoisdsmith/SmartFileOrganizer/ext"))
	} else {
		metricsExt = ext.NewMetricsExtension()
	}
	eng.extensions.Register(metricsExt)

	schedOpts := []scheduler.Option{
		scheduler.WithMaxQueueSize(config.MaxQueueSize),
		scheduler.WithPollInterval(config.PollInterval),
	}
	if config.DispatchRate > 0 {
		schedOpts = append(schedOpts, scheduler.WithDispatchRate(config.DispatchRate))
	}
	eng.sched = scheduler.New(eng.store, eng.extensions, logger, schedOpts...)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/whoisdsmith/SmartFileOrganizer"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/whoisdsmith/SmartFileOrganizer"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws = append(allMws, eng.mws...)

	coordinator := worker.NewCoordinator(eng.sched, eng.bo, logger)
	executor := worker.NewExecutor(eng.registry, eng.sched, coordinator, logger, allMws...)
	eng.pool = worker.NewPool(eng.sched, executor, logger,
		worker.WithPoolConcurrency(config.MaxWorkers),
	)

	// Wire back into the Processor.
	p.SetPool(eng.pool)
	p.SetHooks(eng.extensions)

	return eng, nil
}

// Register registers a typed task definition with the engine.
func Register[T, R any](eng *Engine, def *task.Definition[T, R]) error {
	return task.RegisterDefinition(eng.registry, def)
}

// RegisterTask registers a raw task handler under a name.
func (eng *Engine) RegisterTask(name string, h task.HandlerFunc, overwrite bool) error {
	return eng.registry.Register(name, h, overwrite)
}

// Create builds a job from a typed payload and registers it with the
// scheduler in StateCreated. Call Submit to make it runnable.
func Create[T any](ctx context.Context, eng *Engine, taskName string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for task %q: %w", taskName, err)
	}
	return eng.CreateRaw(ctx, taskName, data, opts...)
}

// CreateRaw creates a job with a pre-serialized payload.
//
// The task name is not validated here: jobs may be created and even
// persisted before their handler is registered, and an unknown task
// fails at execution time without retries.
func (eng *Engine) CreateRaw(ctx context.Context, taskName string, payload []byte, opts ...job.Option) (*job.Job, error) {
	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	j := &job.Job{
		Entity:    batch.NewEntity(),
		ID:        id.NewJobID(),
		Task:      taskName,
		Payload:   payload,
		State:     job.StateCreated,
		Priority:  o.Priority,
		DependsOn: o.DependsOn,
		Retry:     o.Retry,
		Timeout:   o.Timeout,
		RunAt:     o.RunAt,
		Tags:      o.Tags,
		Metadata:  o.Metadata,
	}

	if err := eng.sched.Add(ctx, j); err != nil {
		return nil, err
	}
	if !o.GroupID.IsNil() {
		if err := eng.sched.AddJobToGroup(ctx, j.ID, o.GroupID); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// Submit makes a created job visible to workers.
func (eng *Engine) Submit(ctx context.Context, jobID id.JobID) error {
	return eng.sched.Submit(ctx, jobID)
}

// CreateGroup creates a job group. Sequential groups run members one at
// a time in insertion order; cancelOnFailure cancels all remaining
// members when any member fails.
func (eng *Engine) CreateGroup(ctx context.Context, name string, sequential, cancelOnFailure bool) (*group.Group, error) {
	g := group.New(name, sequential, cancelOnFailure)
	if err := eng.sched.AddGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// AddJobToGroup attaches an existing job to a group.
func (eng *Engine) AddJobToGroup(ctx context.Context, jobID id.JobID, groupID id.GroupID) error {
	return eng.sched.AddJobToGroup(ctx, jobID, groupID)
}

// Pause holds a job back from scheduling until Resume.
func (eng *Engine) Pause(ctx context.Context, jobID id.JobID) error {
	return eng.sched.Pause(ctx, jobID)
}

// Resume returns a paused job to the queue.
func (eng *Engine) Resume(ctx context.Context, jobID id.JobID) error {
	return eng.sched.Resume(ctx, jobID)
}

// Cancel cancels a job. Running jobs are canceled cooperatively: their
// execution context is canceled and the terminal state is recorded when
// the attempt reports back.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	return eng.sched.Cancel(ctx, jobID)
}

// CancelGroup cancels every non-terminal member of a group.
func (eng *Engine) CancelGroup(ctx context.Context, groupID id.GroupID) error {
	return eng.sched.CancelGroup(ctx, groupID)
}

// WaitForJob blocks until the job reaches a terminal state or ctx is
// done. Use a context deadline to bound the wait.
func (eng *Engine) WaitForJob(ctx context.Context, jobID id.JobID) (job.State, error) {
	return eng.sched.Wait(ctx, jobID)
}

// WaitForGroup blocks until every member of the group is terminal and
// returns the derived group status. Members added while the wait is in
// flight, for example by a running member fanning out follow-up jobs,
// are picked up: membership is re-read after each round of waits and
// the call returns only once it is stable.
func (eng *Engine) WaitForGroup(ctx context.Context, groupID id.GroupID) (group.Status, error) {
	waited := make(map[id.JobID]struct{})
	for {
		g, err := eng.sched.GetGroup(groupID)
		if err != nil {
			return "", err
		}
		var fresh []id.JobID
		for _, memberID := range g.MemberIDs {
			if _, ok := waited[memberID]; !ok {
				fresh = append(fresh, memberID)
			}
		}
		if len(fresh) == 0 {
			break
		}
		eg, waitCtx := errgroup.WithContext(ctx)
		for _, memberID := range fresh {
			waited[memberID] = struct{}{}
			eg.Go(func() error {
				_, waitErr := eng.sched.Wait(waitCtx, memberID)
				return waitErr
			})
		}
		if err := eg.Wait(); err != nil {
			return "", err
		}
	}

	summary, err := eng.sched.GroupSummary(groupID)
	if err != nil {
		return "", err
	}
	return summary.Status, nil
}

// Result waits for the job to finish and returns its result bytes. A
// failed or canceled job yields the same error as Err.
func (eng *Engine) Result(ctx context.Context, jobID id.JobID) ([]byte, error) {
	state, err := eng.sched.Wait(ctx, jobID)
	if err != nil {
		return nil, err
	}
	j, err := eng.sched.Get(jobID)
	if err != nil {
		return nil, err
	}
	switch state {
	case job.StateCompleted:
		return j.Result, nil
	case job.StateCanceled:
		return nil, fmt.Errorf("%w: job %s", batch.ErrJobCanceled, jobID)
	default:
		return nil, fmt.Errorf("job %s failed: %s", jobID, j.LastError)
	}
}

// Err waits for the job to finish and returns its failure, or nil when
// it completed.
func (eng *Engine) Err(ctx context.Context, jobID id.JobID) error {
	_, err := eng.Result(ctx, jobID)
	return err
}

// Snapshot is a point-in-time view of a job's progress.
type Snapshot struct {
	ID              id.JobID
	Task            string
	State           job.State
	Attempt         int
	Progress        float64
	ProgressMessage string
	LastError       string
	QueuedAt        *time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// Status returns a non-blocking snapshot of the job.
func (eng *Engine) Status(jobID id.JobID) (Snapshot, error) {
	j, err := eng.sched.Get(jobID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		ID:              j.ID,
		Task:            j.Task,
		State:           j.State,
		Attempt:         j.Attempt,
		Progress:        j.Progress,
		ProgressMessage: j.ProgressMessage,
		LastError:       j.LastError,
		QueuedAt:        j.QueuedAt,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
	}, nil
}

// GroupStatus returns the derived status summary of a group without
// blocking.
func (eng *Engine) GroupStatus(groupID id.GroupID) (group.Summary, error) {
	return eng.sched.GroupSummary(groupID)
}

// Jobs lists jobs known to the engine, newest first.
func (eng *Engine) Jobs(opts job.ListOpts) []*job.Job {
	return eng.sched.List(opts)
}

// ActiveJobs lists jobs currently being executed by workers.
func (eng *Engine) ActiveJobs() []*job.Job {
	return eng.sched.List(job.ListOpts{State: job.StateRunning})
}

// Groups lists all groups known to the engine.
func (eng *Engine) Groups() []*group.Group {
	return eng.sched.Groups()
}

// Stats returns job counts keyed by state.
func (eng *Engine) Stats() map[job.State]int {
	return eng.sched.Stats()
}

// ClearJobs removes terminal jobs from the engine and the store. With
// no arguments all completed, failed, and canceled jobs are cleared;
// otherwise only the given terminal states. It returns the number of
// jobs removed.
func (eng *Engine) ClearJobs(ctx context.Context, states ...job.State) int {
	return eng.sched.ClearTerminal(ctx, states...)
}

// Start migrates the store, restores persisted state, and starts the
// worker pool.
//
// Jobs found in StateRunning were interrupted mid-attempt by a previous
// shutdown or crash; they are requeued with their attempt already
// counted.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	// Load jobs and groups concurrently. Terminal jobs are restored
	// too: group summaries and dependency checks need them.
	var (
		jobs   []*job.Job
		groups []*group.Group
	)
	eg, loadCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		jobs, err = eng.store.ListJobs(loadCtx, job.ListOpts{})
		return err
	})
	eg.Go(func() error {
		var err error
		groups, err = eng.store.ListGroups(loadCtx)
		return err
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("restore persisted state: %w", err)
	}
	eng.sched.Restore(ctx, jobs, groups)
	if len(jobs) > 0 || len(groups) > 0 {
		eng.logger.Info("state restored",
			slog.Int("jobs", len(jobs)),
			slog.Int("groups", len(groups)),
		)
	}

	return eng.p.Start(ctx)
}

// Stop gracefully shuts down the engine: the scheduler stops handing
// out jobs, the pool drains in-flight work within Config.
// ShutdownTimeout, lifecycle hooks receive Shutdown, and the store is
// closed.
func (eng *Engine) Stop(ctx context.Context) error {
	config := eng.p.Config()
	if _, ok := ctx.Deadline(); !ok && config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ShutdownTimeout)
		defer cancel()
	}

	// No new dispatches; workers drain and exit.
	eng.sched.Close()

	err := eng.p.Stop(ctx)

	// The Processor only closes a store it was configured with; a
	// store Build created is closed here.
	if eng.p.Store() == nil {
		if closeErr := eng.store.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if eng.ownedDB != nil {
		if closeErr := eng.ownedDB.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// Processor returns the underlying Processor.
func (eng *Engine) Processor() *batch.Processor { return eng.p }

// Store returns the persistence backend.
func (eng *Engine) Store() store.Store { return eng.store }
