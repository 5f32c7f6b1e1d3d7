package batch

import (
	"context"
	"fmt"
	"log/slog"
)

// Option configures a Processor.
type Option func(*Processor) error

// Storer is the minimal store interface held by the Processor. It covers
// lifecycle operations only; the full composite interface (store.Store)
// is used by the engine layer, which sits above the subsystem packages
// and can import them without cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Processor is the central coordinator for batch job processing. Create
// one with New and functional options, then use engine.Build to wire the
// registry, scheduler, and worker pool on top of it.
type Processor struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	started bool
}

// New creates a new Processor with the given options.
func New(opts ...Option) (*Processor, error) {
	p := &Processor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Logger returns the processor's logger.
func (p *Processor) Logger() *slog.Logger { return p.logger }

// Store returns the processor's store.
func (p *Processor) Store() Storer { return p.store }

// Config returns a copy of the processor's configuration.
func (p *Processor) Config() Config { return p.config }

// SetPool sets the worker pool (called by the engine layer).
func (p *Processor) SetPool(r poolRunner) { p.pool = r }

// SetHooks sets the lifecycle hook emitter (called by the engine layer).
func (p *Processor) SetHooks(h hookEmitter) { p.hooks = h }

// Start begins job processing.
func (p *Processor) Start(ctx context.Context) error {
	if p.pool == nil {
		return fmt.Errorf("%w: no worker pool wired, processor not built", ErrInvalidState)
	}
	if err := p.pool.Start(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Stop gracefully shuts down the processor.
func (p *Processor) Stop(ctx context.Context) error {
	if p.pool != nil && p.started {
		if err := p.pool.Stop(ctx); err != nil {
			p.logger.Error("pool stop error", "error", err)
		}
	}
	if p.hooks != nil {
		p.hooks.EmitShutdown(ctx)
	}
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

// WithMaxWorkers sets the number of concurrent job executors.
func WithMaxWorkers(n int) Option {
	return func(p *Processor) error {
		p.config.MaxWorkers = n
		return nil
	}
}

// WithMaxQueueSize sets the backpressure threshold for Submit.
func WithMaxQueueSize(n int) Option {
	return func(p *Processor) error {
		p.config.MaxQueueSize = n
		return nil
	}
}

// WithConfig replaces the entire configuration.
func WithConfig(cfg Config) Option {
	return func(p *Processor) error {
		p.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the processor.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) error {
		p.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the processor. The store
// must implement Storer at minimum; typically it is a store.Store which
// embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(p *Processor) error {
		p.store = s
		return nil
	}
}
