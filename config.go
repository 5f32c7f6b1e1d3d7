package batch

import (
	"runtime"
	"time"
)

// Config holds configuration for the Processor. Values come from the
// surrounding application's settings; the engine does not load them
// itself.
type Config struct {
	// MaxWorkers is the number of concurrent job executors.
	MaxWorkers int

	// MaxQueueSize is the backpressure threshold: Submit fails with
	// ErrQueueFull once this many jobs are queued or waiting. Zero
	// means unlimited.
	MaxQueueSize int

	// PollInterval is the scheduler re-evaluation cadence for backoff
	// timers when no state change wakes it earlier.
	PollInterval time.Duration

	// DataDir is where the default SQLite store keeps its database
	// file. Ignored when an explicit store is configured.
	DataDir string

	// ShutdownTimeout is the maximum time to wait for running jobs
	// during graceful shutdown before their contexts are canceled.
	ShutdownTimeout time.Duration

	// DispatchRate limits how many jobs per second may be handed to
	// workers. Zero disables rate limiting.
	DispatchRate float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:      runtime.NumCPU(),
		MaxQueueSize:    0,
		PollInterval:    250 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
	}
}
