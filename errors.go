package batch

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("batch: no store configured")
	ErrStoreClosed = errors.New("batch: store closed")
	ErrPersistence = errors.New("batch: persistence failure")

	// Not found errors.
	ErrJobNotFound   = errors.New("batch: job not found")
	ErrGroupNotFound = errors.New("batch: group not found")

	// Registry errors.
	ErrUnknownTask   = errors.New("batch: unknown task")
	ErrDuplicateTask = errors.New("batch: task already registered")

	// State errors.
	ErrInvalidState     = errors.New("batch: invalid state transition")
	ErrQueueFull        = errors.New("batch: queue full")
	ErrDependencyFailed = errors.New("batch: dependency failed or canceled")
	ErrJobTimeout       = errors.New("batch: job timed out")
	ErrJobCanceled      = errors.New("batch: job canceled")
)
