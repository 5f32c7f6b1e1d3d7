// Package job defines the job entity, its state machine, retry policy,
// creation options, and store interface.
//
// # State machine
//
//	created --submit--> queued
//	created --submit, deps unmet--> waiting
//	waiting --deps completed--> queued
//	queued  --worker available--> running
//	running --success--> completed
//	running --failure, attempts remaining--> queued (after backoff)
//	running --failure, attempts exhausted--> failed
//	queued/waiting --pause--> paused
//	paused  --resume--> queued or waiting
//	queued/waiting/paused --cancel--> canceled
//	queued/waiting --dependency failed or canceled--> canceled
//
// completed, failed, and canceled are terminal: no further transitions
// occur and Result/LastError are immutable once set. Re-entrant
// transition attempts on a terminal job are no-ops reporting the
// existing terminal state.
//
// A job with unsatisfied dependencies never transitions to running, and
// Attempt never exceeds Retry.MaxAttempts.
package job
