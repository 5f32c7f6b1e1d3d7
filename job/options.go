package job

import (
	"time"

	"github.com/whoisdsmith/SmartFileOrganizer/id"
)

// Options configures per-job behavior at creation time.
type Options struct {
	// Priority determines dequeue ordering among eligible jobs.
	Priority Priority

	// DependsOn lists jobs that must reach StateCompleted before this
	// job becomes eligible.
	DependsOn []id.JobID

	// Retry controls the attempt budget and backoff.
	Retry RetryPolicy

	// Timeout is the maximum duration one attempt may run before its
	// context is canceled. Zero means unlimited.
	Timeout time.Duration

	// GroupID attaches the job to a group at creation time.
	GroupID id.GroupID

	// RunAt defers the first execution. Zero means immediate.
	RunAt time.Time

	// Tags and Metadata are opaque caller annotations carried on the
	// job record for filtering and display.
	Tags     []string
	Metadata map[string]string
}

// DefaultOptions returns Options with the default retry policy and
// normal priority.
func DefaultOptions() Options {
	return Options{
		Priority: PriorityNormal,
		Retry:    DefaultRetryPolicy(),
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithPriority sets the job priority.
func WithPriority(p Priority) Option {
	return func(o *Options) { o.Priority = p }
}

// WithDependencies adds jobs that must complete before this one runs.
func WithDependencies(ids ...id.JobID) Option {
	return func(o *Options) { o.DependsOn = append(o.DependsOn, ids...) }
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Options) { o.Retry = p }
}

// WithMaxAttempts overrides only the attempt budget of the retry policy.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.Retry.MaxAttempts = n }
}

// WithTimeout sets the per-attempt execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithGroup attaches the job to a group.
func WithGroup(groupID id.GroupID) Option {
	return func(o *Options) { o.GroupID = groupID }
}

// WithRunAt defers the job's first execution to a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithTags annotates the job with tags.
func WithTags(tags ...string) Option {
	return func(o *Options) { o.Tags = append(o.Tags, tags...) }
}

// WithMetadata annotates the job with a metadata key/value pair.
func WithMetadata(key, value string) Option {
	return func(o *Options) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string)
		}
		o.Metadata[key] = value
	}
}
