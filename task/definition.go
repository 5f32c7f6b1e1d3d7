package task

import "context"

// Definition is a typed task definition with a handler function.
// T is the payload type and R the result type (both JSON-serializable).
type Definition[T, R any] struct {
	// Name is the unique identifier for this task. Persisted jobs
	// reference tasks by name, so names must stay stable across
	// versions.
	Name string

	// Handler is the function that processes the payload.
	Handler func(ctx context.Context, payload T) (R, error)

	// Overwrite allows re-registering an already-bound name.
	Overwrite bool
}

// NewDefinition creates a typed task definition.
func NewDefinition[T, R any](name string, handler func(ctx context.Context, payload T) (R, error)) *Definition[T, R] {
	return &Definition[T, R]{
		Name:    name,
		Handler: handler,
	}
}

// AllowOverwrite marks the definition as replacing any handler already
// registered under the same name.
func (d *Definition[T, R]) AllowOverwrite() *Definition[T, R] {
	d.Overwrite = true
	return d
}
