package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
)

// HandlerFunc is a type-erased task handler. It receives the job's raw
// JSON payload and returns a JSON-encoded result. The typed
// Definition[T, R] is converted to a HandlerFunc at registration time by
// closing over JSON (de)serialization and the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Registry maps task names to type-erased handler functions. It is
// process-wide state populated at startup, before any job referencing
// its names is submitted. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a name to a handler. It fails with ErrDuplicateTask if
// the name is already bound, unless overwrite is true.
func (r *Registry) Register(name string, h HandlerFunc, overwrite bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists && !overwrite {
		return fmt.Errorf("%w: %q", batch.ErrDuplicateTask, name)
	}
	r.handlers[name] = h
	return nil
}

// Resolve returns the handler bound to name, or ErrUnknownTask.
func (r *Registry) Resolve(name string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", batch.ErrUnknownTask, name)
	}
	return h, nil
}

// Names returns all registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// RegisterDefinition registers a typed task definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into
// T before calling the typed handler and JSON-marshals the R result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) error {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var in T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, fmt.Errorf("unmarshal payload for task %q: %w", def.Name, err)
			}
		}

		out, err := def.Handler(ctx, in)
		if err != nil {
			return nil, err
		}

		result, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result for task %q: %w", def.Name, err)
		}
		return result, nil
	}

	return r.Register(def.Name, handler, def.Overwrite)
}
