package task

import "context"

// Control is the handle a task handler uses to report progress back to
// the engine. The executor places one in the handler's context; handlers
// retrieve it with FromContext. Progress reporting is cooperative and
// optional.
type Control struct {
	report func(progress float64, message string)
}

// NewControl creates a Control that forwards progress updates to report.
func NewControl(report func(progress float64, message string)) *Control {
	return &Control{report: report}
}

// Progress reports completion as a percentage in [0, 100] with an
// optional message. Values outside the range are clamped.
func (c *Control) Progress(pct float64, message string) {
	if c == nil || c.report == nil {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	c.report(pct, message)
}

type controlKey struct{}

// NewContext returns a context carrying the given Control.
func NewContext(ctx context.Context, c *Control) context.Context {
	return context.WithValue(ctx, controlKey{}, c)
}

// FromContext returns the Control carried by ctx. The returned Control
// is always usable; when ctx carries none, updates are discarded.
func FromContext(ctx context.Context) *Control {
	if c, ok := ctx.Value(controlKey{}).(*Control); ok {
		return c
	}
	return &Control{}
}
