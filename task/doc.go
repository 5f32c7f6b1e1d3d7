// Package task defines the task registry, typed task definitions, and
// the progress-reporting Control handle.
//
// # Registry
//
// A [Registry] maps task names to type-erased [HandlerFunc] values.
// Registration fails on duplicate names unless overwrite is requested;
// resolution of an unbound name fails with batch.ErrUnknownTask. Because
// persisted jobs reference tasks by name, the registry is populated once
// at startup and names must not be removed across versions without a
// migration step.
//
// # Defining a task
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at job-creation time and deserialized before the handler runs; the
// result is JSON-serialized back onto the job:
//
//	var Analyze = task.NewDefinition("analyze_document",
//	    func(ctx context.Context, in AnalyzeInput) (AnalyzeReport, error) {
//	        ctrl := task.FromContext(ctx)
//	        ctrl.Progress(50, "parsing")
//	        return analyze(ctx, in)
//	    },
//	)
//
// The engine package provides higher-level engine.Register and
// engine.Create wrappers.
package task
