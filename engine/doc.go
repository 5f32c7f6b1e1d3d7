// Package engine wires all batch subsystems together: store selection,
// extension registry, task registry, scheduler, middleware chain, and
// worker pool. It exposes the public job lifecycle API.
//
// This package exists to break the import cycle: the root batch package
// defines Entity (imported by job, group, etc.) and so cannot import
// those packages back. The engine package sits above all subsystem
// packages and below the application layer.
//
// Usage:
//
//	p, _ := batch.New(batch.WithMaxWorkers(8))
//	eng, _ := engine.Build(p)
//
//	engine.Register(eng, task.NewDefinition("thumbnail",
//		func(ctx context.Context, in ThumbnailArgs) (ThumbnailResult, error) {
//			return makeThumbnail(ctx, in)
//		}))
//
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
//
//	j, _ := engine.Create(ctx, eng, "thumbnail", ThumbnailArgs{Path: p},
//		job.WithPriority(job.PriorityHigh),
//		job.WithTimeout(30*time.Second))
//	eng.Submit(ctx, j.ID)
//
//	result, err := eng.Result(ctx, j.ID)
package engine
