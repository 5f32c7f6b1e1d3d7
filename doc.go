// Package batch provides the asynchronous job scheduling and execution
// engine behind SmartFileOrganizer's batch processing: priority- and
// dependency-ordered jobs, coordinated job groups, a bounded worker pool,
// retry with backoff, and a durable store so in-flight work survives
// restarts.
//
// Batch is a library, not a service. The surrounding application registers
// task functions by name, creates jobs referencing those names, and
// submits them. Persisted jobs are rehydrated against whatever registry
// is active at restart, so task names are part of a job's durable
// contract.
//
// # Quick Start
//
//	p, err := batch.New(
//	    batch.WithStore(st),
//	    batch.WithMaxWorkers(4),
//	)
//	eng, err := engine.Build(p)
//	engine.Register(eng, task.NewDefinition("analyze", analyzeDoc))
//
//	j, err := engine.Create(ctx, eng, "analyze", AnalyzeInput{Path: path})
//	err = eng.Submit(ctx, j.ID)
//	state, err := eng.WaitForJob(ctx, j.ID)
//
// # Architecture
//
// Each subsystem (job, group) defines its own store interface; a single
// backend implements all of them (memory, SQLite/Postgres via Bun, or
// Redis). The scheduler is the sole serialization point for job-state
// mutation; workers pull eligible jobs from it and report outcomes.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package batch
