// Package audithook bridges batch lifecycle events to an audit trail,
// producing a persistent history of every job and group the engine
// processed. The application's history view and undo log are built on
// these records.
//
// The extension is backend-agnostic: inject any [Recorder] at wiring
// time, typically a function that appends to the application's own
// history store.
//
// Usage:
//
//	recorder := audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return history.Append(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	})
//	eng, _ := engine.Build(p, engine.WithExtension(audithook.New(recorder)))
package audithook
