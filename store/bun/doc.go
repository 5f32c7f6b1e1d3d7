// Package bunstore implements store.Store on SQL databases via the Bun
// ORM. One implementation serves two dialects: SQLite (the engine's
// default durable store, opened from Config.DataDir with [OpenSQLite])
// and PostgreSQL ([OpenPostgres]).
//
// Schema portability is kept by construction: the migration DDL uses
// types both dialects accept, collection fields are serialized to JSON
// text columns in Go, and writes are ON CONFLICT upserts, which both
// dialects support with identical semantics.
//
//	db, err := bunstore.OpenSQLite("/var/lib/app/batch.db")
//	if err != nil { ... }
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore
