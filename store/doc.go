// Package store defines the composite persistence contract for the
// batch engine and hosts its backends.
//
// The engine keeps all scheduling state in memory; the store is a
// write-through durability layer. Every state transition is persisted
// after it is applied, and on startup the engine reloads non-terminal
// jobs and groups to resume interrupted work.
//
// # Backends
//
//   - memory — map-based, for tests and ephemeral runs
//   - bun — SQL via the Bun ORM; SQLite for single-node durable
//     deployments (the default when Config.DataDir is set) and
//     PostgreSQL for shared databases
//   - redis — Redis hashes, for deployments that already run Redis
//
// All backends implement [Store]; the engine does not care which one it
// is given.
package store
