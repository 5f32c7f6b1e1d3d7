// Package store defines the aggregate persistence interface. Each
// subsystem (job, group) defines its own store interface; the composite
// Store composes them. Backends: Bun (SQLite and PostgreSQL), Redis,
// and Memory.
package store

import (
	"context"

	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (bun, redis, memory) implements all of them.
type Store interface {
	job.Store
	group.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
