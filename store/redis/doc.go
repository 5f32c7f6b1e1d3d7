// Package redis implements store.Store using Redis for deployments that
// already run Redis and want job state shared outside the process.
// Jobs and groups are stored as Hashes, with companion Sets tracking
// ids for enumeration.
//
// Scheduling order is decided in memory by the scheduler, not by Redis,
// so this backend only needs point reads, upserts, and full scans.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
