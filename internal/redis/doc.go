// Package redis provides the Redis-backed reaction store, submit rate
// limiter, and cross-instance snapshot fan-out via Pub/Sub.
//
// Counts, per-user selections, and the revision counter for a post live in
// three keys that every mutation touches inside a single Lua script, so a
// snapshot observed by any reader is always internally consistent.
package redis
