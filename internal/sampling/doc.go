// Package sampling decides, once per trace, whether the records of a request
// trace are retained.
//
// # Decisions
//
// The first record seen for a trace id fixes its decision. The trace id is
// hashed with xxhash and the top 53 bits are mapped to a uniform value in
// [0,1); the trace is sampled when that value is below the configured rate.
// The same trace id and rate always yield the same decision, in this process
// or any other.
//
// Two overrides apply, in order:
//   - a record whose path has an excluded prefix (health checks and similar)
//     forces the trace to exclude, whatever the rate
//   - a record at or above ForceLevel promotes the trace to include from that
//     record onward
//
// Promotion is tail-only. Records dropped before the promoting record was
// seen are gone; the coordinator does not buffer to recover them.
//
// # Lifecycle
//
// Each trace moves through unseen → decided → expired. A decided trace
// expires after IdleTimeout without activity (see Sweep), when the caller
// marks it complete, or when the table is full and it is the least recently
// active trace in its shard.
//
// The table is split into ShardCount shards, each an LRU guarded by its own
// mutex, so producers on different traces rarely contend.
package sampling
