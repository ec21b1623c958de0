// Package ratelimit provides sliding-window rate limiting backed by the
// shared store, with a per-process fixed-window fallback when the store is
// unreachable.
//
// Each check prunes, counts, and records the attempt in a per-identifier
// time-ordered set, batched into a single pipelined round trip covering all
// tiers. Denied attempts are recorded too: a client that keeps retrying
// while denied gains nothing.
//
// Multiple tiers (e.g. a short burst window and a daily quota) apply in
// parallel; the decision is the logical AND of all tiers and the result
// carries everything needed for X-RateLimit-* and Retry-After headers.
// Check never returns an error: when the shared store is down the limiter
// degrades to a per-process fixed window and says so in the result.
package ratelimit
