// Package cache implements the tiered sticker cache: a low-latency Redis
// fast tier with TTL and a capacity-bounded durable disk tier, composed by
// a Manager with lookup, promotion and fallback policy.
//
// Tier failures never reach callers. An unreachable fast tier degrades
// every fast-tier operation to a miss or no-op; durable-tier store errors
// are logged and swallowed so the fetched asset is still served.
package cache
