// Package agent is the single choke point through which every agent role
// talks to the external analysis capability. It enforces per-invocation turn
// budgets, timeout-based cancellation, and rate limiting, and extracts token
// usage for the cost tracker. Retry policy lives with the callers; the
// invoker itself never retries.
package agent
