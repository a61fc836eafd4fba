// Package validation implements Phase 3: scoring every successfully
// documented component for completeness, accuracy, and consistency.
// Validators are cheaper than component agents, so the pool here runs
// with a strictly higher concurrency ceiling than Phase 2.
package validation
