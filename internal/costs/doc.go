// Package costs accumulates token usage, dollar cost, and per-phase progress
// for a single build. The tracker is append-only and safe under concurrent
// writers from both orchestrators; consumers only ever see copied snapshots.
package costs
