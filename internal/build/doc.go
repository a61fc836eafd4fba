// Package build sequences the three analysis phases into one build:
// architecture, per-component documentation, validation. The coordinator
// owns the phase barriers and the final merge; the job manager wraps
// coordinator runs into addressable, cancellable jobs.
package build
