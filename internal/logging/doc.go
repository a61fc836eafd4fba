// Package logging wraps Zap with context-aware methods for the membank
// build pipeline. Every log call accepts a context.Context so build, phase,
// and component correlation fields attached by the coordinator flow into
// each entry without manual plumbing.
//
// An optional OpenTelemetry core can be enabled to ship the same entries to
// an OTLP collector alongside stdout.
package logging
