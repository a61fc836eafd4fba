// Package component implements Phase 2: one analysis agent per manifest
// component, fanned out through a bounded worker pool. Component failures
// are isolated and retried once; they never abort the build or cancel
// sibling invocations.
package component
