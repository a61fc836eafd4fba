// Package manifest defines the architecture manifest produced by Phase 1:
// the partition of a repository into components that the component and
// validation orchestrators fan out over. A manifest is superseded wholesale
// on every full build, never merged.
package manifest
