// Package tracker implements incremental change detection for builds.
//
// A FileFingerprintIndex maps repository-relative paths to content hashes
// and is the only state that survives across builds. Each build diffs the
// current file tree (or an explicit git commit range) against the prior
// index to decide which components need reprocessing.
package tracker
