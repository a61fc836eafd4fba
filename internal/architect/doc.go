// Package architect implements Phase 1: a single agent invocation that
// partitions the repository into logical components and emits the
// architecture manifest. Failure here is fatal to the whole build; the
// later phases cannot run without a manifest.
package architect
