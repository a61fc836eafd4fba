// Package bank defines the memory-bank artifact: the fixed top-level
// document set, the per-component section schema, and the changelog. The
// writer enforces write-once output paths and disjoint component subtrees.
package bank
