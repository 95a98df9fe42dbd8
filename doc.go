// Package main provides the spraydryfs command-line interface.
//
// spraydryfs is a content-addressed, immutable, versioned object store whose
// versions can be mounted read-only over FUSE. Content is split into chunks,
// optionally compressed against shared zstd dictionaries, and addressed by
// BLAKE3 digest; each snapshot of a named root is an append-only version.
//
// The main binary supports multiple subcommands:
//   - mount: Mount a version of a root at a mountpoint
//   - ls, cat, roots: Inspect versions without mounting
//   - validate: Verify every reachable record against its digest
//   - stats: Summarize the store
//   - seed: Append synthetic versions for testing
package main
