// Package cmd provides the command-line interface implementation for spraydryfs.
//
// It uses the Cobra library for command structure; main wraps the root
// command with Fang for styling. Every subcommand shares the persistent
// --config, --store, --log-level and --no-color flags, which are folded into
// an internal/config.Config before anything is opened.
//
// The package is organized into the following commands:
//   - mount: serve a pinned version over FUSE
//   - ls, cat: read a version without mounting it
//   - roots: list roots and version histories
//   - validate: verify every reachable record
//   - stats: summarize the store
//   - seed: append synthetic versions
//
// Each command lives in its own file with a constructor returning a
// *cobra.Command.
package cmd
