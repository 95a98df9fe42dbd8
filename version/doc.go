// Package version reports build metadata for the spraydryfs binary.
//
// Values come from, in order of preference:
//   - linker flags setting Version, Commit and Date
//   - the module version and VCS settings embedded by the go toolchain
//   - development defaults
//
// The same version string is stamped into the JSON produced by the stats
// command so a report can be traced back to the binary that generated it.
package version
