// Package util provides the identity primitives shared by every spraydryfs layer.
//
// Key Components:
//
// Hash Engine:
//   - BLAKE3 digests over decompressed content (Sum, Hasher)
//   - Text form "blake3-<hex>" for logs, CLI output and config
//
// Error Taxonomy:
//   - Sentinel errors checked with errors.Is() by every layer above
//   - Absence (ErrNotFound) and corruption (ErrIntegrity, ErrCorruptDirectory)
//     are always distinct
//
// Inodes:
//   - InodeTable assigns stable per-session inode numbers to paths
//
// Metadata:
//   - Store statistics reported by the stats command
package util
