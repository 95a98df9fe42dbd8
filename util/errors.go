// Package util provides utility functions for the spraydryfs store.
package util

import "errors"

// Sentinel errors for package util and every layer above it.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Absence and corruption are distinct outcomes and must never be conflated.
	ErrNotFound         = errors.New("not found")
	ErrIntegrity        = errors.New("content hash mismatch")
	ErrCorruptDirectory = errors.New("corrupt directory payload")

	// Dictionary errors
	ErrDictionaryNotFound = errors.New("dictionary not found")
	ErrInvalidDictionary  = errors.New("invalid dictionary")

	// Traversal errors
	ErrNotADirectory = errors.New("not a directory")
	ErrNotAFile      = errors.New("not a file")
	ErrPathTooDeep   = errors.New("path exceeds maximum depth")

	// Registry errors
	ErrAlreadyExists    = errors.New("already exists")
	ErrSequenceConflict = errors.New("concurrent version append")

	// Argument errors
	ErrInvalidDigest   = errors.New("invalid digest")
	ErrInvalidEntry    = errors.New("invalid directory entry")
	ErrInvalidArgument = errors.New("invalid argument")

	// Session errors
	ErrSessionClosed = errors.New("mount session closed")

	// Inode errors
	ErrInodeNotFound = errors.New("inode not found in table")
)
