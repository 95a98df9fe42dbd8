// Package store is the persistent record store beneath spraydryfs, backed by
// BadgerDB.
//
// Every record lives under a one-letter prefix:
//
//	c/<digest>              chunk
//	f/<digest>              file (ordered chunk list)
//	d/<id>                  compression dictionary
//	r/<name>                root, holding its head sequence
//	v/<name>\x00<seq BE64>  version
//
// Content records are written with PutIfAbsent, so identical content
// converges on a single record no matter how many writers race. Version
// appends run through Update, which surfaces Badger's optimistic
// transaction conflicts as ErrConflict for the caller to retry.
//
// Record values are CBOR with core deterministic encoding (Marshal,
// Unmarshal).
package store
