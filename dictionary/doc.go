// Package dictionary holds the zstd compression dictionaries chunks may be
// stored against.
//
// Dictionaries are raw content: zstd uses the bytes as shared history, so no
// trained dictionary header is required. Each dictionary keeps one cached
// encoder and decoder, both safe for concurrent use. Dictionary id 0 is
// reserved for chunks stored uncompressed and can never be registered.
package dictionary
