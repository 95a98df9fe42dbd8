// Package assembler turns ordered chunk lists into files and reads them back.
//
// A file's digest is the hash of its chunks' decompressed bytes laid end to
// end, so the same content chunked two ways has one digest; the first chunk
// list stored for it is kept. Each file record carries the decompressed size
// of every chunk, which gives ReadRange its prefix sums without touching
// chunk payloads.
//
// Reads are lazy. A Stream fetches one chunk per Next call, and ReadRange
// decompresses only the chunks overlapping the requested range.
package assembler
