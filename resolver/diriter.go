package resolver

import (
	"fmt"
	"iter"

	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/util"
)

// DirIterator walks a decoded listing in name order. Offsets count entries
// already returned, which is what the kernel hands back when it resumes a
// listing.
type DirIterator struct {
	entries []directory.Entry
	pos     int
}

func (it *DirIterator) Len() int { return len(it.entries) }

// Offset is the index of the next entry Next will return.
func (it *DirIterator) Offset() int { return it.pos }

// Next returns the next entry, or false at the end.
func (it *DirIterator) Next() (directory.Entry, bool) {
	if it.pos >= len(it.entries) {
		return directory.Entry{}, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}

// Seek resumes the listing at offset. Seeking to Len() ends it.
func (it *DirIterator) Seek(offset int) error {
	if offset < 0 || offset > len(it.entries) {
		return fmt.Errorf("%w: readdir offset %d of %d", util.ErrInvalidArgument, offset, len(it.entries))
	}
	it.pos = offset
	return nil
}

func (it *DirIterator) Rewind() { it.pos = 0 }

// All yields the remaining entries with their offsets.
func (it *DirIterator) All() iter.Seq2[int, directory.Entry] {
	return func(yield func(int, directory.Entry) bool) {
		for {
			off := it.pos
			e, ok := it.Next()
			if !ok || !yield(off, e) {
				return
			}
		}
	}
}
