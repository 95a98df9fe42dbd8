// Package directory encodes directory listings and resolves names inside
// stored directories.
//
// A directory is an ordinary file whose bytes decode to a sorted list of
// entries. Entries point at other files by digest, so a version's whole tree
// is reachable from its root directory digest.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/dendrascience/spraydryfs/assembler"
	"github.com/dendrascience/spraydryfs/chunk"
	"github.com/dendrascience/spraydryfs/util"
)

// maxChunk splits large listings across several chunks.
const maxChunk = 256 * 1024

// Directory is a decoded listing.
type Directory struct {
	Digest  util.Digest
	Entries []Entry
	// Size is the encoded length, reported as the directory's size.
	Size uint64
}

// Find looks name up by binary search.
func (d *Directory) Find(name string) (Entry, bool) {
	i := sort.Search(len(d.Entries), func(i int) bool {
		return d.Entries[i].Name >= name
	})
	if i < len(d.Entries) && d.Entries[i].Name == name {
		return d.Entries[i], true
	}
	return Entry{}, false
}

// Codec reads and writes directories through the chunk and file layers.
type Codec struct {
	chunks *chunk.Store
	files  *assembler.Assembler
	log    *slog.Logger
}

func NewCodec(chunks *chunk.Store, files *assembler.Assembler, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{chunks: chunks, files: files, log: logger}
}

// Read loads and decodes directory dir.
func (c *Codec) Read(ctx context.Context, dir util.Digest) (*Directory, error) {
	data, err := c.files.ReadAll(ctx, dir)
	if err != nil {
		return nil, err
	}
	entries, err := Decode(data)
	if err != nil {
		c.log.Warn("directory failed to decode", "digest", dir.String(), "error", err)
		return nil, fmt.Errorf("directory %s: %w", dir, err)
	}
	return &Directory{Digest: dir, Entries: entries, Size: uint64(len(data))}, nil
}

// Lookup returns the entry called name in directory dir.
func (c *Codec) Lookup(ctx context.Context, dir util.Digest, name string) (Entry, error) {
	d, err := c.Read(ctx, dir)
	if err != nil {
		return Entry{}, err
	}
	e, ok := d.Find(name)
	if !ok {
		return Entry{}, fmt.Errorf("%q in %s: %w", name, dir.Short(), util.ErrNotFound)
	}
	return e, nil
}

// Store encodes entries, stores the payload compressed against dictID and
// returns the directory's digest.
func (c *Codec) Store(ctx context.Context, entries []Entry, dictID uint32) (util.Digest, error) {
	data, err := Encode(entries)
	if err != nil {
		return util.ZeroDigest, err
	}
	var digests []util.Digest
	for start := 0; start < len(data); start += maxChunk {
		end := min(start+maxChunk, len(data))
		d, err := c.chunks.Put(ctx, data[start:end], dictID)
		if err != nil {
			return util.ZeroDigest, err
		}
		digests = append(digests, d)
	}
	return c.files.Assemble(ctx, digests)
}

// WalkFunc is called for every entry reached by Walk. p is the entry's
// slash-separated path from the walk root, starting with "/".
type WalkFunc func(p string, e Entry) error

// SkipDir returned from a WalkFunc on a directory entry skips its contents.
var SkipDir = errors.New("skip this directory")

// Walk visits the tree under dir depth first, in name order. Descending more
// than maxDepth directories below dir fails with util.ErrPathTooDeep.
func (c *Codec) Walk(ctx context.Context, dir util.Digest, maxDepth int, fn WalkFunc) error {
	return c.walk(ctx, dir, "/", 0, maxDepth, fn)
}

func (c *Codec) walk(ctx context.Context, dir util.Digest, prefix string, depth, maxDepth int, fn WalkFunc) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: %s is deeper than %d", util.ErrPathTooDeep, prefix, maxDepth)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := c.Read(ctx, dir)
	if err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	for _, e := range d.Entries {
		p := path.Join(prefix, e.Name)
		err := fn(p, e)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if e.Kind == KindDirectory {
			if err := c.walk(ctx, e.Target, p, depth+1, maxDepth, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
