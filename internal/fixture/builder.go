package fixture

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/registry"
	"github.com/dendrascience/spraydryfs/util"
	"github.com/taigrr/colorhash"
)

// Item is something a Tree can hold: a File, a Symlink or a nested Tree.
type Item interface {
	item()
}

// Tree describes a directory by name.
type Tree map[string]Item

// File is regular file content. A zero Mode stores 0644.
type File struct {
	Data []byte
	Mode uint32
}

// Symlink is a link target.
type Symlink string

func (Tree) item()    {}
func (File) item()    {}
func (Symlink) item() {}

// Builder writes trees into a Stack.
type Builder struct {
	Stack    *Stack
	Splitter Splitter
	// Dictionary compresses every chunk the builder writes; 0 stores raw.
	Dictionary uint32
	// Mtime stamps every entry.
	Mtime time.Time
}

func NewBuilder(s *Stack) *Builder {
	return &Builder{
		Stack:    s,
		Splitter: FixedSplitter{Size: 4096},
		Mtime:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// File stores data and returns its file digest.
func (b *Builder) File(ctx context.Context, data []byte) (util.Digest, error) {
	pieces, err := b.Splitter.Split(data)
	if err != nil {
		return util.ZeroDigest, err
	}
	digests := make([]util.Digest, 0, len(pieces))
	for _, p := range pieces {
		d, err := b.Stack.Chunks.Put(ctx, p, b.Dictionary)
		if err != nil {
			return util.ZeroDigest, err
		}
		digests = append(digests, d)
	}
	return b.Stack.Files.Assemble(ctx, digests)
}

// Tree stores t and everything under it, returning the directory digest and
// its encoded size.
func (b *Builder) Tree(ctx context.Context, t Tree) (util.Digest, uint64, error) {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]directory.Entry, 0, len(t))
	for _, name := range names {
		e := directory.Entry{Name: name, Mtime: b.Mtime.UnixNano()}
		switch it := t[name].(type) {
		case File:
			d, err := b.File(ctx, it.Data)
			if err != nil {
				return util.ZeroDigest, 0, fmt.Errorf("%s: %w", name, err)
			}
			e.Kind, e.Target, e.Size, e.Mode = directory.KindFile, d, uint64(len(it.Data)), it.Mode
			if e.Mode == 0 {
				e.Mode = 0o644
			}
		case Symlink:
			d, err := b.File(ctx, []byte(it))
			if err != nil {
				return util.ZeroDigest, 0, fmt.Errorf("%s: %w", name, err)
			}
			e.Kind, e.Target, e.Size, e.Mode = directory.KindSymlink, d, uint64(len(it)), 0o777
		case Tree:
			d, size, err := b.Tree(ctx, it)
			if err != nil {
				return util.ZeroDigest, 0, fmt.Errorf("%s/%w", name, err)
			}
			e.Kind, e.Target, e.Size, e.Mode = directory.KindDirectory, d, size, 0o755
		default:
			return util.ZeroDigest, 0, fmt.Errorf("%w: %s has unsupported item %T", util.ErrInvalidEntry, name, it)
		}
		entries = append(entries, e)
	}

	d, err := b.Stack.Dirs.Store(ctx, entries, b.Dictionary)
	if err != nil {
		return util.ZeroDigest, 0, err
	}
	size, err := b.Stack.Files.Size(ctx, d)
	if err != nil {
		return util.ZeroDigest, 0, err
	}
	return d, size, nil
}

// Commit stores t and appends it as the next version of root, creating the
// root on first use.
func (b *Builder) Commit(ctx context.Context, root string, t Tree) (registry.Version, error) {
	if _, err := b.Stack.Registry.CreateRoot(ctx, root); err != nil && !errors.Is(err, util.ErrAlreadyExists) {
		return registry.Version{}, err
	}
	d, _, err := b.Tree(ctx, t)
	if err != nil {
		return registry.Version{}, err
	}
	return b.Stack.Registry.AppendVersion(ctx, root, d)
}

// Put places item at the slash-separated path p inside t, creating
// intermediate trees.
func (t Tree) Put(p string, item Item) error {
	cur := t
	segments := splitSegments(p)
	if len(segments) == 0 {
		return fmt.Errorf("%w: empty path", util.ErrInvalidArgument)
	}
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg]
		if !ok {
			sub := Tree{}
			cur[seg] = sub
			cur = sub
			continue
		}
		sub, ok := next.(Tree)
		if !ok {
			return fmt.Errorf("%s: %w", seg, util.ErrNotADirectory)
		}
		cur = sub
	}
	cur[segments[len(segments)-1]] = item
	return nil
}

func splitSegments(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
}

// Bucket spreads content across a fixed number of directories by the
// colorhash of its digest, so seeded trees have wide, stable fan-out.
func Bucket(d util.Digest, buckets int) string {
	return fmt.Sprintf("%03d", colorhash.HashString(d.String())%buckets)
}
