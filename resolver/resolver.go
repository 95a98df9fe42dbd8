package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dendrascience/spraydryfs/assembler"
	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/internal/metrics"
	"github.com/dendrascience/spraydryfs/registry"
	"github.com/dendrascience/spraydryfs/util"
	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
)

const (
	DefaultMaxDepth         = 256
	DefaultPathCacheEntries = 100_000
)

// Options configures a Resolver.
type Options struct {
	// MaxDepth bounds the number of path segments a session will follow.
	MaxDepth int
	// PathCacheEntries bounds each session's cache.
	PathCacheEntries int64
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// Selector chooses the version a session pins.
type Selector struct {
	seq uint64
}

// Latest selects the newest version at open time.
func Latest() Selector { return Selector{} }

// Pinned selects version seq.
func Pinned(seq uint64) Selector { return Selector{seq: seq} }

func (s Selector) String() string {
	if s.seq == 0 {
		return "latest"
	}
	return fmt.Sprintf("version %d", s.seq)
}

// Resolver opens sessions over a registry's roots.
type Resolver struct {
	registry *registry.Registry
	dirs     *directory.Codec
	files    *assembler.Assembler
	opts     Options
}

func New(reg *registry.Registry, dirs *directory.Codec, files *assembler.Assembler, opts Options) *Resolver {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.PathCacheEntries <= 0 {
		opts.PathCacheEntries = DefaultPathCacheEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{registry: reg, dirs: dirs, files: files, opts: opts}
}

// OpenMount pins a version of root and returns a session over it.
func (r *Resolver) OpenMount(ctx context.Context, root string, sel Selector) (*Session, error) {
	var (
		v   registry.Version
		err error
	)
	if sel.seq == 0 {
		v, err = r.registry.Latest(ctx, root)
	} else {
		v, err = r.registry.At(ctx, root, sel.seq)
	}
	if err != nil {
		return nil, fmt.Errorf("open %q at %s: %w", root, sel, err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: r.opts.PathCacheEntries * 10,
		MaxCost:     r.opts.PathCacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}

	s := &Session{
		ID:       uuid.New(),
		Version:  v,
		dirs:     r.dirs,
		files:    r.files,
		cache:    cache,
		maxDepth: r.opts.MaxDepth,
		metrics:  r.opts.Metrics,
	}
	s.log = r.opts.Logger.With("session", s.ID.String(), "root", root, "version", v.Sequence)

	rootDir, err := s.readDir(ctx, v.Directory)
	if err != nil {
		cache.Close()
		return nil, err
	}
	s.root = Node{
		Path: "/",
		Entry: directory.Entry{
			Kind:   directory.KindDirectory,
			Target: v.Directory,
			Mode:   0o555,
			Size:   rootDir.Size,
			Mtime:  v.CreatedAt.UnixNano(),
		},
	}
	s.metrics.SessionOpened()
	s.log.Info("mount session opened", "directory", v.Directory.Short())
	return s, nil
}

// dangling turns a lower layer's absence into an integrity failure: the
// digest came from the pinned tree, so it must exist.
func dangling(what string, d util.Digest, err error) error {
	if errors.Is(err, util.ErrNotFound) {
		return fmt.Errorf("%w: dangling %s reference %s: %v", util.ErrIntegrity, what, d, err)
	}
	return err
}
