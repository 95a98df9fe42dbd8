package resolver

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/dendrascience/spraydryfs/assembler"
	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/internal/metrics"
	"github.com/dendrascience/spraydryfs/registry"
	"github.com/dendrascience/spraydryfs/util"
	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
)

// Node is a resolved path in the pinned tree.
type Node struct {
	Path  string
	Entry directory.Entry
}

func (n Node) IsDir() bool { return n.Entry.Kind == directory.KindDirectory }

func (n Node) Name() string { return path.Base(n.Path) }

// Attr is what stat reports for a node.
type Attr struct {
	Kind  directory.Kind
	Mode  fs.FileMode
	Size  uint64
	Mtime time.Time
}

// Session is one mount's view of a pinned version.
type Session struct {
	ID      uuid.UUID
	Version registry.Version

	dirs  *directory.Codec
	files *assembler.Assembler
	// cacheMu keeps Close from releasing the cache under a concurrent Set.
	cacheMu  sync.RWMutex
	cache    *ristretto.Cache
	maxDepth int
	root     Node
	log      *slog.Logger
	metrics  *metrics.Metrics
	closed   atomic.Bool
}

func (s *Session) check(ctx context.Context) error {
	if s.closed.Load() {
		return util.ErrSessionClosed
	}
	return ctx.Err()
}

func (s *Session) cacheGet(key string) (any, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if s.closed.Load() {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Session) cacheSet(key string, v any, cost int64) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if !s.closed.Load() {
		s.cache.Set(key, v, cost)
	}
}

// Root returns the node for "/".
func (s *Session) Root() Node { return s.root }

func (s *Session) readDir(ctx context.Context, d util.Digest) (*directory.Directory, error) {
	key := "d:" + string(d[:])
	if v, ok := s.cacheGet(key); ok {
		return v.(*directory.Directory), nil
	}
	dir, err := s.dirs.Read(ctx, d)
	if err != nil {
		return nil, dangling("directory", d, err)
	}
	s.cacheSet(key, dir, int64(len(dir.Entries))+1)
	return dir, nil
}

func (s *Session) loadFile(ctx context.Context, d util.Digest) (*assembler.File, error) {
	key := "f:" + string(d[:])
	if v, ok := s.cacheGet(key); ok {
		return v.(*assembler.File), nil
	}
	f, err := s.files.Load(ctx, d)
	if err != nil {
		return nil, dangling("file", d, err)
	}
	s.cacheSet(key, f, int64(len(f.Chunks))+1)
	return f, nil
}

// splitPath cleans p and returns its segments; "/" has none.
func splitPath(p string) (string, []string) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return clean, nil
	}
	return clean, strings.Split(clean[1:], "/")
}

// Resolve walks p from the root. Relative paths are taken from the root.
func (s *Session) Resolve(ctx context.Context, p string) (Node, error) {
	if err := s.check(ctx); err != nil {
		return Node{}, err
	}
	clean, segments := splitPath(p)
	if len(segments) > s.maxDepth {
		return Node{}, fmt.Errorf("%w: %d segments in %q", util.ErrPathTooDeep, len(segments), clean)
	}
	return s.resolve(ctx, clean, segments)
}

func (s *Session) resolve(ctx context.Context, clean string, segments []string) (Node, error) {
	if len(segments) == 0 {
		return s.root, nil
	}
	if v, ok := s.cacheGet("p:" + clean); ok {
		return v.(Node), nil
	}
	parentPath := path.Dir(clean)
	parent, err := s.resolve(ctx, parentPath, segments[:len(segments)-1])
	if err != nil {
		return Node{}, err
	}
	return s.child(ctx, parent, segments[len(segments)-1])
}

func (s *Session) child(ctx context.Context, parent Node, name string) (Node, error) {
	if !parent.IsDir() {
		return Node{}, fmt.Errorf("%s: %w", parent.Path, util.ErrNotADirectory)
	}
	dir, err := s.readDir(ctx, parent.Entry.Target)
	if err != nil {
		return Node{}, err
	}
	e, ok := dir.Find(name)
	if !ok {
		return Node{}, fmt.Errorf("%s: %w", path.Join(parent.Path, name), util.ErrNotFound)
	}
	n := Node{Path: path.Join(parent.Path, name), Entry: e}
	s.cacheSet("p:"+n.Path, n, 1)
	return n, nil
}

// Lookup finds name inside the directory at parentPath.
func (s *Session) Lookup(ctx context.Context, parentPath, name string) (Node, error) {
	if err := directory.ValidateName(name); err != nil {
		return Node{}, fmt.Errorf("%w: %v", util.ErrInvalidArgument, err)
	}
	parent, err := s.Resolve(ctx, parentPath)
	if err != nil {
		return Node{}, err
	}
	_, segments := splitPath(parent.Path)
	if len(segments)+1 > s.maxDepth {
		return Node{}, fmt.Errorf("%w: %s/%s", util.ErrPathTooDeep, parent.Path, name)
	}
	return s.child(ctx, parent, name)
}

// Getattr reports n's attributes. The root is read-only and carries the
// version's creation time; a directory's size is its encoded listing size.
func (s *Session) Getattr(ctx context.Context, n Node) (Attr, error) {
	if err := s.check(ctx); err != nil {
		return Attr{}, err
	}
	attr := Attr{
		Kind:  n.Entry.Kind,
		Mode:  n.Entry.FileMode(),
		Size:  n.Entry.Size,
		Mtime: n.Entry.ModTime(),
	}
	if n.IsDir() {
		dir, err := s.readDir(ctx, n.Entry.Target)
		if err != nil {
			return Attr{}, err
		}
		attr.Size = dir.Size
	}
	return attr, nil
}

// Readdir lists the directory n.
func (s *Session) Readdir(ctx context.Context, n Node) (*DirIterator, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, fmt.Errorf("%s: %w", n.Path, util.ErrNotADirectory)
	}
	dir, err := s.readDir(ctx, n.Entry.Target)
	if err != nil {
		return nil, err
	}
	return &DirIterator{entries: dir.Entries}, nil
}

// Read returns up to length bytes of file n starting at offset.
func (s *Session) Read(ctx context.Context, n Node, offset, length int64) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if n.Entry.Kind != directory.KindFile {
		return nil, fmt.Errorf("%s is a %s: %w", n.Path, n.Entry.Kind, util.ErrNotAFile)
	}
	f, err := s.loadFile(ctx, n.Entry.Target)
	if err != nil {
		return nil, err
	}
	data, err := s.files.ReadFileRange(ctx, f, offset, length)
	if err != nil {
		return nil, dangling("chunk", n.Entry.Target, err)
	}
	s.metrics.BytesServed(len(data))
	return data, nil
}

// Readlink returns the target text of symlink n.
func (s *Session) Readlink(ctx context.Context, n Node) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	if n.Entry.Kind != directory.KindSymlink {
		return "", fmt.Errorf("%s is a %s: %w", n.Path, n.Entry.Kind, util.ErrNotAFile)
	}
	data, err := s.files.ReadAll(ctx, n.Entry.Target)
	if err != nil {
		return "", dangling("symlink", n.Entry.Target, err)
	}
	switch {
	case len(data) == 0:
		return "", fmt.Errorf("%w: %s has an empty target", util.ErrIntegrity, n.Path)
	case !utf8.Valid(data):
		return "", fmt.Errorf("%w: %s target is not UTF-8", util.ErrIntegrity, n.Path)
	case strings.IndexByte(string(data), 0) >= 0:
		return "", fmt.Errorf("%w: %s target contains NUL", util.ErrIntegrity, n.Path)
	}
	return string(data), nil
}

// Close releases the session's cache. Later calls fail with
// util.ErrSessionClosed; calls already in flight may still finish.
func (s *Session) Close() error {
	s.cacheMu.Lock()
	if s.closed.Swap(true) {
		s.cacheMu.Unlock()
		return nil
	}
	s.cache.Close()
	s.cacheMu.Unlock()
	s.metrics.SessionClosed()
	s.log.Info("mount session closed")
	return nil
}
