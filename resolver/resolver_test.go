package resolver

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/internal/fixture"
	"github.com/dendrascience/spraydryfs/registry"
	"github.com/dendrascience/spraydryfs/store"
	"github.com/dendrascience/spraydryfs/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	stack    *fixture.Stack
	builder  *fixture.Builder
	resolver *Resolver
	version  registry.Version
}

func sampleTree() fixture.Tree {
	t := fixture.Tree{}
	t.Put("hello.txt", fixture.File{Data: []byte("hello world")})
	t.Put("docs/readme.md", fixture.File{Data: []byte("# readme\n"), Mode: 0o600})
	t.Put("docs/nested/deep.txt", fixture.File{Data: []byte("deep")})
	t.Put("link", fixture.Symlink("docs/readme.md"))
	t.Put("empty", fixture.File{Data: nil})
	return t
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	s, err := fixture.OpenMemoryStack(nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	b := fixture.NewBuilder(s)
	b.Splitter = fixture.FixedSplitter{Size: 4}
	v, err := b.Commit(context.Background(), "site", sampleTree())
	require.NoError(t, err)

	return &env{stack: s, builder: b, resolver: New(s.Registry, s.Dirs, s.Files, opts), version: v}
}

func (e *env) open(t *testing.T, sel Selector) *Session {
	t.Helper()
	s, err := e.resolver.OpenMount(context.Background(), "site", sel)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMount_Selectors(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	tree := sampleTree()
	tree.Put("added.txt", fixture.File{Data: []byte("v2")})
	v2, err := e.builder.Commit(ctx, "site", tree)
	require.NoError(t, err)

	latest := e.open(t, Latest())
	assert.Equal(t, v2.Sequence, latest.Version.Sequence)
	_, err = latest.Resolve(ctx, "/added.txt")
	require.NoError(t, err)

	pinned := e.open(t, Pinned(1))
	_, err = pinned.Resolve(ctx, "/added.txt")
	assert.ErrorIs(t, err, util.ErrNotFound)

	_, err = e.resolver.OpenMount(ctx, "site", Pinned(9))
	assert.ErrorIs(t, err, util.ErrNotFound)
	_, err = e.resolver.OpenMount(ctx, "nobody", Latest())
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestSession_PinnedAtOpen(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	s := e.open(t, Latest())

	tree := sampleTree()
	tree.Put("later.txt", fixture.File{Data: []byte("appended after open")})
	_, err := e.builder.Commit(ctx, "site", tree)
	require.NoError(t, err)

	_, err = s.Resolve(ctx, "/later.txt")
	assert.ErrorIs(t, err, util.ErrNotFound, "open session keeps its version")
	assert.Equal(t, e.version.Sequence, s.Version.Sequence)
}

func TestResolve(t *testing.T) {
	e := newEnv(t, Options{})
	s := e.open(t, Latest())
	ctx := context.Background()

	tests := []struct {
		path    string
		kind    directory.Kind
		wantErr error
	}{
		{path: "/", kind: directory.KindDirectory},
		{path: "", kind: directory.KindDirectory},
		{path: "/hello.txt", kind: directory.KindFile},
		{path: "docs/readme.md", kind: directory.KindFile},
		{path: "/docs/nested/", kind: directory.KindDirectory},
		{path: "/docs/./nested/../readme.md", kind: directory.KindFile},
		{path: "/link", kind: directory.KindSymlink},
		{path: "/missing", wantErr: util.ErrNotFound},
		{path: "/docs/missing/deeper", wantErr: util.ErrNotFound},
		{path: "/hello.txt/child", wantErr: util.ErrNotADirectory},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			n, err := s.Resolve(ctx, tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, n.Entry.Kind)
		})
	}
}

func TestLookup(t *testing.T) {
	e := newEnv(t, Options{})
	s := e.open(t, Latest())
	ctx := context.Background()

	n, err := s.Lookup(ctx, "/docs", "readme.md")
	require.NoError(t, err)
	assert.Equal(t, "/docs/readme.md", n.Path)
	assert.Equal(t, "readme.md", n.Name())

	_, err = s.Lookup(ctx, "/docs", "nope")
	assert.ErrorIs(t, err, util.ErrNotFound)
	_, err = s.Lookup(ctx, "/hello.txt", "x")
	assert.ErrorIs(t, err, util.ErrNotADirectory)
	_, err = s.Lookup(ctx, "/", "a/b")
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
}

func TestResolve_DepthBound(t *testing.T) {
	e := newEnv(t, Options{MaxDepth: 2})
	s := e.open(t, Latest())
	ctx := context.Background()

	_, err := s.Resolve(ctx, "/docs/readme.md")
	require.NoError(t, err)
	_, err = s.Resolve(ctx, "/docs/nested/deep.txt")
	assert.ErrorIs(t, err, util.ErrPathTooDeep)
	_, err = s.Lookup(ctx, "/docs/nested", "deep.txt")
	assert.ErrorIs(t, err, util.ErrPathTooDeep)

	long := "/" + strings.Repeat("a/", 1000) + "b"
	_, err = s.Resolve(ctx, long)
	assert.ErrorIs(t, err, util.ErrPathTooDeep)
}

func TestGetattr(t *testing.T) {
	e := newEnv(t, Options{})
	s := e.open(t, Latest())
	ctx := context.Background()

	root, err := s.Getattr(ctx, s.Root())
	require.NoError(t, err)
	assert.Equal(t, fs.ModeDir|0o555, root.Mode)
	assert.True(t, root.Mtime.Equal(e.version.CreatedAt))
	rootSize, err := e.stack.Files.Size(ctx, e.version.Directory)
	require.NoError(t, err)
	assert.Equal(t, rootSize, root.Size)

	n, err := s.Resolve(ctx, "/docs/readme.md")
	require.NoError(t, err)
	attr, err := s.Getattr(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), attr.Mode)
	assert.Equal(t, uint64(len("# readme\n")), attr.Size)
	assert.True(t, attr.Mtime.Equal(e.builder.Mtime))

	docs, err := s.Resolve(ctx, "/docs")
	require.NoError(t, err)
	attr, err = s.Getattr(ctx, docs)
	require.NoError(t, err)
	assert.True(t, attr.Mode.IsDir())
	docsSize, err := e.stack.Files.Size(ctx, docs.Entry.Target)
	require.NoError(t, err)
	assert.Equal(t, docsSize, attr.Size)

	link, err := s.Resolve(ctx, "/link")
	require.NoError(t, err)
	attr, err = s.Getattr(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, fs.ModeSymlink, attr.Mode.Type())
}

func TestReaddir(t *testing.T) {
	e := newEnv(t, Options{})
	s := e.open(t, Latest())
	ctx := context.Background()

	it, err := s.Readdir(ctx, s.Root())
	require.NoError(t, err)
	var names []string
	for _, entry := range it.All() {
		names = append(names, entry.Name)
	}
	assert.Equal(t, []string{"docs", "empty", "hello.txt", "link"}, names)

	require.NoError(t, it.Seek(2))
	entry, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, "hello.txt", entry.Name)
	assert.Equal(t, 3, it.Offset())

	it.Rewind()
	entry, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, "docs", entry.Name)

	assert.ErrorIs(t, it.Seek(5), util.ErrInvalidArgument)

	file, err := s.Resolve(ctx, "/hello.txt")
	require.NoError(t, err)
	_, err = s.Readdir(ctx, file)
	assert.ErrorIs(t, err, util.ErrNotADirectory)
}

func TestRead(t *testing.T) {
	e := newEnv(t, Options{})
	s := e.open(t, Latest())
	ctx := context.Background()

	n, err := s.Resolve(ctx, "/hello.txt")
	require.NoError(t, err)

	tests := []struct {
		offset, length int64
		want           string
	}{
		{0, 11, "hello world"},
		{3, 5, "lo wo"},
		{9, 100, "ld"},
		{11, 4, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d+%d", tt.offset, tt.length), func(t *testing.T) {
			got, err := s.Read(ctx, n, tt.offset, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	_, err = s.Read(ctx, n, -1, 1)
	assert.ErrorIs(t, err, util.ErrInvalidArgument)

	empty, err := s.Resolve(ctx, "/empty")
	require.NoError(t, err)
	got, err := s.Read(ctx, empty, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Read(ctx, s.Root(), 0, 1)
	assert.ErrorIs(t, err, util.ErrNotAFile)
}

func TestReadlink(t *testing.T) {
	e := newEnv(t, Options{})
	s := e.open(t, Latest())
	ctx := context.Background()

	link, err := s.Resolve(ctx, "/link")
	require.NoError(t, err)
	target, err := s.Readlink(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, "docs/readme.md", target)

	file, err := s.Resolve(ctx, "/hello.txt")
	require.NoError(t, err)
	_, err = s.Readlink(ctx, file)
	assert.ErrorIs(t, err, util.ErrNotAFile)
}

func TestReadlink_InvalidTarget(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name   string
		target string
	}{
		{name: "empty", target: ""},
		{name: "nul", target: "a\x00b"},
		{name: "not utf8", target: "\xff\xfe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.builder.Commit(ctx, "site", fixture.Tree{"bad": fixture.Symlink(tt.target)})
			require.NoError(t, err)
			s := e.open(t, Latest())
			n, err := s.Resolve(ctx, "/bad")
			require.NoError(t, err)
			_, err = s.Readlink(ctx, n)
			assert.ErrorIs(t, err, util.ErrIntegrity)
		})
	}
}

func TestDanglingReferenceIsIntegrityError(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	s := e.open(t, Latest())

	hello, err := s.Resolve(ctx, "/hello.txt")
	require.NoError(t, err)
	docs, err := s.Resolve(ctx, "/docs")
	require.NoError(t, err)

	require.NoError(t, e.stack.Store.Delete(ctx, store.FileKey(hello.Entry.Target)))
	require.NoError(t, e.stack.Store.Delete(ctx, store.FileKey(docs.Entry.Target)))

	fresh := e.open(t, Latest())
	_, err = fresh.Read(ctx, hello, 0, 4)
	assert.ErrorIs(t, err, util.ErrIntegrity)
	assert.NotErrorIs(t, err, util.ErrNotFound)

	_, err = fresh.Resolve(ctx, "/docs/readme.md")
	assert.ErrorIs(t, err, util.ErrIntegrity)
	assert.NotErrorIs(t, err, util.ErrNotFound)
}

func TestDanglingChunk(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	s := e.open(t, Latest())

	n, err := s.Resolve(ctx, "/hello.txt")
	require.NoError(t, err)
	f, err := e.stack.Files.Load(ctx, n.Entry.Target)
	require.NoError(t, err)
	require.NoError(t, e.stack.Store.Delete(ctx, store.ChunkKey(f.Chunks[1].Digest)))

	got, err := s.Read(ctx, n, 0, 4)
	require.NoError(t, err, "the first chunk is intact")
	assert.Equal(t, "hell", string(got))

	_, err = s.Read(ctx, n, 4, 4)
	assert.ErrorIs(t, err, util.ErrIntegrity)
	assert.NotErrorIs(t, err, util.ErrNotFound)
}

func TestClose(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	s, err := e.resolver.OpenMount(ctx, "site", Latest())
	require.NoError(t, err)
	n, err := s.Resolve(ctx, "/hello.txt")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")

	_, err = s.Resolve(ctx, "/hello.txt")
	assert.ErrorIs(t, err, util.ErrSessionClosed)
	_, err = s.Read(ctx, n, 0, 1)
	assert.ErrorIs(t, err, util.ErrSessionClosed)
	_, err = s.Getattr(ctx, n)
	assert.ErrorIs(t, err, util.ErrSessionClosed)
	_, err = s.Readdir(ctx, s.Root())
	assert.ErrorIs(t, err, util.ErrSessionClosed)
	_, err = s.Readlink(ctx, n)
	assert.ErrorIs(t, err, util.ErrSessionClosed)
}

func TestSessionsAreIndependent(t *testing.T) {
	e := newEnv(t, Options{})
	a := e.open(t, Latest())
	b := e.open(t, Latest())
	assert.NotEqual(t, a.ID, b.ID)

	require.NoError(t, a.Close())
	_, err := b.Resolve(context.Background(), "/hello.txt")
	assert.NoError(t, err, "closing one session leaves others usable")
}

func TestConcurrentReads(t *testing.T) {
	e := newEnv(t, Options{})
	s := e.open(t, Latest())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := []string{"/hello.txt", "/docs/readme.md", "/docs/nested/deep.txt"}[i%3]
			n, err := s.Resolve(ctx, p)
			if err != nil {
				t.Errorf("Resolve %s: %v", p, err)
				return
			}
			if _, err := s.Read(ctx, n, 0, 64); err != nil {
				t.Errorf("Read %s: %v", p, err)
			}
		}()
	}
	wg.Wait()
}

func TestCloseDuringOperations(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	s, err := e.resolver.OpenMount(ctx, "site", Latest())
	require.NoError(t, err)

	paths := []string{"/hello.txt", "/docs/readme.md", "/docs/nested/deep.txt", "/link", "/docs/nested"}
	started := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; ; j++ {
				once.Do(func() { close(started) })
				n, err := s.Resolve(ctx, paths[(i+j)%len(paths)])
				if err == nil {
					_, err = s.Getattr(ctx, n)
				}
				if err != nil {
					assert.ErrorIs(t, err, util.ErrSessionClosed)
					return
				}
			}
		}()
	}

	<-started
	require.NoError(t, s.Close())
	wg.Wait()
}
