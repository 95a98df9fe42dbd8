package spraydryfs

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/spraydryfs/internal/fixture"
	"github.com/dendrascience/spraydryfs/internal/metrics"
	"github.com/dendrascience/spraydryfs/resolver"
	"github.com/dendrascience/spraydryfs/store"
	"github.com/dendrascience/spraydryfs/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	stack   *fixture.Stack
	session *resolver.Session
	metrics *metrics.Metrics
	fs      *FS
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s, err := fixture.OpenMemoryStack(nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tree := fixture.Tree{}
	require.NoError(t, tree.Put("hello.txt", fixture.File{Data: []byte("hello world")}))
	require.NoError(t, tree.Put("bin/run.sh", fixture.File{Data: []byte("#!/bin/sh\n"), Mode: 0o755}))
	require.NoError(t, tree.Put("latest", fixture.Symlink("hello.txt")))

	b := fixture.NewBuilder(s)
	b.Splitter = fixture.FixedSplitter{Size: 4}
	_, err = b.Commit(ctx, "site", tree)
	require.NoError(t, err)

	m := metrics.New()
	session, err := resolver.New(s.Registry, s.Dirs, s.Files, resolver.Options{Metrics: m}).
		OpenMount(ctx, "site", resolver.Latest())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return &env{
		stack:   s,
		session: session,
		metrics: m,
		fs:      New(session, Options{UID: 1000, GID: 1000, AttrValidity: time.Minute, Metrics: m}),
	}
}

func (e *env) root(t *testing.T) *Dir {
	t.Helper()
	n, err := e.fs.Root()
	require.NoError(t, err)
	return n.(*Dir)
}

func (e *env) lookup(t *testing.T, names ...string) fs.Node {
	t.Helper()
	var n fs.Node = e.root(t)
	for _, name := range names {
		var err error
		n, err = n.(*Dir).Lookup(context.Background(), name)
		require.NoError(t, err)
	}
	return n
}

func read(t *testing.T, f *File, offset int64, size int) ([]byte, error) {
	t.Helper()
	resp := &fuse.ReadResponse{}
	err := f.Read(context.Background(), &fuse.ReadRequest{Offset: offset, Size: size}, resp)
	return resp.Data, err
}

func TestRootAttr(t *testing.T) {
	e := newEnv(t)
	var a fuse.Attr
	require.NoError(t, e.root(t).Attr(context.Background(), &a))

	assert.Equal(t, util.RootInode, a.Inode)
	assert.Equal(t, os.ModeDir|0o555, a.Mode)
	assert.Equal(t, uint32(2), a.Nlink)
	assert.Equal(t, uint32(1000), a.Uid)
	assert.Equal(t, time.Minute, a.Valid)
	assert.True(t, a.Mtime.Equal(e.session.Version.CreatedAt))
	assert.NotZero(t, a.Size)
}

func TestLookupAndAttr(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	hello := e.lookup(t, "hello.txt")
	require.IsType(t, &File{}, hello)
	var a fuse.Attr
	require.NoError(t, hello.Attr(ctx, &a))
	assert.Equal(t, uint64(11), a.Size)
	assert.Equal(t, os.FileMode(0o644), a.Mode)
	assert.Equal(t, uint64(1), a.Blocks)

	var again fuse.Attr
	require.NoError(t, e.lookup(t, "hello.txt").Attr(ctx, &again))
	assert.Equal(t, a.Inode, again.Inode, "inodes are stable within a mount")

	script := e.lookup(t, "bin", "run.sh")
	var sa fuse.Attr
	require.NoError(t, script.Attr(ctx, &sa))
	assert.Equal(t, os.FileMode(0o755), sa.Mode)
	assert.NotEqual(t, a.Inode, sa.Inode)

	link := e.lookup(t, "latest")
	require.IsType(t, &Symlink{}, link)
	var la fuse.Attr
	require.NoError(t, link.Attr(ctx, &la))
	assert.Equal(t, os.ModeSymlink|0o777, la.Mode)
}

func TestLookupErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	root := e.root(t)

	_, err := root.Lookup(ctx, "missing")
	assert.Equal(t, fuse.Errno(syscall.ENOENT), err)

	_, err = root.Lookup(ctx, "..")
	assert.Equal(t, fuse.Errno(syscall.EINVAL), err)
}

func TestReadDirAll(t *testing.T) {
	e := newEnv(t)
	dirents, err := e.root(t).ReadDirAll(context.Background())
	require.NoError(t, err)

	want := []struct {
		name string
		typ  fuse.DirentType
	}{
		{"bin", fuse.DT_Dir},
		{"hello.txt", fuse.DT_File},
		{"latest", fuse.DT_Link},
	}
	require.Len(t, dirents, len(want))
	for i, w := range want {
		assert.Equal(t, w.name, dirents[i].Name)
		assert.Equal(t, w.typ, dirents[i].Type)
	}

	var a fuse.Attr
	require.NoError(t, e.lookup(t, "hello.txt").Attr(context.Background(), &a))
	assert.Equal(t, a.Inode, dirents[1].Inode, "readdir and lookup agree on inodes")
}

func TestOpen(t *testing.T) {
	e := newEnv(t)
	f := e.lookup(t, "hello.txt").(*File)

	tests := []struct {
		name  string
		flags fuse.OpenFlags
		err   error
	}{
		{name: "read only", flags: fuse.OpenReadOnly},
		{name: "write only", flags: fuse.OpenWriteOnly, err: fuse.Errno(syscall.EACCES)},
		{name: "read write", flags: fuse.OpenReadWrite, err: fuse.Errno(syscall.EACCES)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &fuse.OpenResponse{}
			h, err := f.Open(context.Background(), &fuse.OpenRequest{Flags: tt.flags}, resp)
			if tt.err != nil {
				assert.Equal(t, tt.err, err)
				assert.Nil(t, h)
				return
			}
			require.NoError(t, err)
			assert.Same(t, f, h)
			assert.NotZero(t, resp.Flags&fuse.OpenKeepCache)
		})
	}
}

func TestRead(t *testing.T) {
	e := newEnv(t)
	f := e.lookup(t, "hello.txt").(*File)

	tests := []struct {
		offset int64
		size   int
		want   string
	}{
		{0, 5, "hello"},
		{3, 5, "lo wo"},
		{6, 100, "world"},
		{11, 10, ""},
		{64, 10, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d+%d", tt.offset, tt.size), func(t *testing.T) {
			got, err := read(t, f, tt.offset, tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestReadlink(t *testing.T) {
	e := newEnv(t)
	link := e.lookup(t, "latest").(*Symlink)
	target, err := link.Readlink(context.Background(), &fuse.ReadlinkRequest{})
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", target)
}

func TestCorruptChunkIsEIO(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := e.lookup(t, "hello.txt").(*File)

	other, err := e.stack.Chunks.Put(ctx, []byte("XXXX"), 0)
	require.NoError(t, err)
	forged, err := e.stack.Store.Get(ctx, store.ChunkKey(other))
	require.NoError(t, err)
	require.NoError(t, e.stack.Store.Overwrite(ctx, store.ChunkKey(util.Sum([]byte("hell"))), forged))

	_, err = read(t, f, 0, 4)
	assert.Equal(t, fuse.Errno(syscall.EIO), err)

	got, err := read(t, f, 4, 4)
	require.NoError(t, err, "other chunks stay readable")
	assert.Equal(t, "o wo", string(got))
}

func TestClosedSession(t *testing.T) {
	e := newEnv(t)
	root := e.root(t)
	require.NoError(t, e.session.Close())

	var a fuse.Attr
	assert.Equal(t, fuse.Errno(syscall.ESHUTDOWN), root.Attr(context.Background(), &a))
	_, err := root.ReadDirAll(context.Background())
	assert.Equal(t, fuse.Errno(syscall.ESHUTDOWN), err)
}

func TestErrnoFor(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{fmt.Errorf("x: %w", util.ErrNotFound), syscall.ENOENT},
		{fmt.Errorf("%w: dangling file: %v", util.ErrIntegrity, util.ErrNotFound), syscall.EIO},
		{util.ErrCorruptDirectory, syscall.EIO},
		{util.ErrNotADirectory, syscall.ENOTDIR},
		{util.ErrNotAFile, syscall.EISDIR},
		{util.ErrPathTooDeep, syscall.ENAMETOOLONG},
		{util.ErrInvalidArgument, syscall.EINVAL},
		{util.ErrSessionClosed, syscall.ESHUTDOWN},
		{context.Canceled, syscall.EINTR},
		{io.ErrUnexpectedEOF, syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, errnoFor(tt.err, syscall.EISDIR))
		})
	}
}

func TestOperationsAreCounted(t *testing.T) {
	e := newEnv(t)
	root := e.root(t)
	_, err := root.Lookup(context.Background(), "missing")
	require.Error(t, err)
	_, err = root.Lookup(context.Background(), "hello.txt")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	e.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `spraydryfs_fuse_operations_total{op="lookup",result="ENOENT"} 1`)
	assert.Contains(t, body, `spraydryfs_fuse_operations_total{op="lookup",result="ok"} 1`)
}

// TestConcurrentReadsDoNotDeadlock hammers one file from many goroutines.
func TestConcurrentReadsDoNotDeadlock(t *testing.T) {
	e := newEnv(t)
	f := e.lookup(t, "hello.txt").(*File)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := range 32 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				offset := int64(i % 11)
				got, err := read(t, f, offset, 4)
				if err != nil {
					t.Errorf("read at %d: %v", offset, err)
					return
				}
				want := "hello world"[offset:min(offset+4, 11)]
				if string(got) != want {
					t.Errorf("read at %d = %q, want %q", offset, got, want)
				}
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent reads deadlocked - test timed out")
	}
}

func TestHelloWorldThroughTheMount(t *testing.T) {
	ctx := context.Background()
	s, err := fixture.OpenMemoryStack(nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	b := fixture.NewBuilder(s)
	b.Splitter = fixture.FixedSplitter{Size: 6}
	tree := fixture.Tree{"a.txt": fixture.File{Data: []byte("hello world")}}
	first, err := b.Commit(ctx, "scenario", tree)
	require.NoError(t, err)

	for _, piece := range []string{"hello ", "world"} {
		ok, err := s.Chunks.Has(ctx, util.Sum([]byte(piece)))
		require.NoError(t, err)
		assert.True(t, ok, "chunk %q stored", piece)
	}
	// Two chunks for the file plus one holding the root directory listing.
	totals, err := s.Chunks.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, totals.Count)
	files, err := s.Store.Count(ctx, store.FilePrefix)
	require.NoError(t, err)
	assert.Equal(t, 2, files.Count, "a.txt and the root directory")

	// Committing the identical tree again adds a version and nothing else.
	second, err := b.Commit(ctx, "scenario", tree)
	require.NoError(t, err)
	assert.Equal(t, first.Directory, second.Directory)
	assert.Equal(t, first.Sequence+1, second.Sequence)
	again, err := s.Chunks.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, totals.Count, again.Count)
	assert.Equal(t, totals.StoredBytes, again.StoredBytes)
	filesAgain, err := s.Store.Count(ctx, store.FilePrefix)
	require.NoError(t, err)
	assert.Equal(t, files.Count, filesAgain.Count)

	session, err := resolver.New(s.Registry, s.Dirs, s.Files, resolver.Options{}).
		OpenMount(ctx, "scenario", resolver.Latest())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	root, err := New(session, Options{}).Root()
	require.NoError(t, err)
	n, err := root.(*Dir).Lookup(ctx, "a.txt")
	require.NoError(t, err)
	f := n.(*File)
	assert.Equal(t, util.Sum([]byte("hello world")), f.node.Entry.Target)

	got, err := read(t, f, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))
}
