package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/internal/fixture"
	"github.com/dendrascience/spraydryfs/resolver"
	"github.com/dendrascience/spraydryfs/store"
	"github.com/dendrascience/spraydryfs/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newStack(t *testing.T) *fixture.Stack {
	t.Helper()
	s, err := fixture.OpenMemoryStack(quiet)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTree(t *testing.T) fixture.Tree {
	t.Helper()
	tree := fixture.Tree{}
	require.NoError(t, tree.Put("a.txt", fixture.File{Data: []byte("alpha")}))
	require.NoError(t, tree.Put("dir/b.txt", fixture.File{Data: []byte("bravo bravo")}))
	require.NoError(t, tree.Put("link", fixture.Symlink("a.txt")))
	return tree
}

func commit(t *testing.T, s *fixture.Stack, tree fixture.Tree) {
	t.Helper()
	b := fixture.NewBuilder(s)
	b.Splitter = fixture.FixedSplitter{Size: 4}
	_, err := b.Commit(context.Background(), "site", tree)
	require.NoError(t, err)
}

func openSession(t *testing.T, s *fixture.Stack) *resolver.Session {
	t.Helper()
	session, err := resolver.New(s.Registry, s.Dirs, s.Files, resolver.Options{Logger: quiet}).
		OpenMount(context.Background(), "site", resolver.Latest())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func TestList(t *testing.T) {
	s := newStack(t)
	commit(t, s, sampleTree(t))
	session := openSession(t, s)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, list(ctx, &out, session, "/", false))
	assert.Equal(t, "a.txt\ndir\nlink\n", out.String())

	out.Reset()
	require.NoError(t, list(ctx, &out, session, "dir/b.txt", false))
	assert.Equal(t, "b.txt\n", out.String())

	out.Reset()
	require.NoError(t, list(ctx, &out, session, "/", true))
	assert.Contains(t, out.String(), "link -> a.txt")
	assert.Contains(t, out.String(), "-rw-r--r--")

	assert.ErrorIs(t, list(ctx, &out, session, "/missing", false), util.ErrNotFound)
}

func TestCopyFile(t *testing.T) {
	s := newStack(t)
	commit(t, s, sampleTree(t))
	session := openSession(t, s)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, copyFile(ctx, &out, session, "/dir/b.txt", 0, -1))
	assert.Equal(t, "bravo bravo", out.String())

	out.Reset()
	require.NoError(t, copyFile(ctx, &out, session, "/dir/b.txt", 3, 5))
	assert.Equal(t, "vo br", out.String())

	out.Reset()
	require.NoError(t, copyFile(ctx, &out, session, "/dir/b.txt", 6, 0))
	assert.Empty(t, out.String())

	assert.ErrorIs(t, copyFile(ctx, &out, session, "/dir", 0, -1), util.ErrNotAFile)
	assert.ErrorIs(t, copyFile(ctx, &out, session, "/dir/b.txt", -1, 2), util.ErrInvalidArgument)
}

func TestValidator(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	commit(t, s, sampleTree(t))
	tree := sampleTree(t)
	require.NoError(t, tree.Put("dir/c.txt", fixture.File{Data: []byte("charlie")}))
	commit(t, s, tree)

	v := &validator{stack: s, maxDepth: 16, log: quiet}
	require.NoError(t, v.run(ctx, nil, true))
	assert.Empty(t, v.report.Problems)
	assert.Equal(t, 1, v.report.Roots)
	assert.Equal(t, 2, v.report.Versions)
	assert.Equal(t, 3, v.report.Files, "unchanged files are verified once")
	assert.Equal(t, 1, v.report.Symlinks)
	assert.NotZero(t, v.report.Chunks)

	other, err := s.Chunks.Put(ctx, []byte("XXXX"), 0)
	require.NoError(t, err)
	forged, err := s.Store.Get(ctx, store.ChunkKey(other))
	require.NoError(t, err)
	require.NoError(t, s.Store.Overwrite(ctx, store.ChunkKey(util.Sum([]byte("alph"))), forged))

	v = &validator{stack: s, maxDepth: 16, log: quiet}
	require.NoError(t, v.run(ctx, []string{"site", "nobody"}, false))
	require.NotEmpty(t, v.report.Problems)
	joined := strings.Join(v.report.Problems, "\n")
	assert.Contains(t, joined, "/a.txt")
	assert.Contains(t, joined, `root "nobody"`)
}

func TestCollectStats(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	commit(t, s, sampleTree(t))
	commit(t, s, sampleTree(t))

	md, err := collectStats(ctx, s, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, md.RootCount)
	assert.Equal(t, 2, md.VersionCount)
	assert.Equal(t, 0, md.DictionaryCount)
	assert.Equal(t, 0, md.DictionaryChunks)
	assert.NotZero(t, md.ChunkCount)
	assert.NotZero(t, md.FileCount)
	assert.False(t, md.NewestVersionTS.Before(md.OldestVersionTS))

	var out bytes.Buffer
	printStats(&out, md)
	assert.Contains(t, out.String(), "Versions: 2")
}

func TestSeed(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	var out bytes.Buffer
	versions, err := seed(ctx, &out, s, "synthetic", &seedOptions{files: 30, versions: 3, buckets: 4}, quiet)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, uint64(i+1), v.Sequence)
	}
	assert.Equal(t, 3, strings.Count(out.String(), "synthetic@"))

	var buckets int
	err = s.Dirs.Walk(ctx, versions[2].Directory, 4, func(p string, e directory.Entry) error {
		if strings.Count(p, "/") == 1 {
			buckets++
		}
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, buckets, 4)
	assert.NotZero(t, buckets)

	_, err = seed(ctx, &out, s, "synthetic", &seedOptions{files: 0, versions: 1, buckets: 1}, quiet)
	assert.ErrorIs(t, err, util.ErrInvalidArgument)
}

func TestRootCommand(t *testing.T) {
	dir := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		root := NewRootCmd()
		root.SetArgs(append([]string{"--store", dir, "--no-color", "--log-level", "error"}, args...))
		root.SetOut(&out)
		root.SetErr(io.Discard)
		require.NoError(t, root.ExecuteContext(context.Background()), "args %v", args)
		return out.String()
	}

	assert.Contains(t, run("seed", "site", "--files", "10", "--versions", "2", "--buckets", "3"), "site@2")
	assert.Contains(t, run("roots"), "site")
	assert.Equal(t, 3, strings.Count(run("roots", "site"), "\n"), "header plus two versions")
	assert.Contains(t, run("validate"), "All records are valid")
	assert.Contains(t, run("stats"), "Versions: 2")
	assert.Contains(t, run("stats", "--json"), `"version_count": 2`)
	assert.NotEmpty(t, run("ls", "site", "--at", "1"))
}
