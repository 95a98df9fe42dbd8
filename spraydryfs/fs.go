package spraydryfs

import (
	"context"
	"log/slog"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/internal/metrics"
	"github.com/dendrascience/spraydryfs/resolver"
	"github.com/dendrascience/spraydryfs/util"
)

// Options configures an FS.
type Options struct {
	// UID and GID own every node.
	UID, GID uint32
	// AttrValidity is how long the kernel may cache attributes and entries.
	// The tree never changes under a session, so this can be long.
	AttrValidity time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// FS implements the bazil.org/fuse filesystem interfaces over one session.
type FS struct {
	session *resolver.Session
	inodes  *util.InodeTable
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New creates a filesystem serving session. The caller keeps ownership of
// the session and closes it after the mount is gone.
func New(session *resolver.Session, opts Options) *FS {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FS{
		session: session,
		inodes:  util.NewInodeTable(),
		opts:    opts,
		log:     opts.Logger.With("session", session.ID.String()),
		metrics: opts.Metrics,
	}
}

// Root returns the root directory node
func (f *FS) Root() (fs.Node, error) {
	return f.node(f.session.Root()), nil
}

func (f *FS) node(n resolver.Node) fs.Node {
	switch n.Entry.Kind {
	case directory.KindDirectory:
		return &Dir{fs: f, node: n}
	case directory.KindSymlink:
		return &Symlink{fs: f, node: n}
	default:
		return &File{fs: f, node: n}
	}
}

func (f *FS) attr(ctx context.Context, n resolver.Node, a *fuse.Attr) error {
	attr, err := f.session.Getattr(ctx, n)
	if err != nil {
		return err
	}
	a.Valid = f.opts.AttrValidity
	a.Inode = f.inodes.InodeFor(n.Path)
	a.Mode = attr.Mode
	a.Size = attr.Size
	a.Blocks = (attr.Size + 511) / 512
	a.Mtime = attr.Mtime
	a.Ctime = attr.Mtime
	a.Atime = attr.Mtime
	a.Nlink = 1
	if n.IsDir() {
		a.Nlink = 2
	}
	a.Uid = f.opts.UID
	a.Gid = f.opts.GID
	return nil
}

func direntType(k directory.Kind) fuse.DirentType {
	switch k {
	case directory.KindDirectory:
		return fuse.DT_Dir
	case directory.KindSymlink:
		return fuse.DT_Link
	default:
		return fuse.DT_File
	}
}

// Dir represents a directory in the pinned tree
type Dir struct {
	fs   *FS
	node resolver.Node
}

var (
	_ fs.Node               = (*Dir)(nil)
	_ fs.NodeStringLookuper = (*Dir)(nil)
	_ fs.HandleReadDirAller = (*Dir)(nil)
)

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	return d.fs.finish("getattr", d.fs.attr(ctx, d.node, a), syscall.EIO)
}

// Lookup looks up a child node
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	n, err := d.fs.session.Lookup(ctx, d.node.Path, name)
	if err != nil {
		return nil, d.fs.finish("lookup", err, syscall.EIO)
	}
	d.fs.finish("lookup", nil, 0)
	return d.fs.node(n), nil
}

// ReadDirAll lists directory contents in name order
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	it, err := d.fs.session.Readdir(ctx, d.node)
	if err != nil {
		return nil, d.fs.finish("readdir", err, syscall.EIO)
	}
	dirents := make([]fuse.Dirent, 0, it.Len())
	for _, e := range it.All() {
		dirents = append(dirents, fuse.Dirent{
			Inode: d.fs.inodes.InodeFor(childPath(d.node.Path, e.Name)),
			Name:  e.Name,
			Type:  direntType(e.Kind),
		})
	}
	d.fs.finish("readdir", nil, 0)
	return dirents, nil
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// File represents a regular file; it is its own handle.
type File struct {
	fs   *FS
	node resolver.Node
}

var (
	_ fs.Node         = (*File)(nil)
	_ fs.NodeOpener   = (*File)(nil)
	_ fs.HandleReader = (*File)(nil)
)

// Attr returns file attributes
func (fl *File) Attr(ctx context.Context, a *fuse.Attr) error {
	return fl.fs.finish("getattr", fl.fs.attr(ctx, fl.node, a), syscall.EIO)
}

// Open rejects anything but read-only access. File content never changes
// under a session, so the kernel may keep its page cache across opens.
func (fl *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		return nil, fl.fs.finish("open", fuse.Errno(syscall.EACCES), 0)
	}
	resp.Flags |= fuse.OpenKeepCache
	fl.fs.finish("open", nil, 0)
	return fl, nil
}

// Read serves req.Size bytes at req.Offset; short reads happen only at EOF.
func (fl *File) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := fl.fs.session.Read(ctx, fl.node, req.Offset, int64(req.Size))
	if err != nil {
		return fl.fs.finish("read", err, syscall.EISDIR)
	}
	resp.Data = data
	return fl.fs.finish("read", nil, 0)
}

// Symlink represents a symbolic link
type Symlink struct {
	fs   *FS
	node resolver.Node
}

var (
	_ fs.Node           = (*Symlink)(nil)
	_ fs.NodeReadlinker = (*Symlink)(nil)
)

func (s *Symlink) Attr(ctx context.Context, a *fuse.Attr) error {
	return s.fs.finish("getattr", s.fs.attr(ctx, s.node, a), syscall.EIO)
}

func (s *Symlink) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := s.fs.session.Readlink(ctx, s.node)
	if err != nil {
		return "", s.fs.finish("readlink", err, syscall.EINVAL)
	}
	s.fs.finish("readlink", nil, 0)
	return target, nil
}
