// Package spraydryfs serves a pinned version of a spraydryfs root over FUSE.
//
// Every node is backed by a resolver.Session, so the whole mount sees one
// immutable tree no matter how many versions are appended while it is
// mounted. The filesystem is read-only: opens for writing fail with EACCES
// and the mount itself is made with the kernel's read-only flag.
//
// Inode numbers come from a util.InodeTable keyed by path and live as long as
// the FS. Errors from the lower layers are mapped to errno values here and
// nowhere else; anything that is not a lookup miss or a misuse of a node
// becomes EIO and is logged.
//
// The main entry point is New, whose result is passed to bazil's fs.Serve.
package spraydryfs
