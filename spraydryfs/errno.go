package spraydryfs

import (
	"context"
	"errors"
	"syscall"

	"bazil.org/fuse"
	"github.com/dendrascience/spraydryfs/util"
)

var errnoNames = map[syscall.Errno]string{
	syscall.ENOENT:       "ENOENT",
	syscall.ENOTDIR:      "ENOTDIR",
	syscall.EISDIR:       "EISDIR",
	syscall.EINVAL:       "EINVAL",
	syscall.ENAMETOOLONG: "ENAMETOOLONG",
	syscall.EACCES:       "EACCES",
	syscall.EINTR:        "EINTR",
	syscall.ESHUTDOWN:    "ESHUTDOWN",
	syscall.EIO:          "EIO",
}

// errnoFor maps a lower-layer error to the errno the kernel sees. notAFile is
// what util.ErrNotAFile becomes, since read and readlink disagree on it.
func errnoFor(err error, notAFile syscall.Errno) syscall.Errno {
	switch {
	case errors.Is(err, util.ErrIntegrity), errors.Is(err, util.ErrCorruptDirectory):
		return syscall.EIO
	case errors.Is(err, util.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, util.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, util.ErrNotAFile):
		return notAFile
	case errors.Is(err, util.ErrPathTooDeep):
		return syscall.ENAMETOOLONG
	case errors.Is(err, util.ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, util.ErrSessionClosed):
		return syscall.ESHUTDOWN
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}

func errnoName(e syscall.Errno) string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return e.Error()
}

// finish records op and converts err for the kernel.
func (f *FS) finish(op string, err error, notAFile syscall.Errno) error {
	if err == nil {
		f.metrics.FuseOp(op, "ok")
		return nil
	}
	var errno fuse.Errno
	if errors.As(err, &errno) {
		f.metrics.FuseOp(op, errnoName(syscall.Errno(errno)))
		return errno
	}
	e := errnoFor(err, notAFile)
	f.metrics.FuseOp(op, errnoName(e))
	if e == syscall.EIO {
		f.log.Error("request failed", "op", op, "err", err)
	} else {
		f.log.Debug("request rejected", "op", op, "errno", errnoName(e), "err", err)
	}
	return fuse.Errno(e)
}
