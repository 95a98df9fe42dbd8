package directory

import (
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dendrascience/spraydryfs/util"
)

// Kind is the type of object a directory entry points at.
type Kind uint8

const (
	KindFile      Kind = 1
	KindDirectory Kind = 2
	KindSymlink   Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) Valid() bool {
	return k == KindFile || k == KindDirectory || k == KindSymlink
}

// FileMode returns the fs.FileMode type bits for k.
func (k Kind) FileMode() fs.FileMode {
	switch k {
	case KindDirectory:
		return fs.ModeDir
	case KindSymlink:
		return fs.ModeSymlink
	default:
		return 0
	}
}

// PermMask covers the permission, setuid, setgid and sticky bits an entry
// may carry.
const PermMask = 0o7777

// Entry is one name in a directory.
type Entry struct {
	_ struct{} `cbor:",toarray"`

	Name string
	Kind Kind
	// Target is the file digest holding the entry's content: file bytes,
	// an encoded directory, or symlink text.
	Target util.Digest
	Mode   uint32
	// Size is the content length of Target.
	Size  uint64
	Mtime int64
}

// ModTime converts Mtime, nanoseconds since the epoch, to a time.Time.
func (e Entry) ModTime() time.Time {
	return time.Unix(0, e.Mtime)
}

// FileMode combines the kind's type bits with the entry's permissions.
func (e Entry) FileMode() fs.FileMode {
	return e.Kind.FileMode() | fs.FileMode(e.Mode&0o777) | extraBits(e.Mode)
}

func extraBits(mode uint32) fs.FileMode {
	var m fs.FileMode
	if mode&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if mode&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if mode&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	return m
}

// ValidateName reports whether name can appear in a directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", util.ErrInvalidEntry)
	case name == "." || name == "..":
		return fmt.Errorf("%w: reserved name %q", util.ErrInvalidEntry, name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: name %q contains a separator or NUL", util.ErrInvalidEntry, name)
	}
	return nil
}

func (e Entry) validate() error {
	if err := ValidateName(e.Name); err != nil {
		return err
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q has unknown %s", util.ErrInvalidEntry, e.Name, e.Kind)
	}
	if e.Mode&^PermMask != 0 {
		return fmt.Errorf("%w: %q mode %o has bits outside %o", util.ErrInvalidEntry, e.Name, e.Mode, PermMask)
	}
	return nil
}
