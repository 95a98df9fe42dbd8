package util

import (
	"sync"
)

// RootInode is reserved for the root directory of a mount.
const RootInode uint64 = 1

// InodeTable hands out inode numbers for paths. A path keeps its inode for the
// lifetime of the table, which is one mount session.
type InodeTable struct {
	mu      sync.Mutex
	highest uint64
	byPath  map[string]uint64
	byInode map[uint64]string
}

// NewInodeTable returns a table with "/" registered as RootInode.
func NewInodeTable() *InodeTable {
	return &InodeTable{
		highest: RootInode,
		byPath:  map[string]uint64{"/": RootInode},
		byInode: map[uint64]string{RootInode: "/"},
	}
}

// InodeFor returns the inode for path, allocating the next number on first use.
func (t *InodeTable) InodeFor(path string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ino, ok := t.byPath[path]; ok {
		return ino
	}
	t.highest++
	t.byPath[path] = t.highest
	t.byInode[t.highest] = path
	return t.highest
}

// PathFor is the reverse of InodeFor.
func (t *InodeTable) PathFor(inode uint64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, ok := t.byInode[inode]
	if !ok {
		return "", ErrInodeNotFound
	}
	return path, nil
}

// Len returns the number of registered paths, root included.
func (t *InodeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPath)
}
