package store

import (
	"encoding/binary"

	"github.com/dendrascience/spraydryfs/util"
)

const (
	chunkPrefix      = "c/"
	filePrefix       = "f/"
	dictionaryPrefix = "d/"
	rootPrefix       = "r/"
	versionPrefix    = "v/"
)

// Prefixes used by Scan and Count.
var (
	ChunkPrefix      = []byte(chunkPrefix)
	FilePrefix       = []byte(filePrefix)
	DictionaryPrefix = []byte(dictionaryPrefix)
	RootPrefix       = []byte(rootPrefix)
	VersionPrefix    = []byte(versionPrefix)
)

func digestKey(prefix string, d util.Digest) []byte {
	key := make([]byte, 0, len(prefix)+util.DigestSize)
	key = append(key, prefix...)
	return append(key, d[:]...)
}

func ChunkKey(d util.Digest) []byte { return digestKey(chunkPrefix, d) }

func FileKey(d util.Digest) []byte { return digestKey(filePrefix, d) }

func DictionaryKey(id uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte(dictionaryPrefix), id)
}

func RootKey(name string) []byte {
	return append([]byte(rootPrefix), name...)
}

// VersionsKey is the prefix shared by every version of root. Root names never
// contain NUL, so one root's versions cannot share a prefix with another's.
func VersionsKey(root string) []byte {
	key := append([]byte(versionPrefix), root...)
	return append(key, 0)
}

// VersionKey sorts versions of a root by sequence under byte ordering.
func VersionKey(root string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(VersionsKey(root), seq)
}

// DigestFromKey recovers the digest from a chunk or file key.
func DigestFromKey(key []byte) (util.Digest, bool) {
	var d util.Digest
	if len(key) != 2+util.DigestSize {
		return d, false
	}
	copy(d[:], key[2:])
	return d, true
}

// DictionaryIDFromKey recovers the id from a dictionary key.
func DictionaryIDFromKey(key []byte) (uint32, bool) {
	if len(key) != len(dictionaryPrefix)+4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(key[len(dictionaryPrefix):]), true
}
