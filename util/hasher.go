package util

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// DigestSize is the width of every digest in bytes.
const DigestSize = 32

// DigestAlgorithm is the name prefixed to the text form of a digest.
const DigestAlgorithm = "blake3"

// Digest identifies chunks, files and directories by their decompressed content.
type Digest [DigestSize]byte

// ZeroDigest is never produced by Sum; it marks an unset digest.
var ZeroDigest Digest

// Sum computes the digest of data.
func Sum(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// Hasher accumulates writes and produces the same digest Sum would produce
// over their concatenation.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns an empty streaming hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Digest returns the digest of everything written so far.
func (h *Hasher) Digest() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

// GetHash calculates the digest of everything read from r.
func GetHash(r io.Reader) (Digest, error) {
	h := NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return ZeroDigest, err
	}
	return h.Digest(), nil
}

// String returns the digest as "blake3-<hex>".
func (d Digest) String() string {
	return DigestAlgorithm + "-" + hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for log lines.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:6])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == ZeroDigest
}

// Equal compares two digests.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d[:], other[:])
}

// ParseDigest parses the text form produced by String.
func ParseDigest(s string) (Digest, error) {
	algo, hexPart, ok := strings.Cut(s, "-")
	if !ok || algo != DigestAlgorithm {
		return ZeroDigest, fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	if len(hexPart) != DigestSize*2 {
		return ZeroDigest, fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	var d Digest
	if _, err := hex.Decode(d[:], []byte(hexPart)); err != nil {
		return ZeroDigest, fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	return d, nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
