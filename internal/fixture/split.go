package fixture

import (
	"bytes"
	"errors"
	"io"

	"github.com/restic/chunker"
)

// Splitter cuts file content into chunks.
type Splitter interface {
	Split(data []byte) ([][]byte, error)
}

// FixedSplitter cuts every Size bytes. A zero Size stores the whole file as
// one chunk.
type FixedSplitter struct {
	Size int
}

func (f FixedSplitter) Split(data []byte) ([][]byte, error) {
	if f.Size <= 0 || len(data) <= f.Size {
		return [][]byte{data}, nil
	}
	var out [][]byte
	for start := 0; start < len(data); start += f.Size {
		out = append(out, data[start:min(start+f.Size, len(data))])
	}
	return out, nil
}

// Pol is the fixed polynomial content-defined splitting uses, so the same
// bytes always cut at the same places across runs.
const Pol = chunker.Pol(0x3DA3358B4DC173)

// CDCSplitter cuts at content-defined boundaries with a Rabin fingerprint,
// so an insertion early in a file only changes the chunks around it.
type CDCSplitter struct {
	MinSize uint
	MaxSize uint
}

// DefaultCDC suits the small synthetic files the seed command writes.
var DefaultCDC = CDCSplitter{MinSize: 2 * 1024, MaxSize: 64 * 1024}

func (c CDCSplitter) Split(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return [][]byte{data}, nil
	}
	ch := chunker.NewWithBoundaries(bytes.NewReader(data), Pol, c.MinSize, c.MaxSize)
	buf := make([]byte, c.MaxSize)
	var out [][]byte
	for {
		piece, err := ch.Next(buf)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, bytes.Clone(piece.Data))
	}
}
