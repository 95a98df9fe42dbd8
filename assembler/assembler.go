package assembler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dendrascience/spraydryfs/chunk"
	"github.com/dendrascience/spraydryfs/store"
	"github.com/dendrascience/spraydryfs/util"
)

// ChunkRef is one entry of a file's chunk list.
type ChunkRef struct {
	Digest util.Digest `cbor:"1,keyasint"`
	Size   uint64      `cbor:"2,keyasint"`
}

// Record is the stored form of a file.
type Record struct {
	Chunks []ChunkRef `cbor:"1,keyasint"`
}

// File is a loaded file record with its prefix sums.
type File struct {
	Digest util.Digest
	Chunks []ChunkRef
	// offsets[i] is the start of chunk i; offsets[len(Chunks)] is the size.
	offsets []uint64
}

func newFile(d util.Digest, refs []ChunkRef) *File {
	offsets := make([]uint64, len(refs)+1)
	for i, ref := range refs {
		offsets[i+1] = offsets[i] + ref.Size
	}
	return &File{Digest: d, Chunks: refs, offsets: offsets}
}

// Size is the total decompressed length.
func (f *File) Size() uint64 {
	return f.offsets[len(f.Chunks)]
}

// ChunkOffset returns where chunk i starts.
func (f *File) ChunkOffset(i int) uint64 {
	return f.offsets[i]
}

// chunkAt returns the index of the chunk holding byte off, or len(Chunks)
// when off is at or past the end.
func (f *File) chunkAt(off uint64) int {
	return sort.Search(len(f.Chunks), func(i int) bool {
		return f.offsets[i+1] > off
	})
}

type Assembler struct {
	records *store.Store
	chunks  *chunk.Store
	log     *slog.Logger
}

func New(records *store.Store, chunks *chunk.Store, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{records: records, chunks: chunks, log: logger}
}

// Assemble records a file made of the given chunks, in order, and returns
// its digest. Every chunk must exist and pass verification.
func (a *Assembler) Assemble(ctx context.Context, digests []util.Digest) (util.Digest, error) {
	h := util.NewHasher()
	refs := make([]ChunkRef, 0, len(digests))
	for i, cd := range digests {
		data, err := a.chunks.Get(ctx, cd)
		if err != nil {
			return util.ZeroDigest, fmt.Errorf("assemble chunk %d: %w", i, err)
		}
		h.Write(data)
		refs = append(refs, ChunkRef{Digest: cd, Size: uint64(len(data))})
	}
	d := h.Digest()

	value, err := store.Marshal(Record{Chunks: refs})
	if err != nil {
		return util.ZeroDigest, fmt.Errorf("encode file %s: %w", d.Short(), err)
	}
	inserted, err := a.records.PutIfAbsent(ctx, store.FileKey(d), value)
	if err != nil {
		return util.ZeroDigest, fmt.Errorf("put file %s: %w", d.Short(), err)
	}
	if inserted {
		a.log.Debug("file assembled", "digest", d.Short(), "chunks", len(refs))
	}
	return d, nil
}

// Load reads the record of file d.
func (a *Assembler) Load(ctx context.Context, d util.Digest) (*File, error) {
	value, err := a.records.Get(ctx, store.FileKey(d))
	if errors.Is(err, util.ErrNotFound) {
		return nil, fmt.Errorf("file %s: %w", d, util.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := store.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("%w: file %s record: %v", util.ErrIntegrity, d, err)
	}
	return newFile(d, rec.Chunks), nil
}

func (a *Assembler) Has(ctx context.Context, d util.Digest) (bool, error) {
	return a.records.Has(ctx, store.FileKey(d))
}

func (a *Assembler) Size(ctx context.Context, d util.Digest) (uint64, error) {
	f, err := a.Load(ctx, d)
	if err != nil {
		return 0, err
	}
	return f.Size(), nil
}

// Stream opens a lazy reader over file d.
func (a *Assembler) Stream(ctx context.Context, d util.Digest) (*Stream, error) {
	f, err := a.Load(ctx, d)
	if err != nil {
		return nil, err
	}
	return &Stream{chunks: a.chunks, file: f}, nil
}

// ReadAll returns the whole file and checks it against its digest.
func (a *Assembler) ReadAll(ctx context.Context, d util.Digest) ([]byte, error) {
	s, err := a.Stream(ctx, d)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(int(s.Size()))
	h := util.NewHasher()
	for seg, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		buf.Write(seg.Data)
		h.Write(seg.Data)
	}
	if got := h.Digest(); got != d {
		return nil, fmt.Errorf("%w: file %s reassembled to %s", util.ErrIntegrity, d, got)
	}
	return buf.Bytes(), nil
}

// maxPrealloc bounds the buffer sized from a file record before any chunk
// has been read.
const maxPrealloc = 8 << 20

// ReadRange returns up to length bytes starting at offset. Ranges that run
// past the end are clipped; an offset at or past the end yields no bytes.
func (a *Assembler) ReadRange(ctx context.Context, d util.Digest, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", util.ErrInvalidArgument, offset, length)
	}
	f, err := a.Load(ctx, d)
	if err != nil {
		return nil, err
	}
	return a.readRange(ctx, f, uint64(offset), uint64(length))
}

func (a *Assembler) readRange(ctx context.Context, f *File, start, length uint64) ([]byte, error) {
	size := f.Size()
	if start >= size || length == 0 {
		return []byte{}, nil
	}
	end := size
	if length < size-start {
		end = start + length
	}

	out := make([]byte, 0, min(end-start, maxPrealloc))
	for i := f.chunkAt(start); i < len(f.Chunks) && f.offsets[i] < end; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := a.chunks.Get(ctx, f.Chunks[i].Digest)
		if err != nil {
			return nil, fmt.Errorf("file %s chunk %d: %w", f.Digest.Short(), i, err)
		}
		if uint64(len(data)) != f.Chunks[i].Size {
			return nil, fmt.Errorf("%w: file %s chunk %d is %d bytes, file record says %d",
				util.ErrIntegrity, f.Digest.Short(), i, len(data), f.Chunks[i].Size)
		}
		lo := uint64(0)
		if start > f.offsets[i] {
			lo = start - f.offsets[i]
		}
		hi := f.Chunks[i].Size
		if end < f.offsets[i+1] {
			hi = end - f.offsets[i]
		}
		out = append(out, data[lo:hi]...)
	}
	return out, nil
}

// ReadFileRange is ReadRange over an already loaded file.
func (a *Assembler) ReadFileRange(ctx context.Context, f *File, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", util.ErrInvalidArgument, offset, length)
	}
	return a.readRange(ctx, f, uint64(offset), uint64(length))
}
