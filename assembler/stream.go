package assembler

import (
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/dendrascience/spraydryfs/chunk"
	"github.com/dendrascience/spraydryfs/util"
)

// Segment is one chunk's worth of file content.
type Segment struct {
	Index  int
	Offset uint64
	Data   []byte
}

// Stream walks a file chunk by chunk. It holds no chunk data between calls
// and can be repositioned at any time.
type Stream struct {
	chunks *chunk.Store
	file   *File
	next   int
}

func (s *Stream) File() *File { return s.file }

func (s *Stream) Size() uint64 { return s.file.Size() }

// Len is the number of chunks.
func (s *Stream) Len() int { return len(s.file.Chunks) }

// Next fetches the next chunk, returning io.EOF after the last one.
func (s *Stream) Next(ctx context.Context) (Segment, error) {
	if s.next >= len(s.file.Chunks) {
		return Segment{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Segment{}, err
	}
	i := s.next
	ref := s.file.Chunks[i]
	data, err := s.chunks.Get(ctx, ref.Digest)
	if err != nil {
		return Segment{}, fmt.Errorf("file %s chunk %d: %w", s.file.Digest.Short(), i, err)
	}
	if uint64(len(data)) != ref.Size {
		return Segment{}, fmt.Errorf("%w: file %s chunk %d is %d bytes, file record says %d",
			util.ErrIntegrity, s.file.Digest.Short(), i, len(data), ref.Size)
	}
	s.next++
	return Segment{Index: i, Offset: s.file.offsets[i], Data: data}, nil
}

// SeekChunk positions the stream before chunk i. Seeking to Len() leaves the
// stream at its end.
func (s *Stream) SeekChunk(i int) error {
	if i < 0 || i > len(s.file.Chunks) {
		return fmt.Errorf("%w: chunk %d of %d", util.ErrInvalidArgument, i, len(s.file.Chunks))
	}
	s.next = i
	return nil
}

// SeekOffset positions the stream at the chunk containing off and returns
// that chunk's starting offset. Seeking to the size leaves the stream at its
// end.
func (s *Stream) SeekOffset(off uint64) (uint64, error) {
	if off > s.file.Size() {
		return 0, fmt.Errorf("%w: offset %d past size %d", util.ErrInvalidArgument, off, s.file.Size())
	}
	s.next = s.file.chunkAt(off)
	return s.file.offsets[s.next], nil
}

func (s *Stream) Rewind() {
	s.next = 0
}

// All yields the remaining segments. Iteration stops after the first error.
func (s *Stream) All(ctx context.Context) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		for {
			seg, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(seg, err) || err != nil {
				return
			}
		}
	}
}
