package dictionary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dendrascience/spraydryfs/store"
	"github.com/dendrascience/spraydryfs/util"
	"github.com/klauspost/compress/zstd"
)

// MinSize is the shortest dictionary zstd accepts as raw content.
const MinSize = 8

// MaxDecodedSize caps the memory a single decompression may claim. Chunks
// compressed against a dictionary may not be larger.
const MaxDecodedSize = 64 << 20

// Entry is a registered dictionary.
type Entry struct {
	ID   uint32 `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Manager registers dictionaries and compresses against them.
type Manager struct {
	store *store.Store
	log   *slog.Logger

	mu     sync.Mutex
	codecs map[uint32]*codec
}

func New(s *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		log:    logger,
		codecs: make(map[uint32]*codec),
	}
}

// Register stores data under id. Registering the same bytes twice is a
// no-op; registering different bytes under a taken id fails with
// util.ErrAlreadyExists.
func (m *Manager) Register(ctx context.Context, id uint32, data []byte) error {
	if id == 0 {
		return fmt.Errorf("%w: id 0 is reserved for raw chunks", util.ErrInvalidDictionary)
	}
	if len(data) < MinSize {
		return fmt.Errorf("%w: dictionary %d is %d bytes, need at least %d",
			util.ErrInvalidDictionary, id, len(data), MinSize)
	}
	value, err := store.Marshal(Entry{ID: id, Data: data})
	if err != nil {
		return fmt.Errorf("encode dictionary %d: %w", id, err)
	}
	inserted, err := m.store.PutIfAbsent(ctx, store.DictionaryKey(id), value)
	if err != nil {
		return fmt.Errorf("register dictionary %d: %w", id, err)
	}
	if inserted {
		m.log.Info("dictionary registered", "id", id, "size", len(data))
		return nil
	}
	existing, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !bytes.Equal(existing.Data, data) {
		return fmt.Errorf("%w: dictionary %d holds different content", util.ErrAlreadyExists, id)
	}
	return nil
}

// Get loads dictionary id, failing with util.ErrDictionaryNotFound.
func (m *Manager) Get(ctx context.Context, id uint32) (Entry, error) {
	value, err := m.store.Get(ctx, store.DictionaryKey(id))
	if errors.Is(err, util.ErrNotFound) {
		return Entry{}, fmt.Errorf("%w: %d", util.ErrDictionaryNotFound, id)
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := store.Unmarshal(value, &e); err != nil {
		return Entry{}, fmt.Errorf("decode dictionary %d: %w", id, err)
	}
	return e, nil
}

// Has reports whether id is registered. Id 0 is always present.
func (m *Manager) Has(ctx context.Context, id uint32) (bool, error) {
	if id == 0 {
		return true, nil
	}
	m.mu.Lock()
	_, cached := m.codecs[id]
	m.mu.Unlock()
	if cached {
		return true, nil
	}
	return m.store.Has(ctx, store.DictionaryKey(id))
}

// IDs lists registered dictionaries in ascending order.
func (m *Manager) IDs(ctx context.Context) ([]uint32, error) {
	var ids []uint32
	err := m.store.Scan(ctx, store.DictionaryPrefix, func(key, _ []byte) error {
		if id, ok := store.DictionaryIDFromKey(key); ok {
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

func (m *Manager) codec(ctx context.Context, id uint32) (*codec, error) {
	m.mu.Lock()
	c, ok := m.codecs[id]
	m.mu.Unlock()
	if ok {
		return c, nil
	}

	e, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderDictRaw(id, e.Data),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: dictionary %d: %v", util.ErrInvalidDictionary, id, err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderDictRaw(id, e.Data),
		zstd.WithDecoderMaxMemory(MaxDecodedSize),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("%w: dictionary %d: %v", util.ErrInvalidDictionary, id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.codecs[id]; ok {
		enc.Close()
		dec.Close()
		return existing, nil
	}
	c = &codec{enc: enc, dec: dec}
	m.codecs[id] = c
	return c, nil
}

// Compress encodes raw against dictionary id.
func (m *Manager) Compress(ctx context.Context, id uint32, raw []byte) ([]byte, error) {
	c, err := m.codec(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(raw, nil), nil
}

// Decompress decodes payload against dictionary id. A payload that does not
// decode, or decodes to other than size bytes, is reported as
// util.ErrIntegrity.
func (m *Manager) Decompress(ctx context.Context, id uint32, payload []byte, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative chunk size %d", util.ErrIntegrity, size)
	}
	if size > MaxDecodedSize {
		return nil, fmt.Errorf("%w: chunk size %d exceeds %d", util.ErrIntegrity, size, MaxDecodedSize)
	}
	c, err := m.codec(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := c.dec.DecodeAll(payload, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decode with dictionary %d: %v", util.ErrIntegrity, id, err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("%w: bad chunk size: got %d bytes, expected %d", util.ErrIntegrity, len(out), size)
	}
	return out, nil
}

// Close releases cached encoders and decoders.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.codecs {
		c.enc.Close()
		c.dec.Close()
		delete(m.codecs, id)
	}
}
