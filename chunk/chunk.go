// Package chunk stores content-addressed blobs, optionally compressed
// against a registered dictionary.
//
// A chunk is keyed by the digest of its decompressed bytes, so identical
// content is stored once regardless of which dictionary compressed it first.
// Every Get decompresses, checks the recorded size and recomputes the digest
// before returning bytes.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/dendrascience/spraydryfs/dictionary"
	"github.com/dendrascience/spraydryfs/internal/metrics"
	"github.com/dendrascience/spraydryfs/store"
	"github.com/dendrascience/spraydryfs/util"
)

// Record is the stored form of a chunk.
type Record struct {
	Dictionary uint32 `cbor:"1,keyasint"`
	Size       uint64 `cbor:"2,keyasint"`
	Payload    []byte `cbor:"3,keyasint"`
}

// Options configures a Store.
type Options struct {
	// CacheMB bounds the verified-chunk cache. Zero disables it.
	CacheMB int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Store is the chunk layer over the record store.
type Store struct {
	records *store.Store
	dicts   *dictionary.Manager
	cache   *bigcache.BigCache
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Totals summarizes every chunk in the store.
type Totals struct {
	Count        int
	StoredBytes  int64
	RawBytes     int64
	ByDictionary map[uint32]int
}

func New(records *store.Store, dicts *dictionary.Manager, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Store{
		records: records,
		dicts:   dicts,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if opts.CacheMB > 0 {
		cfg := bigcache.DefaultConfig(10 * time.Minute)
		cfg.HardMaxCacheSize = opts.CacheMB
		cfg.Shards = 64
		cfg.MaxEntrySize = 64 * 1024
		// Start small; shards grow up to HardMaxCacheSize.
		cfg.MaxEntriesInWindow = cfg.Shards * 4
		cfg.Verbose = false
		cache, err := bigcache.New(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("chunk cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// Put stores data compressed against dictID (0 stores it raw) and returns
// its digest. An unknown dictID fails with util.ErrDictionaryNotFound even
// when the content is already present. Compressed chunks are limited to
// dictionary.MaxDecodedSize bytes.
func (s *Store) Put(ctx context.Context, data []byte, dictID uint32) (util.Digest, error) {
	if dictID != 0 && len(data) > dictionary.MaxDecodedSize {
		return util.ZeroDigest, fmt.Errorf("%w: %d byte chunk exceeds %d for dictionary %d",
			util.ErrInvalidArgument, len(data), dictionary.MaxDecodedSize, dictID)
	}
	known, err := s.dicts.Has(ctx, dictID)
	if err != nil {
		return util.ZeroDigest, err
	}
	if !known {
		return util.ZeroDigest, fmt.Errorf("%w: %d", util.ErrDictionaryNotFound, dictID)
	}

	d := util.Sum(data)
	key := store.ChunkKey(d)
	if ok, err := s.records.Has(ctx, key); err != nil {
		return util.ZeroDigest, err
	} else if ok {
		return d, nil
	}

	rec := Record{Dictionary: dictID, Size: uint64(len(data)), Payload: data}
	if dictID != 0 {
		rec.Payload, err = s.dicts.Compress(ctx, dictID, data)
		if err != nil {
			return util.ZeroDigest, err
		}
	}
	value, err := store.Marshal(rec)
	if err != nil {
		return util.ZeroDigest, fmt.Errorf("encode chunk %s: %w", d.Short(), err)
	}
	inserted, err := s.records.PutIfAbsent(ctx, key, value)
	if err != nil {
		return util.ZeroDigest, fmt.Errorf("put chunk %s: %w", d.Short(), err)
	}
	if inserted {
		s.log.Debug("chunk stored", "digest", d.Short(), "size", len(data), "stored", len(rec.Payload), "dictionary", dictID)
	}
	return d, nil
}

func (s *Store) record(ctx context.Context, d util.Digest) (Record, error) {
	value, err := s.records.Get(ctx, store.ChunkKey(d))
	if errors.Is(err, util.ErrNotFound) {
		return Record{}, fmt.Errorf("chunk %s: %w", d, util.ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := store.Unmarshal(value, &rec); err != nil {
		return Record{}, s.integrity(d, fmt.Errorf("%w: chunk %s record: %v", util.ErrIntegrity, d, err))
	}
	return rec, nil
}

func (s *Store) integrity(d util.Digest, err error) error {
	s.metrics.IntegrityFailure("chunk")
	s.log.Warn("chunk failed verification", "digest", d.String(), "error", err)
	return err
}

// Get returns the verified decompressed bytes of chunk d.
func (s *Store) Get(ctx context.Context, d util.Digest) ([]byte, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(string(d[:])); err == nil {
			s.metrics.ChunkCacheHit()
			return data, nil
		}
	}

	rec, err := s.record(ctx, d)
	if err != nil {
		return nil, err
	}
	s.metrics.ChunkRead()

	var data []byte
	if rec.Dictionary == 0 {
		data = rec.Payload
		if uint64(len(data)) != rec.Size {
			return nil, s.integrity(d, fmt.Errorf("%w: chunk %s: bad chunk size: got %d bytes, expected %d",
				util.ErrIntegrity, d, len(data), rec.Size))
		}
	} else {
		if rec.Size > dictionary.MaxDecodedSize {
			return nil, s.integrity(d, fmt.Errorf("%w: chunk %s: recorded size %d exceeds %d",
				util.ErrIntegrity, d, rec.Size, dictionary.MaxDecodedSize))
		}
		data, err = s.dicts.Decompress(ctx, rec.Dictionary, rec.Payload, int(rec.Size))
		if errors.Is(err, util.ErrIntegrity) {
			return nil, s.integrity(d, fmt.Errorf("chunk %s: %w", d, err))
		}
		if err != nil {
			return nil, err
		}
	}

	if got := util.Sum(data); got != d {
		return nil, s.integrity(d, fmt.Errorf("%w: chunk %s hashed to %s", util.ErrIntegrity, d, got))
	}

	if s.cache != nil {
		if err := s.cache.Set(string(d[:]), data); err != nil {
			s.log.Debug("chunk not cached", "digest", d.Short(), "error", err)
		}
	}
	return data, nil
}

// Size returns the decompressed length recorded for chunk d.
func (s *Store) Size(ctx context.Context, d util.Digest) (uint64, error) {
	rec, err := s.record(ctx, d)
	if err != nil {
		return 0, err
	}
	return rec.Size, nil
}

func (s *Store) Has(ctx context.Context, d util.Digest) (bool, error) {
	return s.records.Has(ctx, store.ChunkKey(d))
}

// Totals scans every chunk record without decompressing payloads.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	t := Totals{ByDictionary: make(map[uint32]int)}
	err := s.records.Scan(ctx, store.ChunkPrefix, func(key, value []byte) error {
		var rec Record
		if err := store.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("%w: chunk record %x: %v", util.ErrIntegrity, key, err)
		}
		t.Count++
		t.StoredBytes += int64(len(rec.Payload))
		t.RawBytes += int64(rec.Size)
		t.ByDictionary[rec.Dictionary]++
		return nil
	})
	return t, err
}

// Digests calls fn for every stored chunk digest in key order.
func (s *Store) Digests(ctx context.Context, fn func(util.Digest) error) error {
	return s.records.Scan(ctx, store.ChunkPrefix, func(key, _ []byte) error {
		d, ok := store.DigestFromKey(key)
		if !ok {
			return fmt.Errorf("%w: malformed chunk key %x", util.ErrIntegrity, key)
		}
		return fn(d)
	})
}
