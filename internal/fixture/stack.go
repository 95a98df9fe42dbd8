// Package fixture populates stores with synthetic trees. It sits on the
// ingestion side of the store: it puts chunks, assembles files, encodes
// directories and appends versions, which is everything an importer does
// short of walking a real filesystem. Tests use it to build trees and the
// seed command uses it to fill a store for manual mounting.
package fixture

import (
	"errors"
	"log/slog"

	"github.com/dendrascience/spraydryfs/assembler"
	"github.com/dendrascience/spraydryfs/chunk"
	"github.com/dendrascience/spraydryfs/dictionary"
	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/internal/metrics"
	"github.com/dendrascience/spraydryfs/registry"
	"github.com/dendrascience/spraydryfs/store"
)

// Stack wires every layer over one record store.
type Stack struct {
	Store    *store.Store
	Dicts    *dictionary.Manager
	Chunks   *chunk.Store
	Files    *assembler.Assembler
	Dirs     *directory.Codec
	Registry *registry.Registry
}

// StackOptions configures OpenStack.
type StackOptions struct {
	Store        store.Options
	ChunkCacheMB int
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// OpenStack opens the record store and builds the layers above it.
func OpenStack(opts StackOptions) (*Stack, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store.Logger == nil {
		opts.Store.Logger = opts.Logger
	}
	records, err := store.Open(opts.Store)
	if err != nil {
		return nil, err
	}
	dicts := dictionary.New(records, opts.Logger)
	chunks, err := chunk.New(records, dicts, chunk.Options{
		CacheMB: opts.ChunkCacheMB,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		dicts.Close()
		records.Close()
		return nil, err
	}
	files := assembler.New(records, chunks, opts.Logger)
	dirs := directory.NewCodec(chunks, files, opts.Logger)
	return &Stack{
		Store:    records,
		Dicts:    dicts,
		Chunks:   chunks,
		Files:    files,
		Dirs:     dirs,
		Registry: registry.New(records, dirs, opts.Logger),
	}, nil
}

// OpenMemoryStack is OpenStack over an in-memory store.
func OpenMemoryStack(logger *slog.Logger) (*Stack, error) {
	return OpenStack(StackOptions{Store: store.Options{InMemory: true}, Logger: logger})
}

func (s *Stack) Close() error {
	s.Dicts.Close()
	return errors.Join(s.Chunks.Close(), s.Store.Close())
}
