// Package registry keeps named roots and their append-only version history.
//
// A root's record holds its head sequence. Appending a version reads and
// rewrites that one record inside a transaction, so two appends to the same
// root can never both commit the same sequence. Within a process appends to
// a root are also serialized by a per-root mutex; the transaction covers
// writers in other processes. Appends to different roots never contend.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/store"
	"github.com/dendrascience/spraydryfs/util"
)

// MaxAppendAttempts bounds retries of a conflicting version append.
const MaxAppendAttempts = 5

// Root is a named version history.
type Root struct {
	Name      string
	CreatedAt time.Time
	// Head is the latest sequence number, 0 before the first version.
	Head uint64
}

// Version pins a root to one directory digest.
type Version struct {
	Root      string
	Sequence  uint64
	Directory util.Digest
	CreatedAt time.Time
}

type rootRecord struct {
	Name      string `cbor:"1,keyasint"`
	CreatedAt int64  `cbor:"2,keyasint"`
	Head      uint64 `cbor:"3,keyasint"`
}

type versionRecord struct {
	Root      string      `cbor:"1,keyasint"`
	Sequence  uint64      `cbor:"2,keyasint"`
	Directory util.Digest `cbor:"3,keyasint"`
	CreatedAt int64       `cbor:"4,keyasint"`
}

func (r rootRecord) root() Root {
	return Root{Name: r.Name, CreatedAt: time.Unix(0, r.CreatedAt).UTC(), Head: r.Head}
}

func (v versionRecord) version() Version {
	return Version{
		Root:      v.Root,
		Sequence:  v.Sequence,
		Directory: v.Directory,
		CreatedAt: time.Unix(0, v.CreatedAt).UTC(),
	}
}

type Registry struct {
	records *store.Store
	dirs    *directory.Codec
	log     *slog.Logger
	now     func() time.Time

	locks sync.Map // root name -> *sync.Mutex

	// appendHook runs inside the append transaction after the root is read.
	appendHook func(attempt int)
}

func New(records *store.Store, dirs *directory.Codec, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{records: records, dirs: dirs, log: logger, now: time.Now}
}

// ValidateRootName reports whether name can be used for a root.
func ValidateRootName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: root name %q", util.ErrInvalidArgument, name)
	}
	return nil
}

func (r *Registry) lock(root string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(root, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateRoot registers an empty root.
func (r *Registry) CreateRoot(ctx context.Context, name string) (Root, error) {
	if err := ValidateRootName(name); err != nil {
		return Root{}, err
	}
	rec := rootRecord{Name: name, CreatedAt: r.now().UnixNano()}
	value, err := store.Marshal(rec)
	if err != nil {
		return Root{}, err
	}
	inserted, err := r.records.PutIfAbsent(ctx, store.RootKey(name), value)
	if err != nil {
		return Root{}, fmt.Errorf("create root %q: %w", name, err)
	}
	if !inserted {
		return Root{}, fmt.Errorf("root %q: %w", name, util.ErrAlreadyExists)
	}
	r.log.Info("root created", "root", name)
	return rec.root(), nil
}

func decodeRoot(name string, value []byte) (rootRecord, error) {
	var rec rootRecord
	if err := store.Unmarshal(value, &rec); err != nil {
		return rec, fmt.Errorf("%w: root %q record: %v", util.ErrIntegrity, name, err)
	}
	return rec, nil
}

// Root returns the named root.
func (r *Registry) Root(ctx context.Context, name string) (Root, error) {
	value, err := r.records.Get(ctx, store.RootKey(name))
	if errors.Is(err, util.ErrNotFound) {
		return Root{}, fmt.Errorf("root %q: %w", name, util.ErrNotFound)
	}
	if err != nil {
		return Root{}, err
	}
	rec, err := decodeRoot(name, value)
	if err != nil {
		return Root{}, err
	}
	return rec.root(), nil
}

// AppendVersion makes dir the newest version of root. dir must be a stored,
// decodable directory.
func (r *Registry) AppendVersion(ctx context.Context, root string, dir util.Digest) (Version, error) {
	mu := r.lock(root)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.Root(ctx, root); err != nil {
		return Version{}, err
	}
	if _, err := r.dirs.Read(ctx, dir); err != nil {
		return Version{}, fmt.Errorf("append to %q: %w", root, err)
	}

	for attempt := 1; attempt <= MaxAppendAttempts; attempt++ {
		v, err := r.tryAppend(ctx, root, dir, attempt)
		if errors.Is(err, store.ErrConflict) {
			r.log.Debug("version append conflicted", "root", root, "attempt", attempt)
			continue
		}
		if err != nil {
			return Version{}, err
		}
		r.log.Info("version appended", "root", root, "sequence", v.Sequence, "directory", dir.Short())
		return v, nil
	}
	return Version{}, fmt.Errorf("append to %q after %d attempts: %w", root, MaxAppendAttempts, util.ErrSequenceConflict)
}

func (r *Registry) tryAppend(ctx context.Context, root string, dir util.Digest, attempt int) (Version, error) {
	var out versionRecord
	err := r.records.Update(ctx, func(txn *store.Txn) error {
		value, err := txn.Get(store.RootKey(root))
		if errors.Is(err, util.ErrNotFound) {
			return fmt.Errorf("root %q: %w", root, util.ErrNotFound)
		}
		if err != nil {
			return err
		}
		rec, err := decodeRoot(root, value)
		if err != nil {
			return err
		}
		if r.appendHook != nil {
			r.appendHook(attempt)
		}

		out = versionRecord{
			Root:      root,
			Sequence:  rec.Head + 1,
			Directory: dir,
			CreatedAt: r.now().UnixNano(),
		}
		vValue, err := store.Marshal(out)
		if err != nil {
			return err
		}
		if err := txn.Set(store.VersionKey(root, out.Sequence), vValue); err != nil {
			return err
		}
		rec.Head = out.Sequence
		rValue, err := store.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(store.RootKey(root), rValue)
	})
	if err != nil {
		return Version{}, err
	}
	return out.version(), nil
}

// At returns version seq of root.
func (r *Registry) At(ctx context.Context, root string, seq uint64) (Version, error) {
	value, err := r.records.Get(ctx, store.VersionKey(root, seq))
	if errors.Is(err, util.ErrNotFound) {
		if _, rerr := r.Root(ctx, root); rerr != nil {
			return Version{}, rerr
		}
		return Version{}, fmt.Errorf("root %q version %d: %w", root, seq, util.ErrNotFound)
	}
	if err != nil {
		return Version{}, err
	}
	var rec versionRecord
	if err := store.Unmarshal(value, &rec); err != nil {
		return Version{}, fmt.Errorf("%w: root %q version %d record: %v", util.ErrIntegrity, root, seq, err)
	}
	return rec.version(), nil
}

// Latest returns the newest version of root. A root without versions
// reports util.ErrNotFound.
func (r *Registry) Latest(ctx context.Context, root string) (Version, error) {
	rt, err := r.Root(ctx, root)
	if err != nil {
		return Version{}, err
	}
	if rt.Head == 0 {
		return Version{}, fmt.Errorf("root %q has no versions: %w", root, util.ErrNotFound)
	}
	return r.At(ctx, root, rt.Head)
}

// Roots lists every root in name order.
func (r *Registry) Roots(ctx context.Context) ([]Root, error) {
	var roots []Root
	err := r.records.Scan(ctx, store.RootPrefix, func(key, value []byte) error {
		name := string(key[len(store.RootPrefix):])
		rec, err := decodeRoot(name, value)
		if err != nil {
			return err
		}
		roots = append(roots, rec.root())
		return nil
	})
	return roots, err
}

// Versions lists root's history, oldest first.
func (r *Registry) Versions(ctx context.Context, root string) ([]Version, error) {
	if _, err := r.Root(ctx, root); err != nil {
		return nil, err
	}
	var versions []Version
	err := r.records.Scan(ctx, store.VersionsKey(root), func(key, value []byte) error {
		var rec versionRecord
		if err := store.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("%w: version record %x: %v", util.ErrIntegrity, key, err)
		}
		versions = append(versions, rec.version())
		return nil
	})
	return versions, err
}
