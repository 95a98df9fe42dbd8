package directory

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dendrascience/spraydryfs/store"
	"github.com/dendrascience/spraydryfs/util"
)

// FormatVersion tags every encoded directory.
const FormatVersion = 1

type payload struct {
	_ struct{} `cbor:",toarray"`

	Format  uint
	Entries []Entry
}

func byName(a, b Entry) int {
	return strings.Compare(a.Name, b.Name)
}

// Encode serializes entries in name order. The same set of entries always
// encodes to the same bytes.
func Encode(entries []Entry) ([]byte, error) {
	sorted := slices.Clone(entries)
	for _, e := range sorted {
		if err := e.validate(); err != nil {
			return nil, err
		}
	}
	slices.SortFunc(sorted, byName)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return nil, fmt.Errorf("%w: duplicate name %q", util.ErrInvalidEntry, sorted[i].Name)
		}
	}
	if sorted == nil {
		sorted = []Entry{}
	}
	return store.Marshal(payload{Format: FormatVersion, Entries: sorted})
}

// Decode parses an encoded directory into entries sorted by name.
func Decode(data []byte) ([]Entry, error) {
	var p payload
	if err := store.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrCorruptDirectory, err)
	}
	if p.Format != FormatVersion {
		return nil, fmt.Errorf("%w: unknown format version %d", util.ErrCorruptDirectory, p.Format)
	}
	for _, e := range p.Entries {
		if err := e.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrCorruptDirectory, err)
		}
	}
	slices.SortFunc(p.Entries, byName)
	for i := 1; i < len(p.Entries); i++ {
		if p.Entries[i].Name == p.Entries[i-1].Name {
			return nil, fmt.Errorf("%w: duplicate name %q", util.ErrCorruptDirectory, p.Entries[i].Name)
		}
	}
	return p.Entries, nil
}
