package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dendrascience/spraydryfs/version"
)

// Metadata summarizes the records held by a store.
type Metadata struct {
	ChunkCount        int       `json:"chunk_count"`
	CompressedSize    int64     `json:"compressed_size"`
	DictionaryCount   int       `json:"dictionary_count"`
	DictionaryChunks  int       `json:"dictionary_chunks"`
	FileCount         int       `json:"file_count"`
	GeneratedAt       time.Time `json:"generated_at"`
	NewestVersionTS   time.Time `json:"newest_version_ts"`
	OldestVersionTS   time.Time `json:"oldest_version_ts"`
	RootCount         int       `json:"root_count"`
	SprayDryFSVersion string    `json:"spraydryfs_version"`
	UncompressedSize  int64     `json:"uncompressed_size"`
	VersionCount      int       `json:"version_count"`
}

// GetVersion returns the current spraydryfs version string.
// It delegates to the version package to get the version information.
func GetVersion() string {
	return version.GetVersion()
}

// NewMetadata returns an empty Metadata stamped with the running version.
func NewMetadata(now time.Time) Metadata {
	return Metadata{
		GeneratedAt:       now,
		SprayDryFSVersion: GetVersion(),
	}
}

// ObserveVersion widens the oldest/newest version window to include ts.
func (m *Metadata) ObserveVersion(ts time.Time) {
	m.VersionCount++
	if m.OldestVersionTS.IsZero() || ts.Before(m.OldestVersionTS) {
		m.OldestVersionTS = ts
	}
	if ts.After(m.NewestVersionTS) {
		m.NewestVersionTS = ts
	}
}

// CompressionRatio is uncompressed over stored chunk bytes; 0 for an empty store.
func (m Metadata) CompressionRatio() float64 {
	if m.CompressedSize == 0 {
		return 0
	}
	return float64(m.UncompressedSize) / float64(m.CompressedSize)
}

func (m Metadata) Save(path string) error {
	if !strings.HasSuffix(path, ".json") {
		path = filepath.Join(path, "metadata.json")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	je := json.NewEncoder(f)
	je.SetIndent("", "  ")
	return je.Encode(m)
}
