package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dendrascience/spraydryfs/internal/fixture"
	"github.com/dendrascience/spraydryfs/store"
	"github.com/dendrascience/spraydryfs/util"
	"github.com/spf13/cobra"
)

// NewStatsCmd creates and returns the stats subcommand.
func NewStatsCmd(g *globalOptions) *cobra.Command {
	var (
		savePath string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the records held by a store",
		Long: `Count chunks, files, dictionaries, roots and versions, and report how
much the stored chunks were compressed.

With --save the summary is also written as JSON, to PATH itself if it ends in
.json and to PATH/metadata.json otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			stack, err := a.openStack()
			if err != nil {
				return err
			}
			defer stack.Close()

			md, err := collectStats(cmd.Context(), stack, time.Now())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(md); err != nil {
					return err
				}
			} else {
				printStats(cmd.OutOrStdout(), md)
			}
			if savePath != "" {
				if err := md.Save(savePath); err != nil {
					return fmt.Errorf("save metadata: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	cmd.Flags().StringVar(&savePath, "save", "", "Also write the summary as JSON to this path")
	return cmd
}

func collectStats(ctx context.Context, s *fixture.Stack, now time.Time) (util.Metadata, error) {
	md := util.NewMetadata(now)

	totals, err := s.Chunks.Totals(ctx)
	if err != nil {
		return md, fmt.Errorf("chunks: %w", err)
	}
	md.ChunkCount = totals.Count
	md.CompressedSize = totals.StoredBytes
	md.UncompressedSize = totals.RawBytes
	md.DictionaryChunks = totals.Count - totals.ByDictionary[0]

	files, err := s.Store.Count(ctx, store.FilePrefix)
	if err != nil {
		return md, fmt.Errorf("files: %w", err)
	}
	md.FileCount = files.Count

	ids, err := s.Dicts.IDs(ctx)
	if err != nil {
		return md, fmt.Errorf("dictionaries: %w", err)
	}
	md.DictionaryCount = len(ids)

	roots, err := s.Registry.Roots(ctx)
	if err != nil {
		return md, fmt.Errorf("roots: %w", err)
	}
	md.RootCount = len(roots)
	for _, r := range roots {
		versions, err := s.Registry.Versions(ctx, r.Name)
		if err != nil {
			return md, fmt.Errorf("versions of %q: %w", r.Name, err)
		}
		for _, v := range versions {
			md.ObserveVersion(v.CreatedAt)
		}
	}
	return md, nil
}

func printStats(w io.Writer, md util.Metadata) {
	fmt.Fprintf(w, "Roots: %d\n", md.RootCount)
	fmt.Fprintf(w, "Versions: %d\n", md.VersionCount)
	if md.VersionCount > 0 {
		fmt.Fprintf(w, "Oldest version: %s\n", md.OldestVersionTS.UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Newest version: %s\n", md.NewestVersionTS.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Files: %d\n", md.FileCount)
	fmt.Fprintf(w, "Chunks: %d (%d compressed with a dictionary)\n", md.ChunkCount, md.DictionaryChunks)
	fmt.Fprintf(w, "Dictionaries: %d\n", md.DictionaryCount)
	fmt.Fprintf(w, "Chunk bytes: %d stored, %d raw (ratio %.2f)\n", md.CompressedSize, md.UncompressedSize, md.CompressionRatio())
}
