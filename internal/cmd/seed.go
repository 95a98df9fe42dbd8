package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/dendrascience/spraydryfs/internal/fixture"
	"github.com/dendrascience/spraydryfs/registry"
	"github.com/dendrascience/spraydryfs/util"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type seedOptions struct {
	files      int
	versions   int
	buckets    int
	dictPath   string
	dictID     uint32
	fixedChunk int
}

// NewSeedCmd creates and returns the seed subcommand.
// It fills a store with synthetic versions of a root for testing mounts.
func NewSeedCmd(g *globalOptions) *cobra.Command {
	opts := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed ROOT",
		Short: "Append synthetic versions to a root",
		Long: `Generate small JSON files and commit them as new versions of ROOT,
creating the root if needed.

Each version adds --files new files to everything the previous version held,
so successive versions share most of their chunks. Files are spread over
--buckets directories by a hash of their content. Content is drawn from a
small pool of UUIDs so that identical files deduplicate.

With --dictionary the file is registered as a zstd dictionary and every chunk
is compressed against it.`,
		Args: cobra.ExactArgs(1),
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
			_, err = seed(cmd.Context(), cmd.OutOrStdout(), stack, args[0], opts, a.log)
			return err
		},
	}

	cmd.Flags().IntVarP(&opts.files, "files", "n", 1000, "Files added per version")
	cmd.Flags().IntVar(&opts.versions, "versions", 1, "Number of versions to append")
	cmd.Flags().IntVar(&opts.buckets, "buckets", 64, "Number of top-level directories")
	cmd.Flags().StringVar(&opts.dictPath, "dictionary", "", "Register this file as a zstd dictionary and compress with it")
	cmd.Flags().Uint32Var(&opts.dictID, "dictionary-id", 1, "ID to register --dictionary under")
	cmd.Flags().IntVar(&opts.fixedChunk, "fixed-chunk", 0, "Cut chunks every N bytes instead of at content-defined boundaries")

	return cmd
}

func seed(ctx context.Context, w io.Writer, s *fixture.Stack, root string, opts *seedOptions, log *slog.Logger) ([]registry.Version, error) {
	if opts.files < 1 || opts.versions < 1 || opts.buckets < 1 {
		return nil, fmt.Errorf("%w: --files, --versions and --buckets must be positive", util.ErrInvalidArgument)
	}

	b := fixture.NewBuilder(s)
	b.Splitter = fixture.DefaultCDC
	if opts.fixedChunk > 0 {
		b.Splitter = fixture.FixedSplitter{Size: opts.fixedChunk}
	}
	b.Mtime = time.Now()

	if opts.dictPath != "" {
		data, err := os.ReadFile(opts.dictPath)
		if err != nil {
			return nil, fmt.Errorf("read dictionary: %w", err)
		}
		if err := s.Dicts.Register(ctx, opts.dictID, data); err != nil {
			return nil, fmt.Errorf("register dictionary %d: %w", opts.dictID, err)
		}
		b.Dictionary = opts.dictID
		log.Info("dictionary registered", "id", opts.dictID, "bytes", len(data))
	}

	pool := make([]string, 50)
	for i := range pool {
		pool[i] = uuid.New().String()
	}

	tree := fixture.Tree{}
	var versions []registry.Version
	for n := range opts.versions {
		for i := range opts.files {
			content := fmt.Sprintf("{\"id\":%q,\"version\":%d}\n", pool[rand.IntN(len(pool))], n+1)
			p := fmt.Sprintf("%s/%s.json", fixture.Bucket(util.Sum([]byte(content)), opts.buckets), uuid.New().String()[:8])
			if err := tree.Put(p, fixture.File{Data: []byte(content)}); err != nil {
				return versions, err
			}
			if (i+1)%1000 == 0 {
				log.Debug("generated files", "count", i+1, "version", n+1)
			}
		}
		v, err := b.Commit(ctx, root, tree)
		if err != nil {
			return versions, fmt.Errorf("commit version %d: %w", n+1, err)
		}
		versions = append(versions, v)
		fmt.Fprintf(w, "%s@%d\t%s\n", root, v.Sequence, v.Directory)
	}
	return versions, nil
}
