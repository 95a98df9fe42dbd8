package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/internal/fixture"
	"github.com/dendrascience/spraydryfs/util"
	"github.com/spf13/cobra"
)

// NewValidateCmd creates and returns the validate subcommand.
func NewValidateCmd(g *globalOptions) *cobra.Command {
	var (
		checkChunks bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "validate [ROOT...]",
		Short: "Verify every record reachable from the version history",
		Long: `Validate walks every version of the named roots (all roots when none are
given), decodes every directory and reads every file and symlink, verifying
each chunk and each assembled file against its digest.

With --chunks it also verifies every chunk in the store, reachable or not.
Problems are listed and the command exits non-zero if any were found.`,
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

			v := &validator{stack: stack, maxDepth: a.cfg.Mount.MaxDepth, log: a.log}
			if err := v.run(cmd.Context(), args, checkChunks); err != nil {
				return err
			}
			v.report.print(cmd.OutOrStdout(), verbose)
			if n := len(v.report.Problems); n > 0 {
				return fmt.Errorf("%d problems found", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkChunks, "chunks", false, "Also verify every stored chunk")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every problem, not just the first few")

	return cmd
}

type validationReport struct {
	Roots       int
	Versions    int
	Directories int
	Files       int
	Symlinks    int
	Chunks      int
	Problems    []string
}

func (r *validationReport) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

func (r validationReport) print(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "Roots: %d\n", r.Roots)
	fmt.Fprintf(w, "Versions: %d\n", r.Versions)
	fmt.Fprintf(w, "Directories: %d\n", r.Directories)
	fmt.Fprintf(w, "Files: %d\n", r.Files)
	fmt.Fprintf(w, "Symlinks: %d\n", r.Symlinks)
	if r.Chunks > 0 {
		fmt.Fprintf(w, "Chunks: %d\n", r.Chunks)
	}
	if len(r.Problems) == 0 {
		fmt.Fprintln(w, "All records are valid")
		return
	}
	fmt.Fprintf(w, "Problems: %d\n", len(r.Problems))
	shown := r.Problems
	if !verbose && len(shown) > 10 {
		shown = shown[:10]
	}
	for _, p := range shown {
		fmt.Fprintf(w, "  - %s\n", p)
	}
	if len(shown) < len(r.Problems) {
		fmt.Fprintf(w, "  ... and %d more (use --verbose)\n", len(r.Problems)-len(shown))
	}
}

type validator struct {
	stack    *fixture.Stack
	maxDepth int
	log      *slog.Logger
	report   validationReport
	// seen holds targets already verified; versions share most of their tree.
	seen map[target]bool
}

type target struct {
	kind   directory.Kind
	digest util.Digest
}

func (v *validator) run(ctx context.Context, roots []string, checkChunks bool) error {
	v.seen = make(map[target]bool)
	if len(roots) == 0 {
		all, err := v.stack.Registry.Roots(ctx)
		if err != nil {
			return err
		}
		for _, r := range all {
			roots = append(roots, r.Name)
		}
	}
	for _, root := range roots {
		if err := v.root(ctx, root); err != nil {
			return err
		}
	}
	if checkChunks {
		return v.chunks(ctx)
	}
	return nil
}

func (v *validator) root(ctx context.Context, root string) error {
	versions, err := v.stack.Registry.Versions(ctx, root)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			v.report.problem("root %q: %v", root, err)
			return nil
		}
		return err
	}
	v.report.Roots++
	for _, ver := range versions {
		v.report.Versions++
		v.log.Debug("validating version", "root", root, "sequence", ver.Sequence)
		top := target{directory.KindDirectory, ver.Directory}
		if v.seen[top] {
			continue
		}
		v.seen[top] = true
		v.report.Directories++
		err := v.stack.Dirs.Walk(ctx, ver.Directory, v.maxDepth, func(p string, e directory.Entry) error {
			return v.entry(ctx, p, e)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			v.report.problem("%s@%d: %v", root, ver.Sequence, err)
		}
	}
	return nil
}

func (v *validator) entry(ctx context.Context, p string, e directory.Entry) error {
	key := target{e.Kind, e.Target}
	if v.seen[key] {
		if e.Kind == directory.KindDirectory {
			return directory.SkipDir
		}
		return nil
	}
	v.seen[key] = true

	switch e.Kind {
	case directory.KindDirectory:
		v.report.Directories++
	case directory.KindFile:
		v.report.Files++
		data, err := v.stack.Files.ReadAll(ctx, e.Target)
		if err != nil {
			v.report.problem("%s: %v", p, err)
		} else if uint64(len(data)) != e.Size {
			v.report.problem("%s: entry records %d bytes, file has %d", p, e.Size, len(data))
		}
	case directory.KindSymlink:
		v.report.Symlinks++
		data, err := v.stack.Files.ReadAll(ctx, e.Target)
		switch {
		case err != nil:
			v.report.problem("%s: %v", p, err)
		case len(data) == 0, !utf8.Valid(data), strings.IndexByte(string(data), 0) >= 0:
			v.report.problem("%s: invalid symlink target %q", p, data)
		}
	}
	return ctx.Err()
}

func (v *validator) chunks(ctx context.Context) error {
	return v.stack.Chunks.Digests(ctx, func(d util.Digest) error {
		v.report.Chunks++
		if _, err := v.stack.Chunks.Get(ctx, d); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			v.report.problem("chunk %s: %v", d, err)
		}
		return nil
	})
}
