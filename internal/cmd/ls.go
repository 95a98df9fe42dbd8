package cmd

import (
	"context"
	"fmt"
	"io"
	"path"
	"text/tabwriter"
	"time"

	"github.com/dendrascience/spraydryfs/directory"
	"github.com/dendrascience/spraydryfs/resolver"
	"github.com/spf13/cobra"
)

// NewLsCmd creates and returns the ls subcommand.
func NewLsCmd(g *globalOptions) *cobra.Command {
	var (
		at   uint64
		long bool
	)
	cmd := &cobra.Command{
		Use:   "ls ROOT [PATH]",
		Short: "List a directory in a version without mounting it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) == 2 {
				p = args[1]
			}
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			stack, err := a.openStack()
			if err != nil {
				return err
			}
			defer stack.Close()
			session, err := a.openSession(cmd.Context(), stack, args[0], at)
			if err != nil {
				return err
			}
			defer session.Close()
			return list(cmd.Context(), cmd.OutOrStdout(), session, p, long)
		},
	}
	cmd.Flags().Uint64Var(&at, "at", 0, "Version sequence to read (default latest)")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show mode, size and modification time")
	return cmd
}

func list(ctx context.Context, w io.Writer, s *resolver.Session, p string, long bool) error {
	n, err := s.Resolve(ctx, p)
	if err != nil {
		return err
	}
	nodes := []resolver.Node{n}
	if n.IsDir() {
		it, err := s.Readdir(ctx, n)
		if err != nil {
			return err
		}
		nodes = nodes[:0]
		for _, e := range it.All() {
			nodes = append(nodes, resolver.Node{Path: path.Join(n.Path, e.Name), Entry: e})
		}
	}

	if !long {
		for _, c := range nodes {
			fmt.Fprintln(w, c.Name())
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, c := range nodes {
		attr, err := s.Getattr(ctx, c)
		if err != nil {
			return fmt.Errorf("%s: %w", c.Path, err)
		}
		name := c.Name()
		if c.Entry.Kind == directory.KindSymlink {
			target, err := s.Readlink(ctx, c)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Path, err)
			}
			name += " -> " + target
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t\t%s\n", attr.Mode, attr.Size, attr.Mtime.UTC().Format(time.RFC3339), name)
	}
	return tw.Flush()
}
