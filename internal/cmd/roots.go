package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dendrascience/spraydryfs/registry"
	"github.com/spf13/cobra"
)

// NewRootsCmd creates and returns the roots subcommand.
func NewRootsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roots [ROOT]",
		Short: "List roots, or the version history of one root",
		Args:  cobra.MaximumNArgs(1),
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
			if len(args) == 1 {
				return printVersions(cmd.Context(), cmd.OutOrStdout(), stack.Registry, args[0])
			}
			return printRoots(cmd.Context(), cmd.OutOrStdout(), stack.Registry)
		},
	}
}

func printRoots(ctx context.Context, w io.Writer, reg *registry.Registry) error {
	roots, err := reg.Roots(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOT\tHEAD\tCREATED")
	for _, r := range roots {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Name, r.Head, r.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func printVersions(ctx context.Context, w io.Writer, reg *registry.Registry, root string) error {
	versions, err := reg.Versions(ctx, root)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tDIRECTORY\tCREATED")
	for _, v := range versions {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", v.Sequence, v.Directory, v.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
