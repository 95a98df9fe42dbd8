package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/dendrascience/spraydryfs/resolver"
	"github.com/spf13/cobra"
)

// catBlock is how much each Read asks for, matching a typical kernel read.
const catBlock = 128 << 10

// NewCatCmd creates and returns the cat subcommand.
func NewCatCmd(g *globalOptions) *cobra.Command {
	var (
		at             uint64
		offset, length int64
	)
	cmd := &cobra.Command{
		Use:   "cat ROOT PATH",
		Short: "Write a file from a version to stdout",
		Long: `Write the contents of PATH in a version of ROOT to stdout.

Every chunk is verified against its digest as it is read; a mismatch stops
the command with an integrity error rather than emitting bad bytes.`,
		Args: cobra.ExactArgs(2),
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
			session, err := a.openSession(cmd.Context(), stack, args[0], at)
			if err != nil {
				return err
			}
			defer session.Close()
			return copyFile(cmd.Context(), cmd.OutOrStdout(), session, args[1], offset, length)
		},
	}
	cmd.Flags().Uint64Var(&at, "at", 0, "Version sequence to read (default latest)")
	cmd.Flags().Int64Var(&offset, "offset", 0, "Byte offset to start at")
	cmd.Flags().Int64Var(&length, "length", -1, "Bytes to write (default to end of file)")
	return cmd
}

// copyFile writes length bytes of p starting at offset; a negative length
// means the rest of the file.
func copyFile(ctx context.Context, w io.Writer, s *resolver.Session, p string, offset, length int64) error {
	n, err := s.Resolve(ctx, p)
	if err != nil {
		return err
	}
	end := int64(-1)
	if length >= 0 {
		end = offset + length
	}
	for off := offset; end < 0 || off < end; {
		want := int64(catBlock)
		if end >= 0 {
			want = min(want, end-off)
		}
		data, err := s.Read(ctx, n, off, want)
		if err != nil {
			return fmt.Errorf("%s at %d: %w", n.Path, off, err)
		}
		if len(data) == 0 {
			return nil
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		off += int64(len(data))
	}
	return nil
}
