package cmd

import (
	"github.com/dendrascience/spraydryfs/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates and returns the root cobra command for the spraydryfs CLI.
// It sets up all subcommands, command groups, and the shared flags.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spraydryfs",
		Short: "spraydryfs - A content-addressed, versioned object store mounted over FUSE",
		Long: `spraydryfs stores file trees as content-addressed chunks, files and
directories, and records each snapshot of a named root as a numbered version.

Any version can be mounted read-only. A mount pins the version it opened, so
readers see one consistent tree while new versions are appended.

Use subcommands to perform different operations:
  - mount: Mount a version of a root at a mountpoint
  - ls, cat: Inspect a version without mounting it
  - roots: List roots and their version history
  - validate: Verify every reachable record against its digest
  - stats: Summarize what the store holds
  - seed: Fill a store with synthetic versions for testing`,
		Version:       version.GetFullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	g := &globalOptions{}
	g.register(rootCmd)

	groupFilesystem := "filesystem"
	groupInspect := "inspect"
	groupUtilities := "utilities"

	// Add command groups for better organization
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupInspect,
		Title: "Inspection Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	mountCmd := NewMountCmd(g)
	lsCmd := NewLsCmd(g)
	catCmd := NewCatCmd(g)
	rootsCmd := NewRootsCmd(g)
	validateCmd := NewValidateCmd(g)
	statsCmd := NewStatsCmd(g)
	seedCmd := NewSeedCmd(g)

	mountCmd.GroupID = groupFilesystem
	lsCmd.GroupID = groupInspect
	catCmd.GroupID = groupInspect
	rootsCmd.GroupID = groupInspect
	validateCmd.GroupID = groupUtilities
	statsCmd.GroupID = groupUtilities
	seedCmd.GroupID = groupUtilities

	rootCmd.AddCommand(mountCmd, lsCmd, catCmd, rootsCmd, validateCmd, statsCmd, seedCmd)

	return rootCmd
}
