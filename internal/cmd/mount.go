package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/spraydryfs/spraydryfs"
	"github.com/dendrascience/spraydryfs/version"
	"github.com/spf13/cobra"
)

type mountOptions struct {
	at          uint64
	allowOther  bool
	metricsAddr string
}

// NewMountCmd creates and returns the mount subcommand.
func NewMountCmd(g *globalOptions) *cobra.Command {
	opts := &mountOptions{}
	cmd := &cobra.Command{
		Use:   "mount ROOT MOUNTPOINT",
		Short: "Mount a version of a root read-only",
		Long: `Mount a version of ROOT read-only at MOUNTPOINT.

The latest version is mounted unless --at selects one. The mount keeps
serving the version it opened even if newer versions are appended. Interrupt
the process or unmount MOUNTPOINT to stop serving.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(cmd, g, opts, args[0], args[1])
		},
	}
	cmd.Flags().Uint64Var(&opts.at, "at", 0, "Version sequence to mount (default latest)")
	cmd.Flags().BoolVar(&opts.allowOther, "allow-other", false, "Let other users access the mount (overrides mount.allow_other)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics_addr)")
	return cmd
}

func runMount(cmd *cobra.Command, g *globalOptions, opts *mountOptions, root, mountpoint string) error {
	a, err := g.load(cmd)
	if err != nil {
		return err
	}
	if opts.allowOther {
		a.cfg.Mount.AllowOther = true
	}
	if opts.metricsAddr != "" {
		a.cfg.MetricsAddr = opts.metricsAddr
	}
	if a.cfg.Store.Path != "" && pathsOverlap(a.cfg.Store.Path, mountpoint) {
		return fmt.Errorf("mountpoint %s overlaps store %s", mountpoint, a.cfg.Store.Path)
	}

	a.log.Info("spraydryfs starting", "version", version.GetFullVersion())

	stack, err := a.openStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := a.openSession(ctx, stack, root, opts.at)
	if err != nil {
		return err
	}
	defer session.Close()

	filesystem := spraydryfs.New(session, spraydryfs.Options{
		UID:          uint32(os.Getuid()),
		GID:          uint32(os.Getgid()),
		AttrValidity: a.cfg.Mount.AttrValidity,
		Logger:       a.log,
		Metrics:      a.metrics,
	})

	mountOpts := []fuse.MountOption{
		fuse.FSName("spraydryfs"),
		fuse.Subtype("spraydryfs"),
		fuse.ReadOnly(),
	}
	if a.cfg.Mount.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}
	c, err := fuse.Mount(mountpoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount %s: %w", mountpoint, err)
	}
	defer c.Close()

	if a.cfg.MetricsAddr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.MetricsAddr, a.log); err != nil {
				a.log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		a.log.Info("shutting down, unmounting", "mountpoint", mountpoint)
		if err := fuse.Unmount(mountpoint); err != nil {
			a.log.Warn("unmount failed", "mountpoint", mountpoint, "err", err)
		}
	}()

	a.log.Info("mounted",
		"root", root,
		"sequence", session.Version.Sequence,
		"mountpoint", mountpoint,
		"store", a.cfg.Store.Path,
	)
	if err := fs.Serve(c, filesystem); err != nil {
		return fmt.Errorf("serve %s: %w", mountpoint, err)
	}
	a.log.Info("shutdown complete")
	return nil
}

// pathsOverlap reports whether either path contains the other. Mounting over
// the store's own directory would hide it from the process serving it.
func pathsOverlap(path1, path2 string) bool {
	a, b := absPath(path1), absPath(path2)
	return contains(a, b) || contains(b, a)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func contains(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
