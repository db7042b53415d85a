package app

import (
	"context"
	"fmt"
	"io"
	"path"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/filterfs/filterfs/internal/adapter"
	"github.com/filterfs/filterfs/pkg/utils"
)

// withEngine loads the configuration, builds an engine for root and runs fn.
func (o *options) withEngine(cmd *cobra.Command, root string, fn func(ctx context.Context, e *adapter.Engine) error) error {
	cfg, err := o.loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, false); err != nil {
		return err
	}
	defer utils.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := adapter.NewEngine(ctx, root, cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func newLsCommand(o *options) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls ROOT [PATH]",
		Short: "List a directory of the filtered view without mounting",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) == 2 {
				dir = args[1]
			}
			return o.withEngine(cmd, args[0], func(ctx context.Context, e *adapter.Engine) error {
				return runLs(ctx, e, dir, long, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show type, permissions and size")
	return cmd
}

func runLs(ctx context.Context, e *adapter.Engine, dir string, long bool, w io.Writer) error {
	cred := processCredentials()
	entries, err := e.List(ctx, dir, cred)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if !long {
			fmt.Fprintln(w, ent.Name)
			continue
		}
		md, err := e.Stat(ctx, path.Join(dir, ent.Name), cred, false)
		if err != nil {
			// vanished or became hidden since the listing
			fmt.Fprintf(w, "?????????? %10s %s\n", "?", ent.Name)
			continue
		}
		fmt.Fprintf(w, "%s %10d %s\n", modeString(md.Mode), md.Size, ent.Name)
	}
	return nil
}

func newStatCommand(o *options) *cobra.Command {
	var noFollow bool
	cmd := &cobra.Command{
		Use:   "stat ROOT PATH",
		Short: "Show the metadata of an entry of the filtered view",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd, args[0], func(ctx context.Context, e *adapter.Engine) error {
				return runStat(ctx, e, args[1], !noFollow, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVarP(&noFollow, "no-dereference", "P", false, "do not follow a trailing symlink")
	return cmd
}

func runStat(ctx context.Context, e *adapter.Engine, p string, follow bool, w io.Writer) error {
	res, err := e.Lookup(ctx, p, processCredentials(), follow)
	if err != nil {
		return err
	}
	defer e.Resolver.Release(res.Node)

	md, err := e.Resolver.Stat(ctx, res.Node)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  Path: %s\n", p)
	fmt.Fprintf(w, "  Type: %s\n", typeName(md.Mode))
	fmt.Fprintf(w, "  Size: %d\n", md.Size)
	fmt.Fprintf(w, " Inode: %d  Links: %d\n", md.Ino, md.Nlink)
	fmt.Fprintf(w, "  Mode: %04o (%s)\n", md.Perm(), modeString(md.Mode))
	fmt.Fprintf(w, "   Uid: %d  Gid: %d\n", md.UID, md.GID)
	fmt.Fprintf(w, "Access: %s\n", res.Access)
	fmt.Fprintf(w, "Modify: %s\n", md.Mtime.Format(time.RFC3339))
	if md.IsSymlink() {
		target, err := e.Resolver.Readlink(ctx, res.Node)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Target: %s\n", target)
	}
	return nil
}

func newCatCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cat ROOT PATH",
		Short: "Print a file of the filtered view",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd, args[0], func(ctx context.Context, e *adapter.Engine) error {
				_, err := e.Cat(ctx, args[1], processCredentials(), cmd.OutOrStdout())
				return err
			})
		},
	}
}

func typeName(mode uint32) string {
	switch mode & syscall.S_IFMT {
	case syscall.S_IFREG:
		return "regular file"
	case syscall.S_IFDIR:
		return "directory"
	case syscall.S_IFLNK:
		return "symbolic link"
	case syscall.S_IFIFO:
		return "fifo"
	case syscall.S_IFSOCK:
		return "socket"
	case syscall.S_IFCHR:
		return "character device"
	case syscall.S_IFBLK:
		return "block device"
	}
	return "unknown"
}

// modeString renders mode the way ls -l does, without setuid/sticky letters.
func modeString(mode uint32) string {
	b := []byte("----------")
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		b[0] = 'd'
	case syscall.S_IFLNK:
		b[0] = 'l'
	case syscall.S_IFIFO:
		b[0] = 'p'
	case syscall.S_IFSOCK:
		b[0] = 's'
	case syscall.S_IFCHR:
		b[0] = 'c'
	case syscall.S_IFBLK:
		b[0] = 'b'
	}
	const rwx = "rwx"
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			b[1+i] = rwx[i%3]
		}
	}
	return string(b)
}
