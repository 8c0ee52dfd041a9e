package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/brianly1003/docsync/internal/files"
	"github.com/brianly1003/docsync/internal/watcher"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	lsDepth         int
	pushWatch       bool
	sharePermission string
	shareQR         bool
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newFileClient(cfg)
		if err != nil {
			return err
		}

		target := "/"
		if len(args) == 1 {
			target = args[0]
		}

		tree, err := client.Tree(cmd.Context(), target, lsDepth)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), tree)
		}
		return printTree(cmd.OutOrStdout(), tree)
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newFileClient(cfg)
		if err != nil {
			return err
		}

		file, err := client.Read(cmd.Context(), args[0])
		if err != nil {
			if files.IsNotFound(err) {
				return fmt.Errorf("%s: no such file", args[0])
			}
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), file)
		}
		_, err = io.WriteString(cmd.OutOrStdout(), file.Content)
		return err
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <local> <remote>",
	Short: "Upload a local file or directory",
	Long: `Upload a local file to a remote path, or every file of a local directory
below a remote directory. With --watch, keep running and upload changes as
they settle.

Examples:
  docsync push ./todo.md /notes/todo.md
  docsync push ./notes /notes --watch`,
	Args: cobra.ExactArgs(2),
	RunE: runPush,
}

var shareCmd = &cobra.Command{
	Use:   "share <path>",
	Short: "Create a share link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newFileClient(cfg)
		if err != nil {
			return err
		}

		link, err := client.Share(cmd.Context(), args[0], files.ShareRequest{Permission: sharePermission})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, link)
		}
		fmt.Fprintf(out, "%s (%s)\n", link.URL, link.Permission)
		if shareQR {
			qr, err := link.TerminalQR()
			if err != nil {
				return err
			}
			fmt.Fprint(out, qr)
		}
		return nil
	},
}

func init() {
	lsCmd.Flags().IntVar(&lsDepth, "depth", 0, "listing depth (0 lets the server decide)")
	pushCmd.Flags().BoolVar(&pushWatch, "watch", false, "keep uploading local changes")
	shareCmd.Flags().StringVar(&sharePermission, "permission", files.PermissionView, "view or edit")
	shareCmd.Flags().BoolVar(&shareQR, "qr", false, "print the link as a QR code")
}

func printTree(out io.Writer, tree files.Tree) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range tree.Entries {
		name := e.Name
		size := fmt.Sprintf("%d", e.Size)
		if e.IsDir() {
			name += "/"
			size = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", size, name, e.Path)
	}
	return tw.Flush()
}

func runPush(cmd *cobra.Command, args []string) error {
	local, remote := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newFileClient(cfg)
	if err != nil {
		return err
	}

	info, err := os.Stat(local)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	if info.IsDir() {
		if err := pushDir(ctx, client, local, remote, out); err != nil {
			return err
		}
	} else {
		res, err := pushFile(ctx, client, local, remote)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pushed %s (%d bytes)\n", res.Path, res.Size)
	}

	if !pushWatch {
		return nil
	}

	mirror := &pushSync{client: client, remote: remote, dir: info.IsDir(), out: out}
	w, err := watcher.New(local, func(c watcher.Change) { mirror.apply(ctx, c) }, watcher.Options{
		Debounce: cfg.WatcherDebounce(),
		Ignore:   cfg.Watcher.IgnorePatterns,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	<-ctx.Done()
	return nil
}

// pushFile uploads one local file to remote.
func pushFile(ctx context.Context, client *files.Client, local, remote string) (files.WriteResult, error) {
	content, err := os.ReadFile(local)
	if err != nil {
		return files.WriteResult{}, err
	}
	return client.Write(ctx, remote, string(content), contentType(local))
}

// pushDir uploads every regular file below local.
func pushDir(ctx context.Context, client *files.Client, local, remote string, out io.Writer) error {
	return filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != local {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return err
		}
		res, err := pushFile(ctx, client, p, remoteFor(remote, filepath.ToSlash(rel), true))
		if err != nil {
			return fmt.Errorf("push %s: %w", p, err)
		}
		fmt.Fprintf(out, "pushed %s (%d bytes)\n", res.Path, res.Size)
		return nil
	})
}

// pushSync mirrors settled local changes onto the remote tree.
type pushSync struct {
	client *files.Client
	remote string
	dir    bool
	out    io.Writer
}

func (s *pushSync) apply(ctx context.Context, c watcher.Change) {
	target := remoteFor(s.remote, c.Path, s.dir)

	kind := c.Kind
	if !s.dir && kind == watcher.ChangeRenamed {
		// A single file replaced by rename is a content change.
		kind = watcher.ChangeModified
	}

	var err error
	switch kind {
	case watcher.ChangeCreated, watcher.ChangeModified:
		var res files.WriteResult
		if res, err = pushFile(ctx, s.client, c.AbsPath, target); err == nil {
			fmt.Fprintf(s.out, "pushed %s (%d bytes)\n", res.Path, res.Size)
		}
	case watcher.ChangeDeleted:
		if err = s.client.Delete(ctx, target); err == nil || files.IsNotFound(err) {
			err = nil
			fmt.Fprintf(s.out, "deleted %s\n", target)
		}
	case watcher.ChangeRenamed:
		from := remoteFor(s.remote, c.OldPath, s.dir)
		if _, err = s.client.Rename(ctx, from, target); err == nil {
			fmt.Fprintf(s.out, "renamed %s -> %s\n", from, target)
		}
	}
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("path", c.Path).Str("kind", string(c.Kind)).Msg("failed to sync change")
	}
}

// remoteFor maps a watcher-relative path onto the remote tree.
func remoteFor(remote, rel string, dir bool) string {
	if !dir {
		return remote
	}
	return path.Join("/", remote, rel)
}

func contentType(name string) string {
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		return mediaType
	}
	return ct
}
