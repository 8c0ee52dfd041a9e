package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/brianly1003/docsync/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Open a live document session",
	Long: `Open a collaborative session for a document and report its connection
state until interrupted.

Examples:
  docsync open /notes/todo.md
  docsync open notes/todo.md --json`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func runOpen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess, err := svc.OpenDocument(ctx, args[0])
	if err != nil {
		if session.IsAbort(err) || ctx.Err() != nil {
			log.Info().Err(err).Str("path", args[0]).Msg("open interrupted")
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}

	changes, stop := sess.Subscribe()
	defer stop()

	out := cmd.OutOrStdout()
	stopUpdates := sess.Document().OnUpdate(func(update []byte) {
		printUpdate(out, sess.Path(), len(update))
	})
	defer stopUpdates()
	printStateChange(out, session.StateChange{
		SessionID: sess.ID(),
		Path:      sess.Path(),
		To:        sess.State(),
		At:        time.Now(),
	})

	followSession(ctx, out, changes)
	log.Info().
		Str("path", sess.Path()).
		Int("updates", len(sess.Document().Updates())).
		Msg("document session ending")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	return nil
}

// followSession prints transitions until ctx ends or the session closes.
func followSession(ctx context.Context, out io.Writer, changes <-chan session.StateChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			printStateChange(out, change)
			if change.To == session.StateClosed {
				return
			}
		}
	}
}

func printStateChange(out io.Writer, change session.StateChange) {
	if jsonOutput {
		_ = printJSON(out, change)
		return
	}
	if change.From == "" {
		fmt.Fprintf(out, "%s  %s  %s\n", change.At.Format(time.TimeOnly), change.Path, change.To)
		return
	}
	fmt.Fprintf(out, "%s  %s  %s -> %s\n", change.At.Format(time.TimeOnly), change.Path, change.From, change.To)
}

func printUpdate(out io.Writer, path string, size int) {
	if jsonOutput {
		_ = printJSON(out, map[string]any{"path": path, "update_bytes": size})
		return
	}
	fmt.Fprintf(out, "%s  %s  update (%d bytes)\n", time.Now().Format(time.TimeOnly), path, size)
}
