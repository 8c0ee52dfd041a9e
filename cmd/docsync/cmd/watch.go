package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/brianly1003/docsync/internal/notify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [event-type...]",
	Short: "Stream file notifications",
	Long: `Subscribe to the notification channel and print events as they arrive.
Without arguments every file:* event is printed.

Examples:
  docsync watch
  docsync watch file:created file:deleted`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	types := args
	if len(types) == 0 {
		types = notify.FileEventTypes
	}

	out := cmd.OutOrStdout()
	listener := notify.NewListener(func(n notify.Notification) {
		fmt.Fprintln(out, formatNotification(n))
	})

	for _, t := range types {
		if err := svc.Subscribe(t, listener); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", t, err)
		}
	}
	log.Debug().Strs("types", types).Msg("watching notifications")

	ctx, cancel := signalContext()
	defer cancel()

	select {
	case <-ctx.Done():
	case <-svc.Notifications().Done():
		log.Warn().Msg("notification channel stopped reconnecting")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	return svc.Shutdown(shutdownCtx)
}

// formatNotification renders one notification as a single line.
func formatNotification(n notify.Notification) string {
	if jsonOutput {
		var b strings.Builder
		_ = printJSON(&b, n)
		return strings.TrimRight(b.String(), "\n")
	}

	if !notify.IsFileEvent(n.Type) {
		return fmt.Sprintf("%-14s %s", n.Type, string(n.Data))
	}

	e, err := notify.DecodeFileEvent(n)
	if err != nil {
		return fmt.Sprintf("%-14s <malformed: %v>", n.Type, err)
	}

	var detail string
	switch n.Type {
	case notify.EventFileRenamed:
		detail = fmt.Sprintf("%s -> %s", e.OldPath, e.NewPath)
	case notify.EventFileShared:
		detail = fmt.Sprintf("%s (%s", e.Path, e.Permission)
		if e.SharedWith != "" {
			detail += " with " + e.SharedWith
		}
		detail += ")"
	default:
		detail = e.Path
	}
	if e.UserID != "" {
		detail += " by " + e.UserID
	}
	return fmt.Sprintf("%-14s %s", n.Type, detail)
}
