package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/rsslink/pkg/rss"
)

func newBeltCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "belt <start|stop>",
		Short:     "Start or stop the conveyor belt",
		Long:      `Switch the conveyor belt while keeping the current sorting mode and parameters.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"start", "stop"},
		RunE:      runBelt,
	}
}

func runBelt(cmd *cobra.Command, args []string) error {
	want := rss.BeltStopped
	if args[0] == "start" {
		want = rss.BeltRunning
	}

	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to "+cfg.Peripheral.Name)
	return withDevice(cmd.Context(), cfg, logger, progress, func(ctx context.Context, m *rss.Manager, snap snapshot) error {
		out := cmd.OutOrStdout()
		if snap.Configuration.Belt == want {
			fmt.Fprintf(out, "Belt already %s\n", want)
			return nil
		}
		if err := apply(ctx, m, snap.Configuration.WithBelt(want)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Belt %s\n", want)
		return nil
	})
}
