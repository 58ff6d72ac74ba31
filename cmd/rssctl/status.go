package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srg/rsslink/internal/session"
	"github.com/srg/rsslink/pkg/rss"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect and show bin weights and the sorting configuration",
		Long: `Find the sorting system, connect, read the weight and configuration
characteristics once and print them.

With --gatt the discovered services and characteristics are listed too;
with --history every value published while connecting is shown.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
	cmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
	cmd.Flags().Bool("gatt", false, "Show the discovered GATT table")
	cmd.Flags().Bool("history", false, "Show the connection history")
	return cmd
}

type statusJSON struct {
	Device        string             `json:"device"`
	State         string             `json:"state"`
	Weight        weightJSON         `json:"weight"`
	Configuration configurationJSON  `json:"configuration"`
	Gatt          *session.GattTable `json:"gatt,omitempty"`
	History       []eventJSON        `json:"history,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", format)
	}
	showGatt, _ := cmd.Flags().GetBool("gatt")
	showHistory, _ := cmd.Flags().GetBool("history")

	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to "+cfg.Peripheral.Name)
	return withDevice(cmd.Context(), cfg, logger, progress, func(_ context.Context, m *rss.Manager, snap snapshot) error {
		out := cmd.OutOrStdout()
		if format == "json" {
			st := statusJSON{
				Device:        m.Identity().Name,
				State:         m.State().String(),
				Weight:        newWeightJSON(snap.Weight),
				Configuration: newConfigurationJSON(snap.Configuration),
			}
			if showGatt {
				st.Gatt = m.GattTable()
			}
			if showHistory {
				st.History = newHistoryJSON(m.History())
			}
			return writeJSON(out, st)
		}

		writeStatusText(out, m, snap)
		if showGatt {
			formatGattTable(out, m.GattTable())
		}
		if showHistory {
			events, stats := m.History(), m.HistoryMetrics()
			fmt.Fprintf(out, "History: %d of %d events", len(events), stats.Recorded)
			if stats.Overwritten > 0 {
				fmt.Fprintf(out, ", %d oldest overwritten", stats.Overwritten)
			}
			fmt.Fprintln(out, ":")
			for _, e := range events {
				fmt.Fprintf(out, "  %s  %-13s %s\n", e.Time.Format("15:04:05.000"), e.Stream, e.Message)
			}
		}
		return nil
	})
}

func writeStatusText(w io.Writer, m *rss.Manager, snap snapshot) {
	fmt.Fprintf(w, "Device:        %s\n", m.Identity().Name)
	fmt.Fprintf(w, "State:         %s\n", m.State())
	fmt.Fprintf(w, "Weight:        %s\n", formatWeight(snap.Weight))
	fmt.Fprintf(w, "Configuration: %s\n", snap.Configuration)
}
