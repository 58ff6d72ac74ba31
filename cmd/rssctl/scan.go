package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/rsslink/internal/bledb"
	"github.com/srg/rsslink/internal/groutine"
	"github.com/srg/rsslink/scanner"
)

var validFormats = []string{"table", "json"}

func checkFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for the sorting system and nearby BLE devices",
		Long: `Scan for Bluetooth Low Energy devices in the vicinity.

Every advertiser is listed with its address, name, RSSI and advertised
services. The sorting system, matched by its advertised local name, is
highlighted.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().DurationP("duration", "d", 0, "Scan duration (default from config)")
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}

	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration, _ := cmd.Flags().GetDuration("duration")
	if duration <= 0 {
		duration = cfg.ScanTimeout
	}

	adapter, err := adapterFactory(cfg.Backend, []string{cfg.Peripheral.Service}, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	if format == "table" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for %s...\n", duration)
	}

	s := scanner.NewScanner(adapter, cfg.Peripheral.Name, nil, logger)

	watched := make(chan struct{})
	if format == "table" {
		groutine.Go(ctx, "scan-events", func(ctx context.Context) {
			defer close(watched)
			printDiscoveries(ctx, cmd.ErrOrStderr(), s.Events())
		})
	} else {
		close(watched)
	}

	devices, err := s.Scan(ctx)
	<-watched
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	// Interrupted by the user rather than by the scan window
	if err := cmd.Context().Err(); err != nil {
		return err
	}

	if format == "json" {
		return writeDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return writeDevicesTable(cmd.OutOrStdout(), devices)
}

// printDiscoveries writes one line per newly seen device until ctx ends.
func printDiscoveries(ctx context.Context, w io.Writer, events <-chan scanner.DeviceEvent) {
	report := func(ev scanner.DeviceEvent) {
		if ev.Type != scanner.EventNew {
			return
		}
		d := ev.DeviceInfo
		if d.Name != "" {
			fmt.Fprintf(w, "  found %s (%s) %d dBm\n", d.Address, d.Name, d.RSSI)
		} else {
			fmt.Fprintf(w, "  found %s %d dBm\n", d.Address, d.RSSI)
		}
	}

	for {
		select {
		case ev := <-events:
			report(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-events:
					report(ev)
				default:
					return
				}
			}
		}
	}
}

type deviceJSON struct {
	Address     string    `json:"address"`
	Name        string    `json:"name,omitempty"`
	RSSI        int       `json:"rssi"`
	TxPower     *int      `json:"tx_power,omitempty"`
	Services    []string  `json:"services,omitempty"`
	Connectable bool      `json:"connectable"`
	Seen        int       `json:"seen"`
	LastSeen    time.Time `json:"last_seen"`
	Target      bool      `json:"target"`
}

// txPowerUnknown is what backends report when the advertisement has no TX power.
const txPowerUnknown = 127

func writeDevicesJSON(w io.Writer, devices []scanner.DeviceInfo) error {
	out := make([]deviceJSON, 0, len(devices))
	for _, d := range devices {
		j := deviceJSON{
			Address:     d.Address,
			Name:        d.Name,
			RSSI:        d.RSSI,
			Services:    d.Services,
			Connectable: d.Connectable,
			Seen:        d.Seen,
			LastSeen:    d.LastSeen,
			Target:      d.Target,
		}
		if d.TxPower != txPowerUnknown {
			tx := d.TxPower
			j.TxPower = &tx
		}
		out = append(out, j)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeDevicesTable(w io.Writer, devices []scanner.DeviceInfo) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices found.")
		return err
	}

	target := color.New(color.FgGreen, color.Bold)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI\tSEEN\tSERVICES\t")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "-"
		}

		services := make([]string, 0, len(d.Services))
		for _, uuid := range d.Services {
			services = append(services, bledb.Describe(uuid))
		}
		svc := strings.Join(services, ", ")
		if svc == "" {
			svc = "-"
		}

		marker := ""
		if d.Target {
			// Last column, escape codes do not affect alignment
			marker = target.Sprint("<- sorter")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", d.Address, name, d.RSSI, d.Seen, svc, marker)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d device(s) found.\n", len(devices))
	return err
}
