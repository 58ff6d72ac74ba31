package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/srg/rsslink/pkg/rss"
)

func newConfigureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure <size|color|defect> [params...]",
		Short: "Change the sorting mode",
		Long: `Write a new sorting configuration and wait until the peripheral reports it back.

  configure size <cutoff1> [cutoff2]   sort by size, cutoffs in cm (1-99, ascending)
  configure color <color1> [color2]    sort by color (red, orange, yellow, green, purple, brown)
  configure defect                     sort out defective items

The belt keeps its current state unless --belt is given.`,
		Example: `  rssctl configure size 20
  rssctl configure size 10 45 --belt running
  rssctl configure color yellow purple
  rssctl configure defect --belt stopped`,
		Args: cobra.RangeArgs(1, 3),
		RunE: runConfigure,
	}
	cmd.Flags().String("belt", "keep", "Belt state after the change (keep, running, stopped)")
	return cmd
}

// beltOption is the --belt value; keep reuses the state read from the peripheral.
type beltOption struct {
	keep  bool
	state rss.BeltState
}

func parseBelt(s string) (beltOption, error) {
	switch s {
	case "", "keep":
		return beltOption{keep: true}, nil
	case "running", "start", "on":
		return beltOption{state: rss.BeltRunning}, nil
	case "stopped", "stop", "off":
		return beltOption{state: rss.BeltStopped}, nil
	default:
		return beltOption{}, fmt.Errorf("invalid belt state '%s': must be one of [keep running stopped]", s)
	}
}

func (b beltOption) resolve(current rss.BeltState) rss.BeltState {
	if b.keep {
		return current
	}
	return b.state
}

// parseConfiguration builds the requested package with a placeholder belt state.
func parseConfiguration(args []string) (rss.ConfigurationPackage, error) {
	mode, params := args[0], args[1:]

	switch mode {
	case "size":
		if len(params) == 0 {
			return rss.ConfigurationPackage{}, fmt.Errorf("size mode needs one or two cutoffs")
		}
		cutoffs := make([]uint8, 2)
		for i, p := range params {
			v, err := strconv.ParseUint(p, 10, 8)
			if err != nil {
				return rss.ConfigurationPackage{}, fmt.Errorf("invalid cutoff '%s': %w", p, rss.ErrInvalidConfiguration)
			}
			cutoffs[i] = uint8(v)
		}
		return rss.SizeConfiguration(cutoffs[0], cutoffs[1], rss.BeltStopped), nil

	case "color", "colour":
		if len(params) == 0 {
			return rss.ConfigurationPackage{}, fmt.Errorf("color mode needs one or two colors")
		}
		colors := []rss.Color{rss.ColorNone, rss.ColorNone}
		for i, p := range params {
			c, err := rss.ParseColor(p)
			if err != nil {
				return rss.ConfigurationPackage{}, fmt.Errorf("%w: %w", rss.ErrInvalidConfiguration, err)
			}
			colors[i] = c
		}
		return rss.ColorConfiguration(colors[0], colors[1], rss.BeltStopped), nil

	case "defect":
		if len(params) != 0 {
			return rss.ConfigurationPackage{}, fmt.Errorf("defect mode takes no parameters")
		}
		return rss.DefectConfiguration(rss.BeltStopped), nil

	default:
		return rss.ConfigurationPackage{}, fmt.Errorf("unknown mode '%s': must be one of [size color defect]", mode)
	}
}

func runConfigure(cmd *cobra.Command, args []string) error {
	beltFlag, _ := cmd.Flags().GetString("belt")
	belt, err := parseBelt(beltFlag)
	if err != nil {
		return err
	}

	pkg, err := parseConfiguration(args)
	if err != nil {
		return err
	}
	// Reject bad values before touching the radio
	if err := pkg.Validate(); err != nil {
		return err
	}

	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to "+cfg.Peripheral.Name)
	return withDevice(cmd.Context(), cfg, logger, progress, func(ctx context.Context, m *rss.Manager, snap snapshot) error {
		pkg = pkg.WithBelt(belt.resolve(snap.Configuration.Belt))
		out := cmd.OutOrStdout()

		if pkg == snap.Configuration {
			fmt.Fprintf(out, "Configuration unchanged: %s\n", pkg)
			return nil
		}
		if err := apply(ctx, m, pkg); err != nil {
			return err
		}
		fmt.Fprintf(out, "Configuration: %s -> %s\n", snap.Configuration, pkg)
		return nil
	})
}
