package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/srg/rsslink/internal/session"
	"github.com/srg/rsslink/pkg/rss"
)

type weightJSON struct {
	Bins         []*int `json:"bins"`
	Faults       []int  `json:"faults,omitempty"`
	SensorStatus *uint8 `json:"sensor_status,omitempty"`
	SensorOK     bool   `json:"sensor_ok"`
	Raw          string `json:"raw"`
}

type configurationJSON struct {
	Mode    string   `json:"mode"`
	Cutoffs []uint8  `json:"cutoffs,omitempty"`
	Colors  []string `json:"colors,omitempty"`
	Belt    string   `json:"belt"`
	Raw     string   `json:"raw"`
}

type eventJSON struct {
	Time    time.Time `json:"time"`
	Stream  string    `json:"stream"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

func newWeightJSON(w rss.WeightPackage) weightJSON {
	out := weightJSON{
		Bins:     make([]*int, len(w.Bins)),
		Faults:   w.Faults(),
		SensorOK: w.SensorOK(),
		Raw:      fmt.Sprintf("% x", w.Raw),
	}
	for i, b := range w.Bins {
		if !b.Fault {
			v := int(b.Value)
			out.Bins[i] = &v
		}
	}
	if w.HasStatus {
		status := w.SensorStatus
		out.SensorStatus = &status
	}
	return out
}

func newConfigurationJSON(c rss.ConfigurationPackage) configurationJSON {
	out := configurationJSON{
		Mode: c.Mode.String(),
		Belt: c.Belt.String(),
		Raw:  fmt.Sprintf("% x", c.Bytes()),
	}
	switch c.Mode {
	case rss.ModeSize:
		c1, c2 := c.Cutoffs()
		out.Cutoffs = []uint8{c1}
		if c2 != 0 {
			out.Cutoffs = append(out.Cutoffs, c2)
		}
	case rss.ModeColor:
		k1, k2 := c.Colors()
		out.Colors = []string{k1.String()}
		if k2 != rss.ColorNone {
			out.Colors = append(out.Colors, k2.String())
		}
	}
	return out
}

func newHistoryJSON(events []rss.Event) []eventJSON {
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, eventJSON{Time: e.Time, Stream: e.Stream, Kind: e.Kind.String(), Message: e.Message})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatWeight renders bins as "bin1=12 bin2=fault" and flags sensor trouble.
func formatWeight(w rss.WeightPackage) string {
	parts := make([]string, 0, len(w.Bins)+1)
	for i, b := range w.Bins {
		v := b.String()
		if b.Fault {
			v = color.RedString(v)
		}
		parts = append(parts, fmt.Sprintf("bin%d=%s", i+1, v))
	}
	switch {
	case !w.HasStatus:
	case w.SensorOK():
		parts = append(parts, "sensor=ok")
	default:
		parts = append(parts, color.RedString("sensor=0x%02x", w.SensorStatus))
	}
	return strings.Join(parts, " ")
}

func formatGattTable(w io.Writer, table *session.GattTable) {
	if table == nil {
		return
	}
	fmt.Fprintln(w, "GATT:")
	for pair := table.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(w, "  %s\n", pair.Key)
		for _, c := range pair.Value {
			fmt.Fprintf(w, "    %s\n", c)
		}
	}
}
