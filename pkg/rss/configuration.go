package rss

import (
	"fmt"
	"strings"
)

// ConfigurationSize is the fixed length of a configuration value.
const ConfigurationSize = 4

// MaxCutoff is the exclusive upper bound of a size cutoff in centimetres.
const MaxCutoff = 100

// Mode selects how the machine sorts.
type Mode uint8

const (
	ModeSize   Mode = 1
	ModeColor  Mode = 2
	ModeDefect Mode = 3
)

func (m Mode) String() string {
	switch m {
	case ModeSize:
		return "size"
	case ModeColor:
		return "color"
	case ModeDefect:
		return "defect"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Color is a colour index used by colour sorting. ColorNone leaves a bin unassigned.
type Color uint8

const (
	ColorNone Color = iota
	Red
	Orange
	Yellow
	Green
	Purple
	Brown
)

var colorNames = [...]string{"none", "red", "orange", "yellow", "green", "purple", "brown"}

func (c Color) String() string {
	if int(c) < len(colorNames) {
		return colorNames[c]
	}
	return fmt.Sprintf("color(%d)", uint8(c))
}

// ParseColor accepts a colour name, case-insensitively.
func ParseColor(s string) (Color, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range colorNames {
		if n == name {
			return Color(i), nil
		}
	}
	return ColorNone, fmt.Errorf("unknown color %q", s)
}

// BeltState is the conveyor belt switch.
type BeltState uint8

const (
	BeltStopped BeltState = 0
	BeltRunning BeltState = 1
)

func (b BeltState) String() string {
	switch b {
	case BeltStopped:
		return "stopped"
	case BeltRunning:
		return "running"
	default:
		return fmt.Sprintf("belt(%d)", uint8(b))
	}
}

// ConfigurationPackage is the 4-byte configuration value [mode, p1, p2, belt].
// The meaning of Param1 and Param2 depends on Mode.
type ConfigurationPackage struct {
	Mode   Mode
	Param1 uint8
	Param2 uint8
	Belt   BeltState
}

// SizeConfiguration sorts by size. cutoff2 of 0 means a single cutoff.
func SizeConfiguration(cutoff1, cutoff2 uint8, belt BeltState) ConfigurationPackage {
	return ConfigurationPackage{Mode: ModeSize, Param1: cutoff1, Param2: cutoff2, Belt: belt}
}

// ColorConfiguration sorts by colour. color2 may be ColorNone.
func ColorConfiguration(color1, color2 Color, belt BeltState) ConfigurationPackage {
	return ConfigurationPackage{Mode: ModeColor, Param1: uint8(color1), Param2: uint8(color2), Belt: belt}
}

// DefectConfiguration sorts out defective items.
func DefectConfiguration(belt BeltState) ConfigurationPackage {
	return ConfigurationPackage{Mode: ModeDefect, Param1: 1, Param2: 0, Belt: belt}
}

// DecodeConfiguration checks the structure of b: length, mode and belt.
// Parameter ranges are checked by Validate.
func DecodeConfiguration(b []byte) (ConfigurationPackage, error) {
	if len(b) != ConfigurationSize {
		return ConfigurationPackage{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidConfiguration, ConfigurationSize, len(b))
	}

	pkg := ConfigurationPackage{
		Mode:   Mode(b[0]),
		Param1: b[1],
		Param2: b[2],
		Belt:   BeltState(b[3]),
	}
	switch pkg.Mode {
	case ModeSize, ModeColor, ModeDefect:
	default:
		return ConfigurationPackage{}, fmt.Errorf("%w: unknown %s", ErrInvalidConfiguration, pkg.Mode)
	}
	if pkg.Belt != BeltStopped && pkg.Belt != BeltRunning {
		return ConfigurationPackage{}, fmt.Errorf("%w: unknown %s", ErrInvalidConfiguration, pkg.Belt)
	}
	return pkg, nil
}

// Validate checks the mode-dependent parameter ranges.
func (p ConfigurationPackage) Validate() error {
	switch p.Mode {
	case ModeSize:
		if p.Param1 < 1 || p.Param1 >= MaxCutoff {
			return fmt.Errorf("%w: cutoff 1 must be between 1 and %d, got %d", ErrInvalidConfiguration, MaxCutoff-1, p.Param1)
		}
		if p.Param2 != 0 && (p.Param2 <= p.Param1 || p.Param2 >= MaxCutoff) {
			return fmt.Errorf("%w: cutoff 2 must be none or between cutoff 1 and %d, got %d", ErrInvalidConfiguration, MaxCutoff-1, p.Param2)
		}
	case ModeColor:
		if p.Param1 < uint8(Red) || p.Param1 > uint8(Brown) {
			return fmt.Errorf("%w: color 1 must be set, got %s", ErrInvalidConfiguration, Color(p.Param1))
		}
		if p.Param2 > uint8(Brown) {
			return fmt.Errorf("%w: unknown color 2 %s", ErrInvalidConfiguration, Color(p.Param2))
		}
	case ModeDefect:
		if p.Param1 != 1 || p.Param2 != 0 {
			return fmt.Errorf("%w: defect parameters must be [1, 0], got [%d, %d]", ErrInvalidConfiguration, p.Param1, p.Param2)
		}
	default:
		return fmt.Errorf("%w: unknown %s", ErrInvalidConfiguration, p.Mode)
	}
	if p.Belt != BeltStopped && p.Belt != BeltRunning {
		return fmt.Errorf("%w: unknown %s", ErrInvalidConfiguration, p.Belt)
	}
	return nil
}

// Cutoffs returns the size cutoffs in centimetres. Meaningful in ModeSize only.
func (p ConfigurationPackage) Cutoffs() (uint8, uint8) {
	return p.Param1, p.Param2
}

// Colors returns the colour assignment. Meaningful in ModeColor only.
func (p ConfigurationPackage) Colors() (Color, Color) {
	return Color(p.Param1), Color(p.Param2)
}

// WithBelt returns a copy with the belt switched to belt.
func (p ConfigurationPackage) WithBelt(belt BeltState) ConfigurationPackage {
	p.Belt = belt
	return p
}

// Bytes encodes p as the 4-byte characteristic value.
func (p ConfigurationPackage) Bytes() []byte {
	return []byte{byte(p.Mode), p.Param1, p.Param2, byte(p.Belt)}
}

func (p ConfigurationPackage) String() string {
	var params string
	switch p.Mode {
	case ModeSize:
		c1, c2 := p.Cutoffs()
		if c2 == 0 {
			params = fmt.Sprintf("cutoff=%dcm", c1)
		} else {
			params = fmt.Sprintf("cutoffs=%dcm,%dcm", c1, c2)
		}
	case ModeColor:
		c1, c2 := p.Colors()
		params = fmt.Sprintf("colors=%s,%s", c1, c2)
	case ModeDefect:
		return fmt.Sprintf("mode=%s belt=%s", p.Mode, p.Belt)
	default:
		params = fmt.Sprintf("params=%d,%d", p.Param1, p.Param2)
	}
	return fmt.Sprintf("mode=%s %s belt=%s", p.Mode, params, p.Belt)
}
