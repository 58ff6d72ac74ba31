package rss

import (
	"fmt"
	"strings"
)

const (
	// FaultValue in a bin slot means the bin's load cell reported a fault.
	FaultValue = 255
	// SensorOK is the status byte of a healthy sensor board.
	SensorOK = 0
)

// BinWeight is one bin reading.
type BinWeight struct {
	Value uint8
	Fault bool
}

func (b BinWeight) String() string {
	if b.Fault {
		return "fault"
	}
	return fmt.Sprintf("%d", b.Value)
}

// WeightPackage is a decoded weight characteristic value.
type WeightPackage struct {
	Bins []BinWeight
	// SensorStatus is the trailing status byte. Zero when the value carried none.
	SensorStatus uint8
	HasStatus    bool
	Raw          []byte
}

// DecodeWeight decodes b. With two or more bytes the last one is the sensor
// status; a single byte is one bin without status.
func DecodeWeight(b []byte) (WeightPackage, error) {
	if len(b) == 0 {
		return WeightPackage{}, fmt.Errorf("%w: empty value", ErrInvalidWeight)
	}

	pkg := WeightPackage{Raw: append([]byte(nil), b...)}
	bins := b
	if len(b) >= 2 {
		bins = b[:len(b)-1]
		pkg.SensorStatus = b[len(b)-1]
		pkg.HasStatus = true
	}

	pkg.Bins = make([]BinWeight, len(bins))
	for i, v := range bins {
		if v == FaultValue {
			pkg.Bins[i] = BinWeight{Fault: true}
			continue
		}
		pkg.Bins[i] = BinWeight{Value: v}
	}
	return pkg, nil
}

// SensorOK reports whether the sensor board reported no problem.
func (p WeightPackage) SensorOK() bool {
	return !p.HasStatus || p.SensorStatus == SensorOK
}

// Faults returns the indices of faulted bins.
func (p WeightPackage) Faults() []int {
	var idx []int
	for i, b := range p.Bins {
		if b.Fault {
			idx = append(idx, i)
		}
	}
	return idx
}

func (p WeightPackage) String() string {
	parts := make([]string, len(p.Bins))
	for i, b := range p.Bins {
		parts[i] = b.String()
	}
	s := "bins=[" + strings.Join(parts, " ") + "]"
	if p.HasStatus {
		if p.SensorStatus == SensorOK {
			s += " sensor=ok"
		} else {
			s += fmt.Sprintf(" sensor=0x%02x", p.SensorStatus)
		}
	}
	return s
}
