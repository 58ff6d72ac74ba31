//go:build !darwin && !windows

package tinygo

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/srg/rsslink/internal/device"
)

// inferredProps is assumed for every characteristic. BlueZ builds of the
// library only offer write commands, so writes go out without response.
const inferredProps = device.PropRead | device.PropWriteWithoutResponse

func writeWithResponse(bluetooth.DeviceCharacteristic, []byte) error {
	return fmt.Errorf("write with response: %w", device.ErrUnsupported)
}
