//go:build darwin || windows

package tinygo

import (
	"tinygo.org/x/bluetooth"

	"github.com/srg/rsslink/internal/device"
)

// inferredProps is assumed for every characteristic, the platform API does not
// report the declared properties.
const inferredProps = device.PropRead | device.PropWrite

func writeWithResponse(c bluetooth.DeviceCharacteristic, payload []byte) error {
	_, err := c.Write(payload)
	return err
}
