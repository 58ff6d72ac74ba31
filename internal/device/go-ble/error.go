package goble

import (
	"errors"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/srg/rsslink/internal/device"
)

// darwinPoweredOff is what CoreBluetooth reports when the radio is off.
const darwinPoweredOff = "central manager has invalid state: have=4 want=5: is Bluetooth turned on?"

// NormalizeError maps go-ble specific errors to structured device errors,
// then falls back to device.NormalizeError for the common message patterns.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if err.Error() == darwinPoweredOff {
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	}
	return device.NormalizeError(err)
}

// StatusOf converts a go-ble error into a GATT status.
// ATT errors keep their code; everything else is a generic failure.
func StatusOf(err error) device.Status {
	if err == nil {
		return device.StatusSuccess
	}
	var attErr ble.ATTError
	if errors.As(err, &attErr) {
		return device.Status(attErr)
	}
	return device.StatusFailure
}
