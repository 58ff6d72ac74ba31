package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/rsslink/internal/device"
	"github.com/srg/rsslink/pkg/rss"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped before the command finished.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns internal errors into a message for the terminal.
func FormatUserError(err error) string {
	var notFound *device.NotFoundError
	var statusErr *device.StatusError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off - please enable Bluetooth and retry"
	case errors.Is(err, device.ErrNotInitialized):
		return "Bluetooth adapter is not ready - check that the Bluetooth service is running and retry"
	case errors.Is(err, device.ErrAlreadyConnected):
		return "the sorting system is already connected - close other apps using it and retry"
	case errors.Is(err, rss.ErrPermissionDenied):
		return "Bluetooth permission denied - grant this terminal Bluetooth access and retry"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("timed out: %v", err)
	case errors.Is(err, ErrConnectionLost):
		return "connection to the sorting system was lost"
	case errors.Is(err, rss.ErrInvalidConfiguration):
		return fmt.Sprintf("invalid configuration: %v", err)
	case errors.As(err, &notFound):
		return fmt.Sprintf("%v - is this the sorting system firmware?", notFound)
	case errors.As(err, &statusErr):
		return fmt.Sprintf("peripheral rejected the request: %v", statusErr)
	default:
		return err.Error()
	}
}
