package device

import (
	"errors"
	"fmt"
)

// Status is an ATT/GATT completion status reported with every hardware callback.
// Values follow the ATT error code numbering; Failure is the generic platform code.
type Status int

const (
	StatusSuccess                    Status = 0x00
	StatusReadNotPermitted           Status = 0x02
	StatusWriteNotPermitted          Status = 0x03
	StatusInsufficientAuthentication Status = 0x05
	StatusRequestNotSupported        Status = 0x06
	StatusInvalidOffset              Status = 0x07
	StatusInvalidAttributeLength     Status = 0x0d
	StatusFailure                    Status = 0x101
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusReadNotPermitted:
		return "read not permitted"
	case StatusWriteNotPermitted:
		return "write not permitted"
	case StatusInsufficientAuthentication:
		return "insufficient authentication"
	case StatusRequestNotSupported:
		return "request not supported"
	case StatusInvalidOffset:
		return "invalid offset"
	case StatusInvalidAttributeLength:
		return "invalid attribute length"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status 0x%02x", int(s))
	}
}

// OK reports whether the status is a success.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// StatusError is a failed GATT operation on a characteristic.
type StatusError struct {
	Op             string // "read", "write", "connect", "discover"
	Characteristic string
	Status         Status
}

func (e *StatusError) Error() string {
	if e.Characteristic == "" {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Op, e.Characteristic, e.Status)
}

// StatusOf extracts the GATT status carried by err.
// Timeouts map to Failure; nil maps to Success.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Status
	}
	return StatusFailure
}

// LinkState is the physical link state reported by OnConnectionStateChange.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkDisconnecting
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("link(%d)", int(s))
	}
}
