package session

import "fmt"

// State is the session lifecycle phase.
type State int32

const (
	Uninitialized State = iota
	Scanning
	Connecting
	DiscoveringServices
	Ready
	Disconnected
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case DiscoveringServices:
		return "discovering services"
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Active reports whether the session is looking for, connecting to, or connected to a peripheral.
func (s State) Active() bool {
	switch s {
	case Scanning, Connecting, DiscoveringServices, Ready:
		return true
	default:
		return false
	}
}

// linkActive reports whether a GATT handle is being established or in use.
func (s State) linkActive() bool {
	switch s {
	case Connecting, DiscoveringServices, Ready:
		return true
	default:
		return false
	}
}
