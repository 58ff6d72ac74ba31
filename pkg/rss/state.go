package rss

import (
	"fmt"

	"github.com/srg/rsslink/internal/session"
)

// ConnectionState is the public connection phase.
type ConnectionState int32

const (
	Uninitialized ConnectionState = iota
	Initializing
	Connected
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// stateOf folds the session's phases into the four public states.
func stateOf(s session.State) ConnectionState {
	switch s {
	case session.Scanning, session.Connecting, session.DiscoveringServices:
		return Initializing
	case session.Ready:
		return Connected
	case session.Disconnected:
		return Disconnected
	default:
		return Uninitialized
	}
}

// ConnectionStatePackage is the payload of the connection-state stream.
type ConnectionStatePackage struct {
	State ConnectionState
}

func (p ConnectionStatePackage) String() string {
	return p.State.String()
}
