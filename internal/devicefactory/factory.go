package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/rsslink/internal/device"
	goble "github.com/srg/rsslink/internal/device/go-ble"
	"github.com/srg/rsslink/internal/device/tinygo"
)

// Backend names accepted by NewAdapter.
const (
	GoBLE  = "go-ble"
	TinyGo = "tinygo"
)

// AdapterFactory creates the radio adapter for a backend.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(backend string, advertised []string, logger *logrus.Logger) (device.Adapter, error) {
	switch backend {
	case GoBLE, "":
		return goble.NewAdapter(logger), nil
	case TinyGo:
		return tinygo.NewAdapter(logger, advertised...)
	default:
		return nil, fmt.Errorf("unknown backend %q: %w", backend, device.ErrUnsupported)
	}
}

// NewAdapter creates the adapter for backend. advertised lists service UUIDs
// that backends which cannot enumerate advertised services should look for.
func NewAdapter(backend string, advertised []string, logger *logrus.Logger) (device.Adapter, error) {
	return AdapterFactory(backend, advertised, logger)
}
