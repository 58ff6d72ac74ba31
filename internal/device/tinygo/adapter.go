// Package tinygo drives the radio through tinygo.org/x/bluetooth.
//
// It is the fallback backend for hosts where go-ble cannot open the adapter.
// tinygo's API is blocking and does not expose characteristic properties or an
// MTU request, so Gatt reports properties from what the peripheral accepted and
// answers RequestMtu with the MTU the platform already negotiated.
package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/rsslink/internal/device"
	"github.com/srg/rsslink/internal/groutine"
)

// Adapter wraps bluetooth.DefaultAdapter.
type Adapter struct {
	radio  *bluetooth.Adapter
	logger *logrus.Logger

	// services are the UUIDs reported in advertisements; tinygo only answers membership queries.
	services []bluetooth.UUID

	mu       sync.Mutex
	enabled  bool
	scanning bool
	gatts    map[string]*Gatt
}

var _ device.Adapter = (*Adapter)(nil)

// NewAdapter creates an adapter. advertised lists the service UUIDs worth
// reporting in scan results.
func NewAdapter(logger *logrus.Logger, advertised ...string) (*Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	a := &Adapter{
		radio:  bluetooth.DefaultAdapter,
		logger: logger,
		gatts:  make(map[string]*Gatt),
	}
	for _, s := range advertised {
		uuid, err := ParseUUID(s)
		if err != nil {
			return nil, err
		}
		a.services = append(a.services, uuid)
	}
	return a, nil
}

// enable powers up the stack once. Caller must hold a.mu.
func (a *Adapter) enable() error {
	if a.enabled {
		return nil
	}
	if err := a.radio.Enable(); err != nil {
		return fmt.Errorf("failed to enable adapter: %w", device.NormalizeError(err))
	}
	a.radio.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		if connected {
			return
		}
		a.mu.Lock()
		g := a.gatts[strings.ToLower(d.Address.String())]
		a.mu.Unlock()
		if g != nil {
			g.linkLost()
		}
	})
	a.enabled = true
	return nil
}

func (a *Adapter) StartScan(cb device.ScanCallback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scanning {
		return nil
	}
	if err := a.enable(); err != nil {
		return err
	}
	a.scanning = true

	groutine.Go(context.Background(), "tinygo-scan", func(context.Context) {
		err := a.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			cb.OnScanResult(a.advertisement(result))
		})

		a.mu.Lock()
		requested := !a.scanning
		a.scanning = false
		a.mu.Unlock()

		if err != nil && !requested {
			a.logger.WithError(err).Warn("BLE scan failed")
			cb.OnScanFailed(device.NormalizeError(err))
		}
	})
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	if !a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.scanning = false
	a.mu.Unlock()

	if err := a.radio.StopScan(); err != nil {
		a.logger.WithError(err).Debug("StopScan failed")
	}
	return nil
}

func (a *Adapter) advertisement(result bluetooth.ScanResult) device.Advertisement {
	adv := &Advertisement{
		name: result.LocalName(),
		addr: result.Address.String(),
		rssi: int(result.RSSI),
	}
	for _, uuid := range a.services {
		if result.HasServiceUUID(uuid) {
			adv.services = append(adv.services, uuid.String())
		}
	}
	for _, md := range result.ManufacturerData() {
		adv.manufacturer = append(adv.manufacturer, byte(md.CompanyID), byte(md.CompanyID>>8))
		adv.manufacturer = append(adv.manufacturer, md.Data...)
	}
	return adv
}

// ConnectGatt connects in the background. tinygo applies its own connect timeout.
func (a *Adapter) ConnectGatt(address string, cb device.GattCallback) (device.Gatt, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	a.mu.Lock()
	if err := a.enable(); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	g := newGatt(address, cb, a.logger, a.forget)
	a.gatts[strings.ToLower(address)] = g
	a.mu.Unlock()

	var addr bluetooth.Address
	addr.Set(address)

	groutine.Go(g.ctx, "tinygo-connect", func(ctx context.Context) {
		dev, err := a.radio.Connect(addr, bluetooth.ConnectionParams{})
		g.connected(dev, err)
	})
	return g, nil
}

func (a *Adapter) forget(g *Gatt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := strings.ToLower(g.address)
	if a.gatts[key] == g {
		delete(a.gatts, key)
	}
}

// ParseUUID accepts the short and dashless forms used across rsslink.
func ParseUUID(s string) (bluetooth.UUID, error) {
	n := device.NormalizeUUID(s)
	switch len(n) {
	case 4:
		var v uint16
		if _, err := fmt.Sscanf(n, "%04x", &v); err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(v), nil
	case 32:
		return bluetooth.ParseUUID(n[0:8] + "-" + n[8:12] + "-" + n[12:16] + "-" + n[16:20] + "-" + n[20:32])
	default:
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q", s)
	}
}

// Advertisement is a scan result copied out of tinygo's callback.
type Advertisement struct {
	name         string
	addr         string
	rssi         int
	services     []string
	manufacturer []byte
}

func (a *Advertisement) LocalName() string        { return a.name }
func (a *Advertisement) ManufacturerData() []byte { return a.manufacturer }
func (a *Advertisement) Services() []string       { return a.services }
func (a *Advertisement) TxPowerLevel() int        { return 127 }
func (a *Advertisement) Connectable() bool        { return true }
func (a *Advertisement) RSSI() int                { return a.rssi }
func (a *Advertisement) Addr() string             { return a.addr }
