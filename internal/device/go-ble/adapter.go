package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/rsslink/internal/device"
	"github.com/srg/rsslink/internal/groutine"
)

// Adapter drives the host radio through go-ble.
// The ble.Device is opened on first use and shared by scans and connections.
type Adapter struct {
	logger *logrus.Logger

	mu         sync.Mutex
	dev        ble.Device
	scanCancel context.CancelFunc
}

var _ device.Adapter = (*Adapter)(nil)

// NewAdapter creates an adapter. The radio is not touched until the first scan or connect.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

// device returns the shared ble.Device. Caller must hold a.mu.
func (a *Adapter) device() (ble.Device, error) {
	if a.dev != nil {
		return a.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	a.dev = dev
	return dev, nil
}

// StartScan scans with duplicates allowed so RSSI updates keep flowing.
func (a *Adapter) StartScan(cb device.ScanCallback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scanCancel != nil {
		return nil
	}
	dev, err := a.device()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.scanCancel = cancel

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, true, func(adv ble.Advertisement) {
			cb.OnScanResult(NewAdvertisement(adv))
		})
		if ctx.Err() != nil {
			// Stopped on request.
			return
		}

		a.mu.Lock()
		a.scanCancel = nil
		a.mu.Unlock()
		cancel()

		if err == nil {
			err = errors.New("scan ended unexpectedly")
		}
		a.logger.WithError(err).Warn("BLE scan failed")
		cb.OnScanFailed(NormalizeError(err))
	})
	return nil
}

// StopScan does not wait for the scan goroutine: it is called from inside scan callbacks.
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	return nil
}

// ConnectGatt dials address in the background and reports the outcome through cb.
func (a *Adapter) ConnectGatt(address string, cb device.GattCallback) (device.Gatt, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	a.mu.Lock()
	dev, err := a.device()
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	g := newGatt(address, cb, a.logger)
	groutine.Go(g.ctx, "goble-dial", func(ctx context.Context) {
		g.dial(ctx, dev)
	})
	return g, nil
}
