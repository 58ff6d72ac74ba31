package tinygo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/rsslink/internal/device"
	"github.com/srg/rsslink/internal/groutine"
)

const (
	defaultMTU    = 23
	maxValueSize  = 512
	requestBuffer = 16
)

// Characteristic is a discovered characteristic bound to its tinygo handle.
type Characteristic struct {
	uuid    string
	service string
	props   device.Properties
	raw     bluetooth.DeviceCharacteristic
}

func (c *Characteristic) UUID() string                  { return c.uuid }
func (c *Characteristic) Service() string               { return c.service }
func (c *Characteristic) Properties() device.Properties { return c.props }

// Service is a discovered service.
type Service struct {
	uuid            string
	characteristics []device.Characteristic
}

func (s *Service) UUID() string                             { return s.uuid }
func (s *Service) Characteristics() []device.Characteristic { return s.characteristics }

// Gatt serializes tinygo's blocking calls on one worker goroutine.
type Gatt struct {
	address string
	cb      device.GattCallback
	logger  *logrus.Logger
	forget  func(*Gatt)

	ctx    context.Context
	cancel context.CancelFunc
	work   chan func(bluetooth.Device)

	mu            sync.RWMutex
	dev           *bluetooth.Device
	services      []device.Service
	byUUID        map[string]*Characteristic
	disconnecting bool
	closed        bool
	down          sync.Once
}

var _ device.Gatt = (*Gatt)(nil)

func newGatt(address string, cb device.GattCallback, logger *logrus.Logger, forget func(*Gatt)) *Gatt {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gatt{
		address: address,
		cb:      cb,
		logger:  logger,
		forget:  forget,
		ctx:     ctx,
		cancel:  cancel,
		work:    make(chan func(bluetooth.Device), requestBuffer),
		byUUID:  make(map[string]*Characteristic),
	}
}

func (g *Gatt) Address() string {
	return g.address
}

func (g *Gatt) connected(dev bluetooth.Device, err error) {
	if err != nil {
		if g.ctx.Err() != nil {
			return
		}
		g.logger.WithFields(logrus.Fields{
			"address": g.address,
			"error":   err,
		}).Error("Failed to connect")
		g.linkDown(device.StatusFailure)
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = dev.Disconnect()
		return
	}
	g.dev = &dev
	g.mu.Unlock()

	groutine.Go(g.ctx, "tinygo-gatt-worker", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-g.work:
				fn(dev)
			}
		}
	})

	g.logger.WithField("address", g.address).Info("BLE device connected")
	g.cb.OnConnectionStateChange(g, device.StatusSuccess, device.LinkConnected)
}

// linkLost is called by the adapter's connect handler.
func (g *Gatt) linkLost() {
	g.mu.RLock()
	requested := g.disconnecting
	g.mu.RUnlock()
	if requested {
		g.linkDown(device.StatusSuccess)
		return
	}
	g.logger.WithField("address", g.address).Warn("BLE link lost")
	g.linkDown(device.StatusFailure)
}

func (g *Gatt) linkDown(status device.Status) {
	g.down.Do(func() {
		g.forget(g)
		g.cb.OnConnectionStateChange(g, status, device.LinkDisconnected)
	})
}

func (g *Gatt) submit(fn func(bluetooth.Device)) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed || g.dev == nil || g.disconnecting {
		return device.ErrNotConnected
	}
	select {
	case g.work <- fn:
		return nil
	default:
		return fmt.Errorf("gatt request queue full (%d pending)", requestBuffer)
	}
}

func (g *Gatt) Disconnect() error {
	g.mu.Lock()
	dev := g.dev
	if g.closed || dev == nil || g.disconnecting {
		g.mu.Unlock()
		return device.ErrNotConnected
	}
	g.disconnecting = true
	g.mu.Unlock()

	groutine.Go(context.Background(), "tinygo-disconnect", func(context.Context) {
		if err := dev.Disconnect(); err != nil {
			g.logger.WithError(err).Warn("BLE device disconnected with errors")
		}
		g.linkDown(device.StatusSuccess)
	})
	return nil
}

func (g *Gatt) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	dev := g.dev
	disconnecting := g.disconnecting
	g.mu.Unlock()

	g.down.Do(func() { g.forget(g) })
	g.cancel()

	if dev != nil && !disconnecting {
		groutine.Go(context.Background(), "tinygo-close", func(context.Context) {
			if err := dev.Disconnect(); err != nil {
				g.logger.WithError(err).Debug("Disconnect on close failed")
			}
		})
	}
	return nil
}

// DiscoverServices discovers everything and enables notifications where the peripheral allows them.
func (g *Gatt) DiscoverServices() error {
	return g.submit(func(dev bluetooth.Device) {
		svcs, err := dev.DiscoverServices(nil)
		if err != nil {
			g.logger.WithError(err).Error("Failed to discover services")
			g.cb.OnServicesDiscovered(g, device.StatusFailure)
			return
		}

		services := make([]device.Service, 0, len(svcs))
		byUUID := make(map[string]*Characteristic)
		for _, svc := range svcs {
			s := &Service{uuid: device.NormalizeUUID(svc.UUID().String())}
			chars, err := svc.DiscoverCharacteristics(nil)
			if err != nil {
				g.logger.WithError(err).WithField("service", s.uuid).Warn("Failed to discover characteristics")
			}
			for _, raw := range chars {
				c := &Characteristic{
					uuid:    device.NormalizeUUID(raw.UUID().String()),
					service: s.uuid,
					props:   inferredProps,
					raw:     raw,
				}
				g.subscribe(c)
				s.characteristics = append(s.characteristics, c)
				byUUID[s.uuid+"/"+c.uuid] = c
			}
			services = append(services, s)
		}

		g.mu.Lock()
		g.services = services
		g.byUUID = byUUID
		g.mu.Unlock()

		g.cb.OnServicesDiscovered(g, device.StatusSuccess)
	})
}

func (g *Gatt) subscribe(c *Characteristic) {
	err := c.raw.EnableNotifications(func(buf []byte) {
		g.cb.OnCharacteristicChanged(g, c, append([]byte(nil), buf...))
	})
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"characteristic": c.uuid,
			"error":          err,
		}).Debug("Notifications not available")
		return
	}
	c.props |= device.PropNotify
}

// RequestMtu reports the MTU the platform negotiated on connect.
func (g *Gatt) RequestMtu(int) error {
	return g.submit(func(bluetooth.Device) {
		g.mu.RLock()
		var sample *Characteristic
		for _, c := range g.byUUID {
			sample = c
			break
		}
		g.mu.RUnlock()

		if sample == nil {
			g.cb.OnMtuChanged(g, defaultMTU, device.StatusFailure)
			return
		}
		mtu, err := sample.raw.GetMTU()
		if err != nil {
			g.cb.OnMtuChanged(g, defaultMTU, device.StatusRequestNotSupported)
			return
		}
		g.cb.OnMtuChanged(g, int(mtu), device.StatusSuccess)
	})
}

func (g *Gatt) Services() []device.Service {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]device.Service(nil), g.services...)
}

func (g *Gatt) GetCharacteristic(service, characteristic string) (device.Characteristic, error) {
	c, err := g.lookup(service, characteristic)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (g *Gatt) lookup(service, characteristic string) (*Characteristic, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	svc := device.NormalizeUUID(service)
	found := false
	for _, s := range g.services {
		if s.UUID() == svc {
			found = true
			break
		}
	}
	if !found {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	c, ok := g.byUUID[svc+"/"+device.NormalizeUUID(characteristic)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return c, nil
}

func (g *Gatt) own(c device.Characteristic) (*Characteristic, error) {
	if c == nil {
		return nil, errors.New("characteristic is nil")
	}
	if tc, ok := c.(*Characteristic); ok {
		return tc, nil
	}
	return g.lookup(c.Service(), c.UUID())
}

func (g *Gatt) ReadCharacteristic(c device.Characteristic) error {
	tc, err := g.own(c)
	if err != nil {
		return err
	}
	return g.submit(func(bluetooth.Device) {
		buf := make([]byte, maxValueSize)
		n, err := tc.raw.Read(buf)
		if err != nil {
			g.cb.OnCharacteristicRead(g, tc, nil, device.StatusFailure)
			return
		}
		g.cb.OnCharacteristicRead(g, tc, buf[:n], device.StatusSuccess)
	})
}

func (g *Gatt) WriteCharacteristic(c device.Characteristic, value []byte, withResponse bool) error {
	tc, err := g.own(c)
	if err != nil {
		return err
	}
	if withResponse && !inferredProps.Has(device.PropWrite) {
		return fmt.Errorf("write with response: %w", device.ErrUnsupported)
	}
	payload := append([]byte(nil), value...)
	return g.submit(func(bluetooth.Device) {
		var err error
		if withResponse {
			err = writeWithResponse(tc.raw, payload)
		} else {
			_, err = tc.raw.WriteWithoutResponse(payload)
		}
		status := device.StatusSuccess
		if err != nil {
			g.logger.WithError(err).WithField("characteristic", tc.uuid).Debug("Write failed")
			status = device.StatusFailure
		}
		g.cb.OnCharacteristicWrite(g, tc, status)
	})
}
