package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/rsslink/internal/device"
	"github.com/srg/rsslink/internal/groutine"
)

const (
	// defaultMTU is the ATT MTU before any exchange.
	defaultMTU = 23

	// requestBuffer bounds requests accepted but not yet sent to the radio.
	requestBuffer = 16
)

// Characteristic is a discovered characteristic bound to its go-ble handle.
type Characteristic struct {
	uuid    string
	service string
	props   device.Properties
	raw     *ble.Characteristic
}

func (c *Characteristic) UUID() string                  { return c.uuid }
func (c *Characteristic) Service() string               { return c.service }
func (c *Characteristic) Properties() device.Properties { return c.props }

// Service is a discovered service.
type Service struct {
	uuid            string
	characteristics []device.Characteristic
}

func (s *Service) UUID() string                               { return s.uuid }
func (s *Service) Characteristics() []device.Characteristic { return s.characteristics }

// Gatt runs the blocking go-ble client calls on a single worker goroutine and
// reports each result through the callback.
type Gatt struct {
	address string
	cb      device.GattCallback
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	work   chan func(ble.Client)

	mu            sync.RWMutex
	client        ble.Client
	services      []device.Service
	byUUID        map[string]*Characteristic
	disconnecting bool
	closed        bool
	down          sync.Once
}

var _ device.Gatt = (*Gatt)(nil)

func newGatt(address string, cb device.GattCallback, logger *logrus.Logger) *Gatt {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gatt{
		address: address,
		cb:      cb,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		work:    make(chan func(ble.Client), requestBuffer),
		byUUID:  make(map[string]*Characteristic),
	}
}

func (g *Gatt) Address() string {
	return g.address
}

func (g *Gatt) dial(ctx context.Context, dev ble.Device) {
	g.logger.WithField("address", g.address).Debug("Dialing BLE device...")

	client, err := dev.Dial(ctx, ble.NewAddr(g.address))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		g.logger.WithFields(logrus.Fields{
			"address": g.address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		g.linkDown(StatusOf(err))
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = client.CancelConnection()
		return
	}
	g.client = client
	g.mu.Unlock()

	groutine.Go(ctx, "goble-gatt-worker", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-g.work:
				fn(client)
			}
		}
	})

	// Detects drops reported by CoreBluetooth; other stacks surface them as request errors
	if monitored, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(ctx, "goble-link-monitor", func(ctx context.Context) {
			g.monitor(ctx, monitored.Disconnected())
		})
	}

	g.logger.WithField("address", g.address).Info("BLE device connected")
	g.cb.OnConnectionStateChange(g, device.StatusSuccess, device.LinkConnected)
}

func (g *Gatt) monitor(ctx context.Context, disconnected <-chan struct{}) {
	select {
	case <-disconnected:
		g.mu.RLock()
		requested := g.disconnecting
		g.mu.RUnlock()
		if requested {
			g.linkDown(device.StatusSuccess)
		} else {
			g.logger.WithField("address", g.address).Warn("BLE link lost")
			g.linkDown(device.StatusFailure)
		}
	case <-ctx.Done():
	}
}

// linkDown reports the end of the link exactly once.
func (g *Gatt) linkDown(status device.Status) {
	g.down.Do(func() {
		g.cb.OnConnectionStateChange(g, status, device.LinkDisconnected)
	})
}

func (g *Gatt) submit(fn func(ble.Client)) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed || g.client == nil || g.disconnecting {
		return device.ErrNotConnected
	}
	select {
	case g.work <- fn:
		return nil
	default:
		return fmt.Errorf("gatt request queue full (%d pending)", requestBuffer)
	}
}

// Disconnect cancels the connection. The link-down callback follows.
func (g *Gatt) Disconnect() error {
	g.mu.Lock()
	client := g.client
	if g.closed || client == nil || g.disconnecting {
		g.mu.Unlock()
		return device.ErrNotConnected
	}
	g.disconnecting = true
	g.mu.Unlock()

	groutine.Go(context.Background(), "goble-disconnect", func(context.Context) {
		if err := client.CancelConnection(); err != nil {
			g.logger.WithError(err).Warn("BLE device disconnected with errors")
		}
		g.linkDown(device.StatusSuccess)
	})
	return nil
}

// Close stops the worker and drops the connection without further callbacks.
func (g *Gatt) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	client := g.client
	disconnecting := g.disconnecting
	g.mu.Unlock()

	g.down.Do(func() {})
	g.cancel()

	if client != nil && !disconnecting {
		groutine.Go(context.Background(), "goble-close", func(context.Context) {
			if err := client.CancelConnection(); err != nil {
				g.logger.WithError(err).Debug("Cancel connection on close failed")
			}
		})
	}
	return nil
}

// DiscoverServices discovers the profile and subscribes to every notifying characteristic.
func (g *Gatt) DiscoverServices() error {
	return g.submit(func(client ble.Client) {
		profile, err := client.DiscoverProfile(true)
		if err != nil {
			g.logger.WithError(err).Error("Failed to discover profile")
			g.cb.OnServicesDiscovered(g, StatusOf(err))
			return
		}

		services, byUUID := g.buildProfile(profile)
		g.mu.Lock()
		g.services = services
		g.byUUID = byUUID
		g.mu.Unlock()

		for _, svc := range services {
			for _, c := range svc.Characteristics() {
				g.subscribe(client, c.(*Characteristic))
			}
		}

		g.logger.WithFields(logrus.Fields{
			"address":  g.address,
			"services": len(services),
		}).Debug("Profile discovered successfully")
		g.cb.OnServicesDiscovered(g, device.StatusSuccess)
	})
}

func (g *Gatt) buildProfile(profile *ble.Profile) ([]device.Service, map[string]*Characteristic) {
	services := make([]device.Service, 0, len(profile.Services))
	byUUID := make(map[string]*Characteristic)

	for _, bleSvc := range profile.Services {
		svc := &Service{uuid: device.NormalizeUUID(bleSvc.UUID.String())}
		for _, bleChar := range bleSvc.Characteristics {
			c := &Characteristic{
				uuid:    device.NormalizeUUID(bleChar.UUID.String()),
				service: svc.uuid,
				props:   NewProperties(bleChar.Property),
				raw:     bleChar,
			}
			svc.characteristics = append(svc.characteristics, c)
			byUUID[svc.uuid+"/"+c.uuid] = c
		}
		services = append(services, svc)
	}
	return services, byUUID
}

func (g *Gatt) subscribe(client ble.Client, c *Characteristic) {
	if !c.props.CanNotify() {
		return
	}
	indicate := !c.props.Has(device.PropNotify)
	err := client.Subscribe(c.raw, indicate, func(data []byte) {
		g.cb.OnCharacteristicChanged(g, c, append([]byte(nil), data...))
	})
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"service":        c.service,
			"characteristic": c.uuid,
			"error":          NormalizeError(err),
		}).Warn("Failed to subscribe to characteristic notifications")
	}
}

// RequestMtu reports the default MTU with a failure status when the platform refuses the exchange.
func (g *Gatt) RequestMtu(mtu int) error {
	return g.submit(func(client ble.Client) {
		got, err := client.ExchangeMTU(mtu)
		if err != nil {
			g.cb.OnMtuChanged(g, defaultMTU, StatusOf(err))
			return
		}
		g.cb.OnMtuChanged(g, got, device.StatusSuccess)
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

// own resolves c to a handle discovered on this connection.
func (g *Gatt) own(c device.Characteristic) (*Characteristic, error) {
	if c == nil {
		return nil, errors.New("characteristic is nil")
	}
	if bc, ok := c.(*Characteristic); ok && bc.raw != nil {
		return bc, nil
	}
	return g.lookup(c.Service(), c.UUID())
}

func (g *Gatt) ReadCharacteristic(c device.Characteristic) error {
	bc, err := g.own(c)
	if err != nil {
		return err
	}
	return g.submit(func(client ble.Client) {
		value, err := client.ReadCharacteristic(bc.raw)
		g.cb.OnCharacteristicRead(g, bc, value, StatusOf(err))
	})
}

func (g *Gatt) WriteCharacteristic(c device.Characteristic, value []byte, withResponse bool) error {
	bc, err := g.own(c)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), value...)
	return g.submit(func(client ble.Client) {
		err := client.WriteCharacteristic(bc.raw, payload, !withResponse)
		g.cb.OnCharacteristicWrite(g, bc, StatusOf(err))
	})
}
