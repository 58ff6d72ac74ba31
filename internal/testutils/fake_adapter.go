package testutils

import (
	"errors"
	"fmt"
	"sync"

	"github.com/srg/rsslink/internal/device"
)

// ErrNoPeripheral is returned by FakeAdapter.ConnectGatt for unknown addresses.
var ErrNoPeripheral = errors.New("no peripheral at address")

// FakeAdapter is an in-memory device.Adapter. Scan results are injected with
// Advertise; GATT requests on its handles answer synchronously from the
// configured FakePeripheral.
type FakeAdapter struct {
	mu          sync.Mutex
	peripherals map[string]*FakePeripheral
	scanCb      device.ScanCallback
	scanning    bool
	startScans  int
	stopScans   int
	scanErr     error
	connectErr  error
	gatts       []*FakeGatt
}

var _ device.Adapter = (*FakeAdapter)(nil)

// NewFakeAdapter creates an adapter that can connect to the given peripherals.
func NewFakeAdapter(peripherals ...*FakePeripheral) *FakeAdapter {
	a := &FakeAdapter{peripherals: map[string]*FakePeripheral{}}
	for _, p := range peripherals {
		a.AddPeripheral(p)
	}
	return a
}

// AddPeripheral makes p reachable at its address.
func (a *FakeAdapter) AddPeripheral(p *FakePeripheral) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peripherals[p.config.Address] = p
}

// SetScanError makes the next StartScan calls fail.
func (a *FakeAdapter) SetScanError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanErr = err
}

// SetConnectError makes the next ConnectGatt calls fail.
func (a *FakeAdapter) SetConnectError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErr = err
}

func (a *FakeAdapter) StartScan(cb device.ScanCallback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scanErr != nil {
		return a.scanErr
	}
	a.startScans++
	a.scanning = true
	a.scanCb = cb
	return nil
}

func (a *FakeAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scanning {
		a.stopScans++
	}
	a.scanning = false
	return nil
}

// Scanning reports whether a scan is running.
func (a *FakeAdapter) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

// ScanCounts returns how many scans were started and stopped.
func (a *FakeAdapter) ScanCounts() (started, stopped int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startScans, a.stopScans
}

// Advertise delivers adv to the scan callback if a scan is running.
// Returns false when nothing is scanning.
func (a *FakeAdapter) Advertise(adv device.Advertisement) bool {
	a.mu.Lock()
	cb, scanning := a.scanCb, a.scanning
	a.mu.Unlock()

	if !scanning || cb == nil {
		return false
	}
	cb.OnScanResult(adv)
	return true
}

// FailScan reports err to the scan callback.
func (a *FakeAdapter) FailScan(err error) {
	a.mu.Lock()
	cb := a.scanCb
	a.scanning = false
	a.mu.Unlock()

	if cb != nil {
		cb.OnScanFailed(err)
	}
}

func (a *FakeAdapter) ConnectGatt(address string, cb device.GattCallback) (device.Gatt, error) {
	a.mu.Lock()
	if a.connectErr != nil {
		err := a.connectErr
		a.mu.Unlock()
		return nil, err
	}
	p, ok := a.peripherals[address]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoPeripheral, address)
	}
	g := &FakeGatt{peripheral: p, cb: cb}
	a.gatts = append(a.gatts, g)
	a.mu.Unlock()

	g.record("connect")
	p.mu.Lock()
	status, silent := p.connectStatus, p.silentConnect
	p.mu.Unlock()
	if silent {
		return g, nil
	}
	link := device.LinkConnected
	if !status.OK() {
		link = device.LinkDisconnected
	}
	g.callback(func() { cb.OnConnectionStateChange(g, status, link) })
	return g, nil
}

// Gatts returns every handle created so far.
func (a *FakeAdapter) Gatts() []*FakeGatt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*FakeGatt(nil), a.gatts...)
}

// LastGatt returns the most recent handle or nil.
func (a *FakeAdapter) LastGatt() *FakeGatt {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.gatts) == 0 {
		return nil
	}
	return a.gatts[len(a.gatts)-1]
}

// FakePeripheral holds the profile and characteristic values, which survive reconnects.
type FakePeripheral struct {
	mu             sync.Mutex
	config         PeripheralConfig
	services       []*fakeService
	values         map[string][]byte
	connectStatus  device.Status
	discoverStatus device.Status
	readStatus     map[string]device.Status
	writeStatus    map[string]device.Status
	silentReads    map[string]bool
	silentMtu      bool
	silentConnect  bool
}

// Address returns the peripheral address.
func (p *FakePeripheral) Address() string {
	return p.config.Address
}

// Value returns the current value of a characteristic.
func (p *FakePeripheral) Value(uuid string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.values[device.NormalizeUUID(uuid)]...)
}

// SetValue replaces the value of a characteristic.
func (p *FakePeripheral) SetValue(uuid string, value []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[device.NormalizeUUID(uuid)] = append([]byte(nil), value...)
}

// SetConnectStatus changes the status reported by later connection attempts.
func (p *FakePeripheral) SetConnectStatus(status device.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectStatus = status
}

func (p *FakePeripheral) find(service, characteristic string) (*fakeCharacteristic, error) {
	svcUUID := device.NormalizeUUID(service)
	charUUID := device.NormalizeUUID(characteristic)

	for _, svc := range p.services {
		if svc.uuid != svcUUID {
			continue
		}
		for _, c := range svc.chars {
			if c.uuid == charUUID {
				return c, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
}

// FakeGatt is a handle on a FakePeripheral. Requests answer synchronously
// through the GattCallback unless the peripheral is configured to stay silent.
type FakeGatt struct {
	mu         sync.Mutex
	peripheral *FakePeripheral
	cb         device.GattCallback
	closed     bool
	discovered bool
	log        []string
	held       []*fakeCharacteristic
}

var _ device.Gatt = (*FakeGatt)(nil)

func (g *FakeGatt) Address() string {
	return g.peripheral.config.Address
}

func (g *FakeGatt) Disconnect() error {
	if g.Closed() {
		return device.ErrNotConnected
	}
	g.record("disconnect")
	g.callback(func() { g.cb.OnConnectionStateChange(g, device.StatusSuccess, device.LinkDisconnected) })
	return nil
}

func (g *FakeGatt) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		g.closed = true
		g.log = append(g.log, "close")
	}
	return nil
}

func (g *FakeGatt) DiscoverServices() error {
	g.record("discover")

	g.peripheral.mu.Lock()
	status := g.peripheral.discoverStatus
	g.peripheral.mu.Unlock()

	g.mu.Lock()
	g.discovered = status.OK()
	g.mu.Unlock()

	g.callback(func() { g.cb.OnServicesDiscovered(g, status) })
	return nil
}

func (g *FakeGatt) RequestMtu(mtu int) error {
	g.record(fmt.Sprintf("mtu %d", mtu))

	p := g.peripheral
	p.mu.Lock()
	silent, maxMTU := p.silentMtu, p.config.MaxMTU
	p.mu.Unlock()

	if silent {
		return nil
	}
	if mtu > maxMTU {
		mtu = maxMTU
	}
	g.callback(func() { g.cb.OnMtuChanged(g, mtu, device.StatusSuccess) })
	return nil
}

func (g *FakeGatt) Services() []device.Service {
	g.mu.Lock()
	discovered := g.discovered
	g.mu.Unlock()

	if !discovered {
		return nil
	}
	out := make([]device.Service, 0, len(g.peripheral.services))
	for _, s := range g.peripheral.services {
		out = append(out, s)
	}
	return out
}

func (g *FakeGatt) GetCharacteristic(service, characteristic string) (device.Characteristic, error) {
	c, err := g.peripheral.find(service, characteristic)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (g *FakeGatt) ReadCharacteristic(c device.Characteristic) error {
	if g.Closed() {
		return device.ErrNotConnected
	}
	fc := c.(*fakeCharacteristic)
	g.record("read " + device.ShortenUUID(fc.uuid))

	p := g.peripheral
	p.mu.Lock()
	silent := p.silentReads[fc.uuid]
	status, value := p.readStatus[fc.uuid], append([]byte(nil), p.values[fc.uuid]...)
	p.mu.Unlock()

	if silent {
		g.mu.Lock()
		g.held = append(g.held, fc)
		g.mu.Unlock()
		return nil
	}
	g.callback(func() { g.cb.OnCharacteristicRead(g, fc, value, status) })
	return nil
}

func (g *FakeGatt) WriteCharacteristic(c device.Characteristic, value []byte, withResponse bool) error {
	if g.Closed() {
		return device.ErrNotConnected
	}
	fc := c.(*fakeCharacteristic)
	entry := fmt.Sprintf("write %s % x", device.ShortenUUID(fc.uuid), value)
	if !withResponse {
		entry += " nr"
	}
	g.record(entry)

	p := g.peripheral
	p.mu.Lock()
	status := p.writeStatus[fc.uuid]
	if status.OK() {
		p.values[fc.uuid] = append([]byte(nil), value...)
	}
	p.mu.Unlock()

	g.callback(func() { g.cb.OnCharacteristicWrite(g, fc, status) })
	return nil
}

// Notify changes a value on the peripheral side and sends a characteristic-changed event.
func (g *FakeGatt) Notify(uuid string, value []byte) {
	g.peripheral.SetValue(uuid, value)
	c, err := g.findAny(uuid)
	if err != nil {
		panic(err)
	}
	g.callback(func() { g.cb.OnCharacteristicChanged(g, c, value) })
}

// SimulateDisconnect reports an unsolicited link loss with status.
func (g *FakeGatt) SimulateDisconnect(status device.Status) {
	g.record("link lost")
	g.callback(func() { g.cb.OnConnectionStateChange(g, status, device.LinkDisconnected) })
}

// ReleaseReads answers every read held back by WithSilentRead.
func (g *FakeGatt) ReleaseReads() {
	g.mu.Lock()
	held := g.held
	g.held = nil
	g.mu.Unlock()

	for _, c := range held {
		value := g.peripheral.Value(c.uuid)
		g.callback(func() { g.cb.OnCharacteristicRead(g, c, value, device.StatusSuccess) })
	}
}

// Log returns the requests issued on this handle, e.g. "read 4f5641bf".
func (g *FakeGatt) Log() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.log...)
}

// Closed reports whether Close was called.
func (g *FakeGatt) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *FakeGatt) findAny(uuid string) (*fakeCharacteristic, error) {
	for _, s := range g.peripheral.services {
		if c, err := g.peripheral.find(s.uuid, uuid); err == nil {
			return c, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
}

func (g *FakeGatt) record(entry string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log = append(g.log, entry)
}

// callback runs fn unless the handle was closed; closed handles stay silent like platform handles do.
func (g *FakeGatt) callback(fn func()) {
	if g.Closed() {
		return
	}
	fn()
}

type fakeService struct {
	uuid  string
	chars []*fakeCharacteristic
}

func (s *fakeService) UUID() string { return s.uuid }

func (s *fakeService) Characteristics() []device.Characteristic {
	out := make([]device.Characteristic, 0, len(s.chars))
	for _, c := range s.chars {
		out = append(out, c)
	}
	return out
}

type fakeCharacteristic struct {
	uuid    string
	service string
	props   device.Properties
}

func (c *fakeCharacteristic) UUID() string                  { return c.uuid }
func (c *fakeCharacteristic) Service() string               { return c.service }
func (c *fakeCharacteristic) Properties() device.Properties { return c.props }
