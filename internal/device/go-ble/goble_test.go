package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/rsslink/internal/device"
)

const testAddress = "aa:bb:cc:dd:ee:01"

func TestNewProperties(t *testing.T) {
	tests := []struct {
		in   ble.Property
		want device.Properties
	}{
		{0, 0},
		{ble.CharRead, device.PropRead},
		{ble.CharRead | ble.CharNotify, device.PropRead | device.PropNotify},
		{ble.CharWrite | ble.CharWriteNR, device.PropWrite | device.PropWriteWithoutResponse},
		{ble.CharIndicate | ble.CharExtended, device.PropIndicate | device.PropExtended},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, NewProperties(tt.in))
		})
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, device.StatusSuccess, StatusOf(nil))
	assert.Equal(t, device.StatusReadNotPermitted, StatusOf(ble.ATTError(0x02)))
	assert.Equal(t, device.StatusWriteNotPermitted, StatusOf(fmt.Errorf("write: %w", ble.ATTError(0x03))))
	assert.Equal(t, device.StatusFailure, StatusOf(errors.New("radio on fire")))
}

func TestNormalizeError(t *testing.T) {
	assert.Nil(t, NormalizeError(nil))

	err := NormalizeError(errors.New(darwinPoweredOff))
	assert.ErrorIs(t, err, device.ErrBluetoothOff)

	err = NormalizeError(errors.New("device not connected"))
	assert.ErrorIs(t, err, device.ErrNotConnected)

	plain := errors.New("something else")
	assert.Same(t, plain, NormalizeError(plain))
}

// fakeAdvertisement overrides the ble.Advertisement methods the wrapper uses.
type fakeAdvertisement struct {
	ble.Advertisement
	name string
	addr string
	rssi int
}

func (a fakeAdvertisement) LocalName() string        { return a.name }
func (a fakeAdvertisement) Addr() ble.Addr           { return ble.NewAddr(a.addr) }
func (a fakeAdvertisement) RSSI() int                { return a.rssi }
func (a fakeAdvertisement) Services() []ble.UUID     { return []ble.UUID{ble.UUID16(0x180d)} }
func (a fakeAdvertisement) ManufacturerData() []byte { return nil }

// fakeDevice overrides Scan and Dial; everything else panics if touched.
type fakeDevice struct {
	ble.Device
	scan func(ctx context.Context, h ble.AdvHandler) error
	dial func(ctx context.Context, a ble.Addr) (ble.Client, error)
}

func (d *fakeDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	return d.scan(ctx, h)
}

func (d *fakeDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	return d.dial(ctx, a)
}

// fakeClient overrides the ble.Client methods Gatt uses.
type fakeClient struct {
	ble.Client

	mu           sync.Mutex
	profile      *ble.Profile
	values       map[*ble.Characteristic][]byte
	readErr      error
	writes       []string
	handlers     map[*ble.Characteristic]ble.NotificationHandler
	cancelled    int
	disconnected chan struct{}
}

func (c *fakeClient) DiscoverProfile(bool) (*ble.Profile, error) {
	return c.profile, nil
}

func (c *fakeClient) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	return c.values[ch], nil
}

func (c *fakeClient) WriteCharacteristic(ch *ble.Characteristic, value []byte, noRsp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[ch] = value
	c.writes = append(c.writes, fmt.Sprintf("% x noRsp=%t", value, noRsp))
	return nil
}

func (c *fakeClient) ExchangeMTU(rxMTU int) (int, error) {
	return min(rxMTU, 185), nil
}

func (c *fakeClient) Subscribe(ch *ble.Characteristic, _ bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[ch] = h
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	c.cancelled++
	c.mu.Unlock()
	select {
	case <-c.disconnected:
	default:
		close(c.disconnected)
	}
	return nil
}

func (c *fakeClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *fakeClient) notify(ch *ble.Characteristic, data []byte) {
	c.mu.Lock()
	h := c.handlers[ch]
	c.mu.Unlock()
	h(data)
}

// recorder turns callbacks into strings.
type recorder struct {
	events chan string
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 32)}
}

func (r *recorder) OnScanResult(adv device.Advertisement) {
	r.events <- fmt.Sprintf("adv %s %s %d %v", adv.LocalName(), adv.Addr(), adv.RSSI(), adv.Services())
}
func (r *recorder) OnScanFailed(err error) { r.events <- "scan failed: " + err.Error() }

func (r *recorder) OnConnectionStateChange(_ device.Gatt, status device.Status, state device.LinkState) {
	r.events <- fmt.Sprintf("link %s %s", state, status)
}
func (r *recorder) OnServicesDiscovered(_ device.Gatt, status device.Status) {
	r.events <- "discovered " + status.String()
}
func (r *recorder) OnMtuChanged(_ device.Gatt, mtu int, status device.Status) {
	r.events <- fmt.Sprintf("mtu %d %s", mtu, status)
}
func (r *recorder) OnCharacteristicRead(_ device.Gatt, c device.Characteristic, value []byte, status device.Status) {
	r.events <- fmt.Sprintf("read %s % x %s", c.UUID(), value, status)
}
func (r *recorder) OnCharacteristicWrite(_ device.Gatt, c device.Characteristic, status device.Status) {
	r.events <- fmt.Sprintf("write %s %s", c.UUID(), status)
}
func (r *recorder) OnCharacteristicChanged(_ device.Gatt, c device.Characteristic, value []byte) {
	r.events <- fmt.Sprintf("changed %s % x", c.UUID(), value)
}

type GattTestSuite struct {
	suite.Suite

	originalFactory func() (ble.Device, error)
	client          *fakeClient
	weight          *ble.Characteristic
	config          *ble.Characteristic
	rec             *recorder
	adapter         *Adapter
}

func (s *GattTestSuite) SetupTest() {
	s.weight = &ble.Characteristic{UUID: ble.UUID16(0x2a98), Property: ble.CharRead | ble.CharNotify}
	s.config = &ble.Characteristic{UUID: ble.UUID16(0x2a99), Property: ble.CharRead | ble.CharWrite}
	s.client = &fakeClient{
		profile: &ble.Profile{Services: []*ble.Service{{
			UUID:            ble.UUID16(0x181d),
			Characteristics: []*ble.Characteristic{s.weight, s.config},
		}}},
		values:       map[*ble.Characteristic][]byte{s.weight: {12, 34, 0}, s.config: {1, 20, 0, 1}},
		handlers:     make(map[*ble.Characteristic]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}

	s.originalFactory = DeviceFactory
	DeviceFactory = func() (ble.Device, error) {
		return &fakeDevice{
			dial: func(ctx context.Context, a ble.Addr) (ble.Client, error) { return s.client, nil },
		}, nil
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s.adapter = NewAdapter(logger)
	s.rec = newRecorder()
}

func (s *GattTestSuite) TearDownTest() {
	DeviceFactory = s.originalFactory
}

func (s *GattTestSuite) expect(want string) {
	s.T().Helper()
	select {
	case got := <-s.rec.events:
		s.Require().Equal(want, got)
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for " + want)
	}
}

func (s *GattTestSuite) connect() device.Gatt {
	g, err := s.adapter.ConnectGatt(testAddress, s.rec)
	s.Require().NoError(err)
	s.expect("link connected success")
	s.Require().NoError(g.DiscoverServices())
	s.expect("discovered success")
	return g
}

func (s *GattTestSuite) TestDiscoverBuildsTable() {
	g := s.connect()

	services := g.Services()
	s.Require().Len(services, 1)
	s.Equal("181d", services[0].UUID())
	chars := services[0].Characteristics()
	s.Require().Len(chars, 2)
	s.Equal("2a98", chars[0].UUID())
	s.Equal("181d", chars[0].Service())
	s.True(chars[0].Properties().CanNotify())
	s.True(chars[1].Properties().CanWrite())

	_, err := g.GetCharacteristic("181d", "2a00")
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
	_, err = g.GetCharacteristic("1800", "2a98")
	s.ErrorAs(err, &nf)
}

func (s *GattTestSuite) TestReadWriteAndMtu() {
	g := s.connect()

	weight, err := g.GetCharacteristic("181d", "2a98")
	s.Require().NoError(err)
	config, err := g.GetCharacteristic("0x181D", "2A99")
	s.Require().NoError(err)

	s.Require().NoError(g.RequestMtu(517))
	s.expect("mtu 185 success")

	s.Require().NoError(g.ReadCharacteristic(weight))
	s.expect("read 2a98 0c 22 00 success")

	s.Require().NoError(g.WriteCharacteristic(config, []byte{2, 3, 5, 0}, true))
	s.expect("write 2a99 success")
	s.Equal([]string{"02 03 05 00 noRsp=false"}, s.client.writes)

	s.client.mu.Lock()
	s.client.readErr = ble.ATTError(0x02)
	s.client.mu.Unlock()
	s.Require().NoError(g.ReadCharacteristic(config))
	s.expect("read 2a99  read not permitted")
}

func (s *GattTestSuite) TestNotificationsAreSubscribedOnDiscovery() {
	s.connect()

	s.client.mu.Lock()
	_, weightSubscribed := s.client.handlers[s.weight]
	_, configSubscribed := s.client.handlers[s.config]
	s.client.mu.Unlock()
	s.True(weightSubscribed)
	s.False(configSubscribed, "config does not notify")

	s.client.notify(s.weight, []byte{1, 2, 0})
	s.expect("changed 2a98 01 02 00")
}

func (s *GattTestSuite) TestDisconnectReportsOnce() {
	g := s.connect()

	s.Require().NoError(g.Disconnect())
	s.expect("link disconnected success")
	s.ErrorIs(g.Disconnect(), device.ErrNotConnected)

	select {
	case extra := <-s.rec.events:
		s.Failf("unexpected callback", "%s", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *GattTestSuite) TestLinkLossReportsFailure() {
	s.connect()

	close(s.client.disconnected)
	s.expect("link disconnected failure")
}

func (s *GattTestSuite) TestCloseRejectsRequests() {
	g := s.connect()
	weight, err := g.GetCharacteristic("181d", "2a98")
	s.Require().NoError(err)

	s.Require().NoError(g.Close())
	s.Require().NoError(g.Close())
	s.ErrorIs(g.ReadCharacteristic(weight), device.ErrNotConnected)
	s.Eventually(func() bool {
		s.client.mu.Lock()
		defer s.client.mu.Unlock()
		return s.client.cancelled == 1
	}, time.Second, 5*time.Millisecond)
}

func (s *GattTestSuite) TestDialFailure() {
	DeviceFactory = func() (ble.Device, error) {
		return &fakeDevice{
			dial: func(ctx context.Context, a ble.Addr) (ble.Client, error) {
				return nil, errors.New("connection refused")
			},
		}, nil
	}
	adapter := NewAdapter(s.adapter.logger)

	_, err := adapter.ConnectGatt(testAddress, s.rec)
	s.Require().NoError(err)
	s.expect("link disconnected failure")
}

func (s *GattTestSuite) TestEmptyAddress() {
	_, err := s.adapter.ConnectGatt("  ", s.rec)
	s.Error(err)
}

func TestGattTestSuite(t *testing.T) {
	suite.Run(t, new(GattTestSuite))
}

func TestAdapterScan(t *testing.T) {
	original := DeviceFactory
	t.Cleanup(func() { DeviceFactory = original })

	stopped := make(chan struct{})
	DeviceFactory = func() (ble.Device, error) {
		return &fakeDevice{
			scan: func(ctx context.Context, h ble.AdvHandler) error {
				h(fakeAdvertisement{name: "Robotic Sorting System", addr: testAddress, rssi: -60})
				<-ctx.Done()
				close(stopped)
				return ctx.Err()
			},
		}, nil
	}

	adapter := NewAdapter(nil)
	rec := newRecorder()
	require.NoError(t, adapter.StartScan(rec))
	require.NoError(t, adapter.StartScan(rec), "second start is a no-op")

	select {
	case got := <-rec.events:
		assert.Equal(t, "adv Robotic Sorting System "+testAddress+" -60 [180d]", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no advertisement delivered")
	}

	require.NoError(t, adapter.StopScan())
	require.NoError(t, adapter.StopScan())
	<-stopped

	select {
	case got := <-rec.events:
		t.Fatalf("stop must not report a failure, got %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdapterScanFailure(t *testing.T) {
	original := DeviceFactory
	t.Cleanup(func() { DeviceFactory = original })

	DeviceFactory = func() (ble.Device, error) {
		return &fakeDevice{
			scan: func(ctx context.Context, h ble.AdvHandler) error {
				return errors.New(darwinPoweredOff)
			},
		}, nil
	}

	adapter := NewAdapter(nil)
	rec := newRecorder()
	require.NoError(t, adapter.StartScan(rec))

	select {
	case got := <-rec.events:
		assert.Contains(t, got, "scan failed: bluetooth_off")
	case <-time.After(2 * time.Second):
		t.Fatal("no failure delivered")
	}

	// The failed scan no longer counts as running.
	require.NoError(t, adapter.StartScan(rec))
}

func TestAdapterDeviceError(t *testing.T) {
	original := DeviceFactory
	t.Cleanup(func() { DeviceFactory = original })

	DeviceFactory = func() (ble.Device, error) {
		return nil, errors.New(darwinPoweredOff)
	}

	adapter := NewAdapter(nil)
	err := adapter.StartScan(newRecorder())
	assert.ErrorIs(t, err, device.ErrBluetoothOff)

	_, err = adapter.ConnectGatt(testAddress, newRecorder())
	assert.ErrorIs(t, err, device.ErrBluetoothOff)
}
