package device

// Advertisement is a single advertising report seen during a scan.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []string
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() string
}

// ScanCallback receives scan events. Implementations must not block.
type ScanCallback interface {
	OnScanResult(adv Advertisement)
	OnScanFailed(err error)
}

// Scanner starts and stops an unfiltered advertisement scan.
type Scanner interface {
	// StartScan begins delivering every advertisement to cb until StopScan.
	StartScan(cb ScanCallback) error
	// StopScan is idempotent.
	StopScan() error
}

// Connector opens GATT client connections.
type Connector interface {
	// ConnectGatt starts connecting to address and returns the handle immediately.
	// The outcome is reported through cb.OnConnectionStateChange.
	ConnectGatt(address string, cb GattCallback) (Gatt, error)
}

// Adapter is a BLE central radio.
type Adapter interface {
	Scanner
	Connector
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
	Service() string
	Properties() Properties
}

// Service is a discovered GATT service.
type Service interface {
	UUID() string
	Characteristics() []Characteristic
}

// Gatt is a GATT client handle for one peripheral.
//
// Request methods never block on the radio: a nil error means the request was
// accepted and exactly one matching GattCallback method will follow. Writes
// without response report through OnCharacteristicWrite as well.
type Gatt interface {
	Address() string

	Disconnect() error
	// Close releases the native handle. Safe to call more than once.
	Close() error

	DiscoverServices() error
	RequestMtu(mtu int) error

	// Services returns the result of the last successful discovery in discovery order.
	Services() []Service
	// GetCharacteristic returns a *NotFoundError when the service or characteristic is unknown.
	GetCharacteristic(service, characteristic string) (Characteristic, error)

	ReadCharacteristic(c Characteristic) error
	WriteCharacteristic(c Characteristic, value []byte, withResponse bool) error
}

// GattCallback receives the outcome of every Gatt request and unsolicited link events.
// Backends may call it from any goroutine.
type GattCallback interface {
	OnConnectionStateChange(g Gatt, status Status, state LinkState)
	OnServicesDiscovered(g Gatt, status Status)
	OnMtuChanged(g Gatt, mtu int, status Status)
	OnCharacteristicRead(g Gatt, c Characteristic, value []byte, status Status)
	OnCharacteristicWrite(g Gatt, c Characteristic, status Status)
	OnCharacteristicChanged(g Gatt, c Characteristic, value []byte)
}
