package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/rsslink/internal/device"
)

// CharacteristicConfig represents a characteristic of a fake peripheral
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a service of a fake peripheral
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig is the complete profile and behaviour of a fake peripheral
type PeripheralConfig struct {
	Name     string          `json:"name"`
	Address  string          `json:"address"`
	Services []ServiceConfig `json:"services"`
	MaxMTU   int             `json:"max_mtu,omitempty"`
}

// PeripheralBuilder builds a FakePeripheral.
type PeripheralBuilder struct {
	config PeripheralConfig

	connectStatus  device.Status
	discoverStatus device.Status
	readStatus     map[string]device.Status
	writeStatus    map[string]device.Status
	silentReads    map[string]bool
	silentMtu      bool
	silentConnect  bool
}

// NewPeripheralBuilder creates a builder for a peripheral with no services.
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		config:      PeripheralConfig{MaxMTU: 517},
		readStatus:  map[string]device.Status{},
		writeStatus: map[string]device.Status{},
		silentReads: map[string]bool{},
	}
}

// WithName sets the advertised local name.
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.config.Name = name
	return b
}

// WithAddress sets the peripheral address.
func (b *PeripheralBuilder) WithAddress(addr string) *PeripheralBuilder {
	b.config.Address = addr
	return b
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.config.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.config.Services) - 1
	b.config.Services[last].Characteristics = append(b.config.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithMaxMTU sets the largest MTU the peripheral agrees to.
func (b *PeripheralBuilder) WithMaxMTU(mtu int) *PeripheralBuilder {
	b.config.MaxMTU = mtu
	return b
}

// WithConnectStatus makes the connection callback report status.
func (b *PeripheralBuilder) WithConnectStatus(status device.Status) *PeripheralBuilder {
	b.connectStatus = status
	return b
}

// WithDiscoverStatus makes service discovery report status.
func (b *PeripheralBuilder) WithDiscoverStatus(status device.Status) *PeripheralBuilder {
	b.discoverStatus = status
	return b
}

// WithReadStatus makes reads of the characteristic report status.
func (b *PeripheralBuilder) WithReadStatus(uuid string, status device.Status) *PeripheralBuilder {
	b.readStatus[device.NormalizeUUID(uuid)] = status
	return b
}

// WithWriteStatus makes writes of the characteristic report status.
func (b *PeripheralBuilder) WithWriteStatus(uuid string, status device.Status) *PeripheralBuilder {
	b.writeStatus[device.NormalizeUUID(uuid)] = status
	return b
}

// WithSilentRead makes reads of the characteristic never call back until ReleaseReads.
func (b *PeripheralBuilder) WithSilentRead(uuid string) *PeripheralBuilder {
	b.silentReads[device.NormalizeUUID(uuid)] = true
	return b
}

// WithSilentMtu makes MTU requests never call back.
func (b *PeripheralBuilder) WithSilentMtu() *PeripheralBuilder {
	b.silentMtu = true
	return b
}

// WithSilentConnect makes connection attempts never call back.
func (b *PeripheralBuilder) WithSilentConnect() *PeripheralBuilder {
	b.silentConnect = true
	return b
}

// FromJSON fills the profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config PeripheralConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.MaxMTU == 0 {
		config.MaxMTU = b.config.MaxMTU
	}
	b.config = config
	return b
}

// Advertisement returns the advertisement this peripheral broadcasts.
func (b *PeripheralBuilder) Advertisement() *FakeAdvertisement {
	return NewAdvertisementBuilder().
		WithName(b.config.Name).
		WithAddress(b.config.Address).
		WithRSSI(-60).
		Build()
}

// Build creates the peripheral.
func (b *PeripheralBuilder) Build() *FakePeripheral {
	p := &FakePeripheral{
		config:         b.config,
		connectStatus:  b.connectStatus,
		discoverStatus: b.discoverStatus,
		readStatus:     copyStatus(b.readStatus),
		writeStatus:    copyStatus(b.writeStatus),
		silentReads:    map[string]bool{},
		silentMtu:      b.silentMtu,
		silentConnect:  b.silentConnect,
		values:         map[string][]byte{},
	}
	for k, v := range b.silentReads {
		p.silentReads[k] = v
	}

	for _, sc := range b.config.Services {
		svc := &fakeService{uuid: device.NormalizeUUID(sc.UUID)}
		for _, cc := range sc.Characteristics {
			props := device.PropRead | device.PropWrite | device.PropNotify
			if cc.Properties != "" {
				parsed, err := device.ParseProperties(cc.Properties)
				if err != nil {
					panic(fmt.Sprintf("PeripheralBuilder.Build: %v", err))
				}
				props = parsed
			}
			c := &fakeCharacteristic{uuid: device.NormalizeUUID(cc.UUID), service: svc.uuid, props: props}
			svc.chars = append(svc.chars, c)
			p.values[c.uuid] = append([]byte(nil), cc.Value...)
		}
		p.services = append(p.services, svc)
	}
	return p
}

func copyStatus(m map[string]device.Status) map[string]device.Status {
	out := make(map[string]device.Status, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
