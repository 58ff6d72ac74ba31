// Package rss is the client side of the Robotic Sorting System peripheral.
//
// A Manager finds the peripheral by its advertised name, supervises the GATT
// session and publishes weight, configuration and connection state as
// Result streams. Byte codecs for the two characteristics live here as well.
package rss

import (
	"github.com/srg/rsslink/internal/bledb"
)

// PeripheralIdentity is the attribute contract the peripheral advertises.
type PeripheralIdentity struct {
	Name          string `yaml:"name"`
	Service       string `yaml:"service"`
	Weight        string `yaml:"weight"`
	Configuration string `yaml:"configuration"`
	MTU           int    `yaml:"mtu"`
}

// DefaultIdentity returns the identity the sorting system firmware ships with.
func DefaultIdentity() PeripheralIdentity {
	return PeripheralIdentity{
		Name:          "Robotic Sorting System",
		Service:       "4f5a4acc-6434-4d33-a791-589fdca0daf5",
		Weight:        "4f5641bf-1119-4d1f-932d-fff7840ddc02",
		Configuration: "89097689-8bc2-44cb-9142-f17c71ed24f8",
		MTU:           517,
	}
}

// register names the identity's attributes for log output.
func (id PeripheralIdentity) register() {
	bledb.Register(id.Service, id.Name+" service")
	bledb.Register(id.Weight, "Weight")
	bledb.Register(id.Configuration, "Configuration")
}
