package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/rsslink/internal/device"
)

var propertyFlags = []struct {
	ble ble.Property
	dev device.Properties
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropSignedWrite},
	{ble.CharExtended, device.PropExtended},
}

// NewProperties creates device.Properties from ble.Property bit flags.
func NewProperties(p ble.Property) device.Properties {
	var props device.Properties
	for _, f := range propertyFlags {
		if p&f.ble != 0 {
			props |= f.dev
		}
	}
	return props
}
