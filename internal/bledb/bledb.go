// Package bledb normalizes BLE UUIDs and resolves them to human-readable names.
//
// The static tables hold the Bluetooth SIG attributes the sorting system
// exposes alongside its own service. Vendor attributes are added at runtime
// with Register so that log lines can show "Weight" instead of a 128-bit UUID.
package bledb

import (
	"strings"

	"github.com/cornelk/hashmap"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID 0000xxxx-0000-1000-8000-00805f9b34fb.
const sigBaseSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180f": "Battery Service",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a04": "Peripheral Preferred Connection Parameters",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a26": "Firmware Revision String",
	"2a29": "Manufacturer Name String",
	"2b29": "Client Supported Features",
	"2b2a": "Database Hash",
}

var registered = hashmap.New[string, string]()

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Braces and a 0x prefix are stripped. Full 128-bit UUIDs in the Bluetooth SIG base
// format are shortened to their 16-bit form. Returns an empty string for input
// that is not a 16, 32 or 128-bit hex UUID.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	switch len(s) {
	case 4, 8, 32:
	default:
		return ""
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// Register attaches a human-readable name to a vendor UUID.
// Registering the same UUID again replaces the name.
func Register(uuid, name string) {
	if n := NormalizeUUID(uuid); n != "" {
		registered.Set(n, name)
	}
}

// LookupService returns the name of a known service or an empty string.
func LookupService(uuid string) string {
	n := NormalizeUUID(uuid)
	if name, ok := services[n]; ok {
		return name
	}
	name, _ := registered.Get(n)
	return name
}

// LookupCharacteristic returns the name of a known characteristic or an empty string.
func LookupCharacteristic(uuid string) string {
	n := NormalizeUUID(uuid)
	if name, ok := characteristics[n]; ok {
		return name
	}
	name, _ := registered.Get(n)
	return name
}

// Describe renders a UUID for logs: "Name (uuid)" when the name is known, the normalized UUID otherwise.
func Describe(uuid string) string {
	n := NormalizeUUID(uuid)
	if n == "" {
		return uuid
	}
	name := LookupService(n)
	if name == "" {
		name = LookupCharacteristic(n)
	}
	if name == "" {
		return n
	}
	return name + " (" + n + ")"
}
