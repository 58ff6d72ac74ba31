// Package device is the hardware boundary of the session manager.
//
// It describes a BLE central as a set of callback-driven interfaces: every
// request on a Gatt handle returns immediately and its outcome arrives later
// through exactly one GattCallback method. Backends (go-ble, tinygo) adapt
// their blocking libraries to this contract; tests use an in-memory fake.
//
// The package also owns the vocabulary shared by the layers above it:
// ATT/GATT status codes, link states, characteristic property flags, and the
// structured NotFoundError and ConnectionError types.
package device
