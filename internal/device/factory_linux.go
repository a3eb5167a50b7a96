//go:build linux

package device

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// newNativeDevice creates the HCI-backed BLE device.
func newNativeDevice() (ble.Device, error) {
	return linux.NewDevice()
}
