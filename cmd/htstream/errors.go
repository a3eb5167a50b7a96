package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/openmsi/htstream/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost
	// while a long-running operation was using it. This is distinct from
	// device.ErrNotConnected, which indicates an attempt to use a device that
	// was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns low-level errors into messages suitable for a
// terminal user.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, ErrConnectionLost):
		return "lost the connection to the sensor; move closer and try again"
	case errors.Is(err, device.ErrNotConnected):
		return "the sensor is not connected"
	case errors.Is(err, context.DeadlineExceeded):
		return "the operation timed out"
	default:
		return fmt.Sprintf("%v", err)
	}
}
