// Package device is a thin abstraction over the go-ble transport: advertisement
// scanning and GATT characteristic reads/writes on a dialed connection. The
// factory and dialer variables exist so tests can inject fakes without any
// Bluetooth hardware.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionState identifies the kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// ErrCharacteristicNotFound indicates the dialed device does not expose the
// requested characteristic.
var ErrCharacteristicNotFound = errors.New("characteristic not found")

// NormalizeError maps known go-ble error strings to structured ConnectionError
// types so callers get consistent handling even if the upstream library changes
// messages slightly. Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "device not connected"),
		strings.Contains(msg, "can't dial"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case strings.Contains(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case strings.Contains(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// Advertisement is the subset of a BLE advertisement the toolkit cares about.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []string
	Connectable() bool
	RSSI() int
	Addr() string
}

// Scanner scans for BLE advertisements until the context is done.
type Scanner interface {
	Scan(ctx context.Context, allowDuplicates bool, handler func(Advertisement)) error
}

// Conn is an open GATT connection to a peripheral.
type Conn interface {
	// Address returns the address the connection was dialed with.
	Address() string
	// Read reads the value of the characteristic with the given UUID.
	Read(ctx context.Context, charUUID string) ([]byte, error)
	// Write writes data to the characteristic with the given UUID.
	Write(ctx context.Context, charUUID string, data []byte, withResponse bool) error
	// Disconnect tears the connection down. Safe to call more than once.
	Disconnect() error
}

// ConnectOptions configures dialing behavior.
type ConnectOptions struct {
	ConnectTimeout time.Duration
}

// DefaultConnectTimeout bounds a single dial attempt.
const DefaultConnectTimeout = 30 * time.Second
