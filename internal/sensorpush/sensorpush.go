// Package sensorpush talks to SensorPush HT.w temperature/humidity sensors
// over their vendor GATT service.
package sensorpush

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Vendor GATT UUIDs for the HT.w sensor service.
const (
	ServiceUUID         = "EF090000-11D6-42BA-93B8-9DD7EC090AA9"
	TemperatureCharUUID = "EF090080-11D6-42BA-93B8-9DD7EC090AA9"
	HumidityCharUUID    = "EF090081-11D6-42BA-93B8-9DD7EC090AA9"
	LEDCharUUID         = "EF09000C-11D6-42BA-93B8-9DD7EC090AA9"
)

// MaxBlinks is the largest blink count that fits the LED characteristic's
// single-byte payload.
const MaxBlinks = 127

// sampleTrigger is written to a measurement characteristic to make the sensor
// take a fresh sample before the value is read back.
var sampleTrigger = []byte{0x01, 0x00, 0x00, 0x00}

// Reading is one timestamped temperature/humidity sample from a sensor.
type Reading struct {
	DeviceAddress string    `json:"device_address"`
	Timestamp     time.Time `json:"timestamp"`
	TemperatureC  float64   `json:"temperature_c"`
	Humidity      float64   `json:"humidity"`
}

// DecodeMeasurement decodes a measurement characteristic value.
// The sensor reports a little-endian signed 32-bit integer holding the
// measured value multiplied by 100; temperatures may be negative.
func DecodeMeasurement(data []byte) (float64, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("measurement value too short: got %d bytes, want 4", len(data))
	}
	raw := int32(binary.LittleEndian.Uint32(data[:4]))
	return float64(raw) / 100.0, nil
}

// EncodeBlinkCount encodes a blink count for the LED characteristic.
func EncodeBlinkCount(n int) ([]byte, error) {
	if n < 0 || n > MaxBlinks {
		return nil, fmt.Errorf("blink count must be between 0 and %d (%d given)", MaxBlinks, n)
	}
	return []byte{byte(n)}, nil
}
