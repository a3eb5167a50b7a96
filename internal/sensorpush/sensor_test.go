package sensorpush

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmsi/htstream/internal/device"
)

// fakeConn is an in-memory GATT connection. Reads return the value last staged
// for the characteristic; writes are recorded.
type fakeConn struct {
	mu      sync.Mutex
	address string
	values  map[string][]byte
	writes  map[string][][]byte
	readErr error
}

func newFakeConn(address string) *fakeConn {
	return &fakeConn{
		address: address,
		values:  make(map[string][]byte),
		writes:  make(map[string][][]byte),
	}
}

func (c *fakeConn) stage(charUUID string, value float64) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(int32(value*100)))
	c.mu.Lock()
	c.values[device.NormalizeUUID(charUUID)] = data
	c.mu.Unlock()
}

func (c *fakeConn) Address() string { return c.address }

func (c *fakeConn) Read(_ context.Context, charUUID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	data, ok := c.values[device.NormalizeUUID(charUUID)]
	if !ok {
		return nil, device.ErrCharacteristicNotFound
	}
	return data, nil
}

func (c *fakeConn) Write(_ context.Context, charUUID string, data []byte, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	normalized := device.NormalizeUUID(charUUID)
	c.writes[normalized] = append(c.writes[normalized], append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Disconnect() error { return nil }

// dialWith overrides device.Dial for the duration of the test.
func dialWith(t *testing.T, dial func(context.Context, string, *device.ConnectOptions, *logrus.Logger) (device.Conn, error)) {
	t.Helper()
	original := device.Dial
	device.Dial = dial
	t.Cleanup(func() { device.Dial = original })
}

func TestSensor_ReadSample(t *testing.T) {
	conn := newFakeConn("00:00:00:00:00:01")
	conn.stage(TemperatureCharUUID, 21.57)
	conn.stage(HumidityCharUUID, 48.2)
	dialWith(t, func(context.Context, string, *device.ConnectOptions, *logrus.Logger) (device.Conn, error) {
		return conn, nil
	})

	s := NewSensor("00:00:00:00:00:01", 1, logrus.New())
	require.NoError(t, s.Connect(context.Background()))
	defer func() { _ = s.Disconnect() }()

	reading, err := s.ReadSample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "00:00:00:00:00:01", reading.DeviceAddress)
	assert.InDelta(t, 21.57, reading.TemperatureC, 0.001)
	assert.InDelta(t, 48.2, reading.Humidity, 0.001)
	assert.False(t, reading.Timestamp.IsZero())

	// Each measurement read is preceded by a sample trigger write
	assert.Len(t, conn.writes[device.NormalizeUUID(TemperatureCharUUID)], 1)
	assert.Len(t, conn.writes[device.NormalizeUUID(HumidityCharUUID)], 1)
}

func TestSensor_ConnectRetries(t *testing.T) {
	attempts := 0
	conn := newFakeConn("00:00:00:00:00:01")
	dialWith(t, func(context.Context, string, *device.ConnectOptions, *logrus.Logger) (device.Conn, error) {
		attempts++
		if attempts < 3 {
			return nil, device.ErrNotConnected
		}
		return conn, nil
	})

	s := NewSensor("00:00:00:00:00:01", 5, logrus.New())
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 3, attempts)
}

func TestSensor_ConnectExhaustsRetries(t *testing.T) {
	dialWith(t, func(context.Context, string, *device.ConnectOptions, *logrus.Logger) (device.Conn, error) {
		return nil, device.ErrNotConnected
	})

	s := NewSensor("00:00:00:00:00:01", 2, logrus.New())
	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrNotConnected)
}

func TestSensor_ReadWithoutConnect(t *testing.T) {
	s := NewSensor("00:00:00:00:00:01", 1, logrus.New())
	_, err := s.ReadTemperature(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)
}

func TestSensor_Blink(t *testing.T) {
	conn := newFakeConn("00:00:00:00:00:01")
	dialWith(t, func(context.Context, string, *device.ConnectOptions, *logrus.Logger) (device.Conn, error) {
		return conn, nil
	})

	s := NewSensor("00:00:00:00:00:01", 1, logrus.New())
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Blink(context.Background(), 0))
	writes := conn.writes[device.NormalizeUUID(LEDCharUUID)]
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{0x00}, writes[0])
	assert.Equal(t, []byte{0x00}, writes[1])

	err := s.Blink(context.Background(), MaxBlinks+1)
	require.Error(t, err)
}

func TestDecodeMeasurement(t *testing.T) {
	data := make([]byte, 4)
	raw := int32(-1043) // -10.43 degC
	binary.LittleEndian.PutUint32(data, uint32(raw))
	v, err := DecodeMeasurement(data)
	require.NoError(t, err)
	assert.InDelta(t, -10.43, v, 0.001)

	_, err = DecodeMeasurement([]byte{0x01})
	require.Error(t, err)
}
