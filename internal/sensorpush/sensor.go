package sensorpush

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openmsi/htstream/internal/device"
)

// DefaultConnectionRetries is how many dial attempts are made before giving up.
const DefaultConnectionRetries = 5

// retryDelay spaces out consecutive dial attempts. Sensors that just finished
// advertising a connection can take a moment to accept a new one.
const retryDelay = 2 * time.Second

// Sensor is a client for one SensorPush HT.w device.
type Sensor struct {
	address string
	retries int
	logger  *logrus.Logger
	conn    device.Conn
}

// NewSensor creates a client for the sensor at the given address.
// retries <= 0 falls back to DefaultConnectionRetries.
func NewSensor(address string, retries int, logger *logrus.Logger) *Sensor {
	if retries <= 0 {
		retries = DefaultConnectionRetries
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Sensor{address: address, retries: retries, logger: logger}
}

// Address returns the sensor's BLE address.
func (s *Sensor) Address() string {
	return s.address
}

// Connect dials the sensor, retrying failed attempts up to the configured
// retry count.
func (s *Sensor) Connect(ctx context.Context) error {
	if s.conn != nil {
		return device.ErrAlreadyConnected
	}

	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"attempt": attempt,
		}).Debug("Connecting to SensorPush device...")

		conn, err := device.Dial(ctx, s.address, &device.ConnectOptions{ConnectTimeout: device.DefaultConnectTimeout}, s.logger)
		if err == nil {
			s.logger.WithField("address", s.address).Debug("Connected!")
			s.conn = conn
			return nil
		}
		lastErr = err

		if attempt < s.retries {
			s.logger.WithFields(logrus.Fields{
				"address":   s.address,
				"remaining": s.retries - attempt,
			}).Debug("Failed a connection attempt, retrying...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return fmt.Errorf("failed to connect to %s after %d retries: %w", s.address, s.retries, lastErr)
}

// Disconnect closes the connection if one is open.
func (s *Sensor) Disconnect() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Disconnect()
	s.conn = nil
	return err
}

// ReadTemperature reads a fresh temperature sample in degrees Celsius.
func (s *Sensor) ReadTemperature(ctx context.Context) (float64, error) {
	return s.readMeasurement(ctx, TemperatureCharUUID)
}

// ReadHumidity reads a fresh relative humidity sample in percent.
func (s *Sensor) ReadHumidity(ctx context.Context) (float64, error) {
	return s.readMeasurement(ctx, HumidityCharUUID)
}

// ReadSample reads temperature and humidity and returns them as one timestamped
// Reading.
func (s *Sensor) ReadSample(ctx context.Context) (Reading, error) {
	temp, err := s.ReadTemperature(ctx)
	if err != nil {
		return Reading{}, err
	}
	hum, err := s.ReadHumidity(ctx)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		DeviceAddress: s.address,
		Timestamp:     time.Now(),
		TemperatureC:  temp,
		Humidity:      hum,
	}, nil
}

// Blink flashes the sensor's LED n times, then resets the LED state.
// It blocks for roughly one second per blink so the reset does not cut the
// sequence short.
func (s *Sensor) Blink(ctx context.Context, n int) error {
	if s.conn == nil {
		return device.ErrNotConnected
	}
	payload, err := EncodeBlinkCount(n)
	if err != nil {
		return err
	}
	if err := s.conn.Write(ctx, LEDCharUUID, payload, true); err != nil {
		return fmt.Errorf("failed to start LED blinking: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(n) * time.Second):
	}

	reset, _ := EncodeBlinkCount(0)
	if err := s.conn.Write(ctx, LEDCharUUID, reset, true); err != nil {
		return fmt.Errorf("failed to reset LED state: %w", err)
	}
	return nil
}

// readMeasurement triggers a fresh sample on the characteristic and decodes the
// value read back.
func (s *Sensor) readMeasurement(ctx context.Context, charUUID string) (float64, error) {
	if s.conn == nil {
		return 0, device.ErrNotConnected
	}
	if err := s.conn.Write(ctx, charUUID, sampleTrigger, true); err != nil {
		return 0, fmt.Errorf("failed to trigger sample on %s: %w", charUUID, err)
	}
	data, err := s.conn.Read(ctx, charUUID)
	if err != nil {
		return 0, err
	}
	return DecodeMeasurement(data)
}
