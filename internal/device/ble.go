package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// NewScanner returns a Scanner backed by the native BLE transport.
// Overridable in tests to inject synthetic advertisements.
var NewScanner = func(logger *logrus.Logger) (Scanner, error) {
	dev, err := newNativeDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	return &bleScanner{dev: dev, logger: logger}, nil
}

// Dial opens a GATT connection to the peripheral at address.
// Overridable in tests to avoid hardware dependence.
var Dial = func(ctx context.Context, address string, opts *ConnectOptions, logger *logrus.Logger) (Conn, error) {
	if opts == nil {
		opts = &ConnectOptions{ConnectTimeout: DefaultConnectTimeout}
	}
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := newNativeDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	connCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(fmt.Errorf("failed to connect to device %q: %w", address, err))
	}

	logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			logger.WithError(cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			chars[NormalizeUUID(char.UUID.String())] = char
		}
	}

	logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Info("BLE device connected")

	return &bleConn{
		address: address,
		client:  client,
		chars:   chars,
		logger:  logger,
	}, nil
}

// bleScanner adapts a ble.Device to the Scanner interface.
type bleScanner struct {
	dev    ble.Device
	logger *logrus.Logger
}

func (s *bleScanner) Scan(ctx context.Context, allowDuplicates bool, handler func(Advertisement)) error {
	return s.dev.Scan(ctx, allowDuplicates, func(adv ble.Advertisement) {
		handler(&bleAdvertisement{adv})
	})
}

// bleAdvertisement adapts ble.Advertisement to the Advertisement interface.
type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a *bleAdvertisement) LocalName() string        { return a.adv.LocalName() }
func (a *bleAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *bleAdvertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *bleAdvertisement) RSSI() int                { return a.adv.RSSI() }
func (a *bleAdvertisement) Addr() string             { return a.adv.Addr().String() }

func (a *bleAdvertisement) Services() []string {
	uuids := a.adv.Services()
	services := make([]string, 0, len(uuids))
	for _, u := range uuids {
		services = append(services, NormalizeUUID(u.String()))
	}
	return services
}

// bleConn implements Conn over a go-ble client with a discovered profile.
type bleConn struct {
	address string
	client  ble.Client
	chars   map[string]*ble.Characteristic
	logger  *logrus.Logger

	mu     sync.Mutex
	closed bool
}

func (c *bleConn) Address() string {
	return c.address
}

func (c *bleConn) characteristic(charUUID string) (*ble.Characteristic, error) {
	normalized := NormalizeUUID(charUUID)
	char, ok := c.chars[normalized]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, charUUID)
	}
	return char, nil
}

func (c *bleConn) Read(ctx context.Context, charUUID string) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	char, err := c.characteristic(charUUID)
	if err != nil {
		return nil, err
	}
	data, err := c.client.ReadCharacteristic(char)
	if err != nil {
		return nil, NormalizeError(fmt.Errorf("failed to read characteristic %s: %w", charUUID, err))
	}
	return data, nil
}

func (c *bleConn) Write(ctx context.Context, charUUID string, data []byte, withResponse bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	char, err := c.characteristic(charUUID)
	if err != nil {
		return err
	}
	if err := c.client.WriteCharacteristic(char, data, !withResponse); err != nil {
		return NormalizeError(fmt.Errorf("failed to write characteristic %s: %w", charUUID, err))
	}
	return nil
}

func (c *bleConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.WithField("address", c.address).Debug("Disconnecting BLE device")
	return c.client.CancelConnection()
}

func (c *bleConn) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	return nil
}
