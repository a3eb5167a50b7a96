// Package scanner handles BLE discovery of SensorPush sensors.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/openmsi/htstream/internal/device"
	"github.com/openmsi/htstream/internal/ringchan"
)

// SensorNamePrefix is the start of all SensorPush HT.w devices' names.
const SensorNamePrefix = "SensorPush HT.w"

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent is emitted on the scanner's event channel for every matching
// advertisement.
type DeviceEvent struct {
	Type      DeviceEventType
	Device    Discovered
	Timestamp time.Time
}

// Discovered describes one device seen during a scan.
type Discovered struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	Services    []string  `json:"services,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	// Timeout bounds the whole scan. Zero means scan until cancelled.
	Timeout time.Duration
	// NamePrefix keeps only devices whose advertised name starts with it.
	// Empty keeps every named device.
	NamePrefix string
	// StopEarly ends the scan as soon as the first matching device is found.
	StopEarly bool
	// DuplicateFilter drops repeat advertisements from the same device.
	DuplicateFilter bool
	// AllowList keeps only these addresses; BlockList hides these addresses.
	AllowList []string
	BlockList []string
}

// DefaultScanOptions returns the options used for sensor discovery.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Timeout:         30 * time.Second,
		NamePrefix:      SensorNamePrefix,
		StopEarly:       true,
		DuplicateFilter: true,
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	devices *hashmap.Map[string, Discovered]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger

	opts *ScanOptions
	stop context.CancelFunc
}

// NewScanner creates a new BLE scanner
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		events: ringchan.New[DeviceEvent](100),
		logger: logger,
	}
}

// Events returns the channel of discovery events. Useful for watch-style
// consumers that redraw while a scan is still running.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// Scan performs BLE discovery with provided options and returns the devices
// seen, keyed by address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]Discovered, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	s.devices = hashmap.New[string, Discovered]()
	s.opts = opts

	s.logger.WithFields(logrus.Fields{
		"timeout":     opts.Timeout,
		"name_prefix": opts.NamePrefix,
	}).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	scanCtx, s.stop = context.WithCancel(scanCtx)
	defer s.stop()

	dev, err := device.NewScanner(s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	err = dev.Scan(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	devices := make(map[string]Discovered, s.devices.Len())
	s.devices.Range(func(key string, value Discovered) bool {
		devices[key] = value
		return true
	})
	return devices, nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	if !s.shouldInclude(adv, s.opts) {
		return
	}

	addr := adv.Addr()
	now := time.Now()
	entry := Discovered{
		Name:        adv.LocalName(),
		Address:     addr,
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		Services:    adv.Services(),
		LastSeen:    now,
	}

	_, existing := s.devices.Get(addr)
	s.devices.Set(addr, entry)

	event := DeviceEvent{Device: entry, Timestamp: now}
	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  entry.Name,
			"address": entry.Address,
			"rssi":    entry.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
		if s.opts.StopEarly {
			s.stop()
		}
	}

	s.events.Send(event)
}

// shouldInclude applies the name prefix and allow/block filters
func (s *Scanner) shouldInclude(adv device.Advertisement, opts *ScanOptions) bool {
	if opts.NamePrefix != "" && !strings.HasPrefix(adv.LocalName(), opts.NamePrefix) {
		return false
	}

	addr := adv.Addr()
	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}
	if len(opts.AllowList) > 0 {
		for _, allowed := range opts.AllowList {
			if strings.EqualFold(addr, allowed) {
				return true
			}
		}
		return false
	}
	return true
}
