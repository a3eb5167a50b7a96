package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmsi/htstream/internal/device"
	"github.com/openmsi/htstream/internal/readings"
	"github.com/openmsi/htstream/internal/sensorpush"
)

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record <device-address>",
	Short: "Record timestamped temperature/humidity CSV files from a sensor",
	Long: `Connect to a SensorPush HT.w sensor and write out a small CSV file with
the current temperature and humidity at a fixed interval until shut down.

Each sample produces one file named readings_<device>_<timestamp>.csv whose
single line holds "<temperature>,<humidity>". The interval is inexact, as
there is some lag in communicating with sensors.

While running, enter "c" to print how many files have been written so far or
"q" to quit.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

var (
	recordOutputDir string
	recordInterval  time.Duration
	recordName      string
	recordRetries   int
)

func init() {
	recordCmd.Flags().StringVarP(&recordOutputDir, "output-dir", "o", ".", "Directory to write CSV files into")
	recordCmd.Flags().DurationVarP(&recordInterval, "interval", "i", 10*time.Second, "How often to sample the sensor")
	recordCmd.Flags().StringVar(&recordName, "name", "", "Informal name for the device, used in filenames instead of its address")
	recordCmd.Flags().IntVar(&recordRetries, "retries", sensorpush.DefaultConnectionRetries, "Connection attempts before giving up")
}

func runRecord(cmd *cobra.Command, args []string) error {
	address := args[0]
	if recordInterval <= 0 {
		return fmt.Errorf("interval must be positive (%v given)", recordInterval)
	}
	if err := os.MkdirAll(recordOutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	logger, err := configureLogger(cmd, logrus.InfoLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.WithField("address", address).Info("Connecting to SensorPush device...")
	sensor := sensorpush.NewSensor(address, recordRetries, logger)
	if err := sensor.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = sensor.Disconnect() }()
	logger.Infof("Writing temperature/humidity readings every %v", recordInterval)

	startTime := time.Now()
	var filesWritten atomic.Int64

	errCh := make(chan error, 1)
	go func() {
		errCh <- sampleLoop(ctx, sensor, logger, &filesWritten)
	}()

	err = runControlled(ctx, cancel, errCh, func() {
		n := filesWritten.Load()
		logger.Infof("%d file%s written since %s",
			n, plural(n), startTime.Format(readings.PrintTimestampFormat))
	})
	n := filesWritten.Load()
	logger.Infof("%d file%s written from %s to %s",
		n, plural(n),
		startTime.Format(readings.PrintTimestampFormat),
		time.Now().Format(readings.PrintTimestampFormat))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// sampleLoop reads one sample per interval and writes each one out, stopping
// when the context ends or the connection drops.
func sampleLoop(ctx context.Context, sensor *sensorpush.Sensor, logger *logrus.Logger, filesWritten *atomic.Int64) error {
	ticker := time.NewTicker(recordInterval)
	defer ticker.Stop()

	for {
		reading, err := sensor.ReadSample(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			if errors.Is(err, device.ErrNotConnected) {
				return ErrConnectionLost
			}
			logger.WithError(err).Warn("Failed to read a sample, continuing...")
		} else {
			if recordName != "" {
				reading.DeviceAddress = recordName
			}
			path, err := readings.Write(recordOutputDir, reading)
			if err != nil {
				return err
			}
			filesWritten.Add(1)
			logger.WithField("file", path).Debugf(
				"Wrote reading of %v degC, %v%%", reading.TemperatureC, reading.Humidity)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
