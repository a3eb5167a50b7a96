package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmsi/htstream/internal/readings"
	"github.com/openmsi/htstream/internal/sensorpush"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address>",
	Short: "Read one temperature/humidity sample from a sensor",
	Long: `Connect to a SensorPush HT.w sensor, trigger a fresh sample, and print
the measured temperature and relative humidity.

Examples:
  # Read a sample from a sensor
  htstream read A1:B2:C3:D4:E5:F6

  # Machine-readable output
  htstream read A1:B2:C3:D4:E5:F6 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

var (
	readRetries int
	readTimeout time.Duration
	readJSON    bool
)

func init() {
	readCmd.Flags().IntVar(&readRetries, "retries", sensorpush.DefaultConnectionRetries, "Connection attempts before giving up")
	readCmd.Flags().DurationVar(&readTimeout, "timeout", 30*time.Second, "Overall timeout for connecting and reading")
	readCmd.Flags().BoolVar(&readJSON, "json", false, "Print the sample as JSON")
}

func runRead(cmd *cobra.Command, args []string) error {
	address := args[0]
	if readRetries < 1 {
		return fmt.Errorf("retries must be at least 1 (%d given)", readRetries)
	}

	logger, err := configureLogger(cmd, logrus.PanicLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	progress := NewProgressPrinter(fmt.Sprintf("Reading sample from %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	sensor := sensorpush.NewSensor(address, readRetries, logger)
	if err := sensor.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = sensor.Disconnect() }()

	progress.Callback()("Sampling")
	reading, err := sensor.ReadSample(ctx)
	if err != nil {
		return err
	}
	progress.Stop()

	if readJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(reading)
	}

	fmt.Printf("%s  %.2f degC  %.2f %%RH\n",
		reading.Timestamp.Format(readings.PrintTimestampFormat),
		reading.TemperatureC, reading.Humidity)
	return nil
}
