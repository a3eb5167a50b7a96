package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmsi/htstream/internal/sensorpush"
)

// blinkCmd represents the blink command
var blinkCmd = &cobra.Command{
	Use:   "blink <device-address>",
	Short: "Blink a sensor's LED to identify it",
	Long: `Connect to a SensorPush HT.w sensor and blink its LED a number of times.
Useful for telling apart several sensors sitting next to each other.`,
	Args: cobra.ExactArgs(1),
	RunE: runBlink,
}

var (
	blinkCount   int
	blinkRetries int
)

func init() {
	blinkCmd.Flags().IntVarP(&blinkCount, "blinks", "n", 10, "How many times to blink the LED (0 just resets the LED)")
	blinkCmd.Flags().IntVar(&blinkRetries, "retries", sensorpush.DefaultConnectionRetries, "Connection attempts before giving up")
}

func runBlink(cmd *cobra.Command, args []string) error {
	address := args[0]
	if blinkCount < 0 || blinkCount > sensorpush.MaxBlinks {
		return fmt.Errorf("blinks must be between 0 and %d (%d given)", sensorpush.MaxBlinks, blinkCount)
	}

	logger, err := configureLogger(cmd, logrus.PanicLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx := context.Background()

	progress := NewProgressPrinter(fmt.Sprintf("Blinking LED on %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	sensor := sensorpush.NewSensor(address, blinkRetries, logger)
	if err := sensor.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = sensor.Disconnect() }()

	progress.Callback()("Blinking")

	// The LED blinks once per second, so this holds the connection open for
	// roughly count seconds before resetting the characteristic.
	blinkCtx, cancel := context.WithTimeout(ctx, time.Duration(blinkCount+10)*time.Second)
	defer cancel()
	if err := sensor.Blink(blinkCtx, blinkCount); err != nil {
		return err
	}

	progress.Stop()
	fmt.Println("Done!")
	return nil
}
