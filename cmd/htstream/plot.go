package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmsi/htstream/internal/plotting"
	"github.com/openmsi/htstream/internal/readings"
	"github.com/openmsi/htstream/internal/stream"
)

// plotCmd represents the plot command
var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Plot sensor readings from a broker topic as they arrive",
	Long: `Consume reading CSV files from a broker topic and keep a PNG chart of
temperature and humidity over time up to date, one series per device. The
chart is rewritten atomically on an interval, so an image viewer that
auto-reloads acts as a live display.

While running, enter "c" to print progress or "q" to quit.`,
	Args: cobra.NoArgs,
	RunE: runPlot,
}

var (
	plotConfig   string
	plotBroker   string
	plotTopic    string
	plotGroup    string
	plotOutput   string
	plotInterval time.Duration
)

func init() {
	plotCmd.Flags().StringVarP(&plotConfig, "config", "c", "", "Path to a YAML broker config file")
	plotCmd.Flags().StringVar(&plotBroker, "broker", "", "Broker address (overrides the config file)")
	plotCmd.Flags().StringVarP(&plotTopic, "topic", "t", defaultReadingsTopic, "Topic to read reading files from")
	plotCmd.Flags().StringVarP(&plotGroup, "group", "g", "", "Consumer group id (overrides the config file)")
	plotCmd.Flags().StringVarP(&plotOutput, "output", "o", "readings.png", "Path of the PNG chart to keep updated")
	plotCmd.Flags().DurationVar(&plotInterval, "interval", time.Second, "How often to redraw the chart")
}

func runPlot(cmd *cobra.Command, args []string) error {
	if plotInterval <= 0 {
		return fmt.Errorf("interval must be positive (%v given)", plotInterval)
	}

	cfg, err := loadStreamConfig(plotConfig, plotBroker, plotGroup)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, logrus.InfoLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processor, err := stream.NewStreamProcessor(ctx, cfg, plotTopic, logger)
	if err != nil {
		return err
	}
	defer func() { _ = processor.Close() }()

	collector := plotting.NewCollector()
	logger.Infof("Plotting readings from %s to %s", plotTopic, plotOutput)

	// Consume and render concurrently so a slow render never backs up the
	// consumer.
	errCh := make(chan error, 1)
	go func() {
		errCh <- processor.Run(ctx, func(file *stream.DownloadedFile) error {
			name := filepath.Base(file.RelativePath)
			reading, err := readings.Parse(name, file.Data)
			if err != nil {
				return fmt.Errorf("%s is not a readings file: %w", name, err)
			}
			collector.Add(reading.DeviceAddress, reading.Timestamp, reading.TemperatureC, reading.Humidity)
			return nil
		})
	}()

	go func() {
		ticker := time.NewTicker(plotInterval)
		defer ticker.Stop()
		rendered := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := collector.Len()
				if n == 0 || n == rendered {
					continue
				}
				if err := collector.Render(plotOutput); err != nil {
					logger.WithError(err).Warn("Failed to render chart, continuing...")
					continue
				}
				rendered = n
			}
		}
	}()

	err = runControlled(ctx, cancel, errCh, func() {
		logger.Infof("Plotted %d reading%s from %d device%s so far (%d file%s failed)",
			int64(collector.Len()), plural(int64(collector.Len())),
			int64(len(collector.Devices())), plural(int64(len(collector.Devices()))),
			processor.FilesFailed(), plural(processor.FilesFailed()))
	})

	// One last render so the chart holds everything consumed
	if collector.Len() > 0 {
		if renderErr := collector.Render(plotOutput); renderErr != nil {
			logger.WithError(renderErr).Warn("Failed to render final chart")
		}
	}
	logger.Infof("Plotted %d reading%s from %d device%s (%d file%s failed)",
		int64(collector.Len()), plural(int64(collector.Len())),
		int64(len(collector.Devices())), plural(int64(len(collector.Devices()))),
		processor.FilesFailed(), plural(processor.FilesFailed()))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
