package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmsi/htstream/internal/stream"
)

// consumeCmd represents the consume command
var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Download files from a broker topic into a directory",
	Long: `Join a consumer group on a broker topic, reassemble the file chunks read
from it, and write each completed file into the output directory at its
original relative path. Running several consumers with the same group id
splits the topic's messages between them.

While running, enter "c" to print progress or "q" to quit.`,
	Args: cobra.NoArgs,
	RunE: runConsume,
}

var (
	consumeConfig    string
	consumeBroker    string
	consumeTopic     string
	consumeGroup     string
	consumeOutputDir string
)

func init() {
	consumeCmd.Flags().StringVarP(&consumeConfig, "config", "c", "", "Path to a YAML broker config file")
	consumeCmd.Flags().StringVar(&consumeBroker, "broker", "", "Broker address (overrides the config file)")
	consumeCmd.Flags().StringVarP(&consumeTopic, "topic", "t", defaultReadingsTopic, "Topic to read file chunks from")
	consumeCmd.Flags().StringVarP(&consumeGroup, "group", "g", "", "Consumer group id (overrides the config file)")
	consumeCmd.Flags().StringVarP(&consumeOutputDir, "output-dir", "o", ".", "Directory to write downloaded files into")
}

func runConsume(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(consumeOutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	cfg, err := loadStreamConfig(consumeConfig, consumeBroker, consumeGroup)
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

	processor, err := stream.NewStreamProcessor(ctx, cfg, consumeTopic, logger)
	if err != nil {
		return err
	}
	defer func() { _ = processor.Close() }()

	logger.Infof("Downloading files from %s into %s", consumeTopic, consumeOutputDir)

	errCh := make(chan error, 1)
	go func() {
		errCh <- processor.Run(ctx, func(file *stream.DownloadedFile) error {
			path, err := file.WriteTo(consumeOutputDir)
			if err != nil {
				return err
			}
			logger.WithField("file", path).Info("Downloaded file")
			return nil
		})
	}()

	err = runControlled(ctx, cancel, errCh, func() {
		logger.Infof("Read %d message%s, downloaded %d file%s (%d in progress, %d failed) so far",
			processor.MessagesRead(), plural(processor.MessagesRead()),
			processor.FilesProcessed(), plural(processor.FilesProcessed()),
			processor.InProgress(), processor.FilesFailed())
	})
	logger.Infof("Read %d message%s and downloaded %d file%s (%d failed)",
		processor.MessagesRead(), plural(processor.MessagesRead()),
		processor.FilesProcessed(), plural(processor.FilesProcessed()),
		processor.FilesFailed())

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
