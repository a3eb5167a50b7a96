package main

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmsi/htstream/internal/stream"
)

// reproduceCmd represents the reproduce command
var reproduceCmd = &cobra.Command{
	Use:   "reproduce",
	Short: "Extract metadata from consumed files and publish it to another topic",
	Long: `Consume file chunks from a source topic, reassemble each file, and publish
a small JSON metadata record about it (relative path, size, where and when it
was consumed) to a destination topic.

While running, enter "c" to print progress or "q" to quit.`,
	Args: cobra.NoArgs,
	RunE: runReproduce,
}

var (
	reproduceConfig string
	reproduceBroker string
	reproduceSource string
	reproduceDest   string
	reproduceGroup  string
)

func init() {
	reproduceCmd.Flags().StringVarP(&reproduceConfig, "config", "c", "", "Path to a YAML broker config file")
	reproduceCmd.Flags().StringVar(&reproduceBroker, "broker", "", "Broker address (overrides the config file)")
	reproduceCmd.Flags().StringVar(&reproduceSource, "source-topic", defaultReadingsTopic, "Topic to read file chunks from")
	reproduceCmd.Flags().StringVar(&reproduceDest, "dest-topic", defaultMetadataTopic, "Topic to publish metadata records to")
	reproduceCmd.Flags().StringVarP(&reproduceGroup, "group", "g", "", "Consumer group id (overrides the config file)")
}

func runReproduce(cmd *cobra.Command, args []string) error {
	cfg, err := loadStreamConfig(reproduceConfig, reproduceBroker, reproduceGroup)
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

	reproducer, err := stream.NewReproducer(ctx, cfg, reproduceSource, reproduceDest, logger)
	if err != nil {
		return err
	}
	defer func() { _ = reproducer.Close() }()

	logger.Infof("Reproducing metadata from %s to %s", reproduceSource, reproduceDest)

	errCh := make(chan error, 1)
	go func() {
		errCh <- reproducer.Run(ctx)
	}()

	err = runControlled(ctx, cancel, errCh, func() {
		logger.Infof("Read %d message%s, reproduced metadata for %d file%s so far",
			reproducer.MessagesRead(), plural(reproducer.MessagesRead()),
			reproducer.FilesReproduced(), plural(reproducer.FilesReproduced()))
	})
	logger.Infof("Read %d message%s and reproduced metadata for %d file%s",
		reproducer.MessagesRead(), plural(reproducer.MessagesRead()),
		reproducer.FilesReproduced(), plural(reproducer.FilesReproduced()))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
