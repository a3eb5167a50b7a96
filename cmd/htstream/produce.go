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

// produceCmd represents the produce command
var produceCmd = &cobra.Command{
	Use:   "produce <directory>",
	Short: "Upload files from a directory to a broker topic",
	Long: `Split every file under a directory into chunks and publish the chunks as
messages on a broker topic. Existing files are uploaded first; the directory
is then watched and files that appear later are uploaded as they are written.

While running, enter "c" to print how many files have been uploaded so far or
"q" to quit.`,
	Args: cobra.ExactArgs(1),
	RunE: runProduce,
}

var (
	produceConfig  string
	produceBroker  string
	produceTopic   string
	produceNoWatch bool
)

func init() {
	produceCmd.Flags().StringVarP(&produceConfig, "config", "c", "", "Path to a YAML broker config file")
	produceCmd.Flags().StringVar(&produceBroker, "broker", "", "Broker address (overrides the config file)")
	produceCmd.Flags().StringVarP(&produceTopic, "topic", "t", defaultReadingsTopic, "Topic to publish file chunks to")
	produceCmd.Flags().BoolVar(&produceNoWatch, "no-watch", false, "Upload existing files and exit instead of watching for new ones")
}

func runProduce(cmd *cobra.Command, args []string) error {
	dir := args[0]
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	cfg, err := loadStreamConfig(produceConfig, produceBroker, "")
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

	producer := stream.NewProducer(cfg, produceTopic, logger)
	defer func() { _ = producer.Close() }()

	if produceNoWatch {
		if err := producer.UploadDirectory(ctx, dir); err != nil {
			return err
		}
		logger.Infof("Uploaded %d file%s (%d chunks) to %s",
			producer.FilesUploaded(), plural(producer.FilesUploaded()),
			producer.ChunksUploaded(), produceTopic)
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- producer.WatchDirectory(ctx, dir)
	}()

	err = runControlled(ctx, cancel, errCh, func() {
		n := producer.FilesUploaded()
		logger.Infof("%d file%s (%d chunks) uploaded to %s so far",
			n, plural(n), producer.ChunksUploaded(), produceTopic)
	})
	n := producer.FilesUploaded()
	logger.Infof("Uploaded %d file%s (%d chunks) to %s",
		n, plural(n), producer.ChunksUploaded(), produceTopic)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
