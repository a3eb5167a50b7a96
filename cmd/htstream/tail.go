package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmsi/htstream/internal/stream"
)

// tailCmd represents the tail command
var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print metadata records from a broker topic as they arrive",
	Long: `Join a consumer group on a metadata topic (as written by "reproduce") and
print each record as an aligned row.

While running, enter "c" to print progress or "q" to quit.`,
	Args: cobra.NoArgs,
	RunE: runTail,
}

var (
	tailConfig string
	tailBroker string
	tailTopic  string
	tailGroup  string
)

// metadataColumnWidths are the minimum widths of the printed columns.
var metadataColumnWidths = [5]int{40, 12, 30, 12, 20}

func init() {
	tailCmd.Flags().StringVarP(&tailConfig, "config", "c", "", "Path to a YAML broker config file")
	tailCmd.Flags().StringVar(&tailBroker, "broker", "", "Broker address (overrides the config file)")
	tailCmd.Flags().StringVarP(&tailTopic, "topic", "t", defaultMetadataTopic, "Topic to read metadata records from")
	tailCmd.Flags().StringVarP(&tailGroup, "group", "g", "", "Consumer group id (overrides the config file)")
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadStreamConfig(tailConfig, tailBroker, tailGroup)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, logrus.WarnLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, err := stream.NewConsumerGroup(ctx, cfg, tailTopic, logger)
	if err != nil {
		return err
	}
	defer func() { _ = group.Close() }()

	header := color.New(color.Bold)
	header.Println(metadataRow(
		"RELATIVE FILEPATH", "SIZE (bytes)", "CONSUMED FROM", "CONSUMED ON", "EXTRACTION TIMESTAMP"))

	var msgsRead, msgsPrinted atomic.Int64

	errCh := make(chan error, 1)
	go func() {
		errCh <- group.Consume(ctx, func(msg redis.XMessage) error {
			msgsRead.Add(1)
			record, err := stream.MetadataFromMessage(msg)
			if err != nil {
				// A malformed record will not parse on redelivery either
				logger.WithError(err).Error("Failed to process a message, skipping it")
				return nil
			}
			fmt.Println(metadataRow(
				record.RelativeFilepath,
				strconv.FormatInt(record.SizeInBytes, 10),
				record.ConsumedFrom,
				record.ConsumedOn,
				record.ExtractedAt))
			msgsPrinted.Add(1)
			return nil
		})
	}()

	err = runControlled(ctx, cancel, errCh, func() {
		fmt.Printf("Read %d message%s, printed %d message%s so far\n",
			msgsRead.Load(), plural(msgsRead.Load()),
			msgsPrinted.Load(), plural(msgsPrinted.Load()))
	})
	fmt.Printf("Read %d message%s, printed %d message%s\n",
		msgsRead.Load(), plural(msgsRead.Load()),
		msgsPrinted.Load(), plural(msgsPrinted.Load()))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// metadataRow left-justifies the fields to the column widths, separated by
// four spaces.
func metadataRow(fields ...string) string {
	row := ""
	for i, field := range fields {
		if i > 0 {
			row += "    "
		}
		width := metadataColumnWidths[i]
		for len(field) < width {
			field += " "
		}
		row += field
	}
	return row
}
