package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmsi/htstream/internal/analysis"
	"github.com/openmsi/htstream/internal/stream"
	"github.com/openmsi/htstream/internal/xrddb"
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze diffraction data files from a broker topic into a SQLite database",
	Long: `Consume background-subtracted X-ray diffraction CSV files from a broker
topic. For each file, find segments of data containing candidate peaks, fit a
linear background plus pseudo-Voigt peaks to every segment, and record the
data points, segments, and fit results in a SQLite database.

While running, enter "c" to print progress or "q" to quit.`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

var (
	analyzeConfig string
	analyzeBroker string
	analyzeTopic  string
	analyzeGroup  string
	analyzeDBPath string
	analyzeDrop   bool
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeConfig, "config", "c", "", "Path to a YAML broker config file")
	analyzeCmd.Flags().StringVar(&analyzeBroker, "broker", "", "Broker address (overrides the config file)")
	analyzeCmd.Flags().StringVarP(&analyzeTopic, "topic", "t", defaultXRDTopic, "Topic to read diffraction files from")
	analyzeCmd.Flags().StringVarP(&analyzeGroup, "group", "g", "", "Consumer group id (overrides the config file)")
	analyzeCmd.Flags().StringVar(&analyzeDBPath, "db", "xrd_analysis.sqlite", "Path of the SQLite database to write results to")
	analyzeCmd.Flags().BoolVar(&analyzeDrop, "drop-existing", false, "Drop any existing result tables before starting")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadStreamConfig(analyzeConfig, analyzeBroker, analyzeGroup)
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

	store, err := xrddb.Open(analyzeDBPath, xrddb.Options{DropExisting: analyzeDrop}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	processor, err := stream.NewStreamProcessor(ctx, cfg, analyzeTopic, logger)
	if err != nil {
		return err
	}
	defer func() { _ = processor.Close() }()

	logger.Infof("Analyzing diffraction files from %s into %s", analyzeTopic, analyzeDBPath)

	errCh := make(chan error, 1)
	go func() {
		errCh <- processor.Run(ctx, func(file *stream.DownloadedFile) error {
			return analyzeFile(ctx, store, file, logger)
		})
	}()

	err = runControlled(ctx, cancel, errCh, func() {
		logger.Infof("Read %d message%s, analyzed %d file%s (%d failed) so far",
			processor.MessagesRead(), plural(processor.MessagesRead()),
			processor.FilesProcessed(), plural(processor.FilesProcessed()),
			processor.FilesFailed())
	})
	logger.Infof("Read %d message%s and analyzed %d file%s (%d failed)",
		processor.MessagesRead(), plural(processor.MessagesRead()),
		processor.FilesProcessed(), plural(processor.FilesProcessed()),
		processor.FilesFailed())

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// analyzeFile runs the peak finding and fitting pipeline on one downloaded
// file and records everything in the database. A segment whose fit fails is
// still recorded, just without fit results.
func analyzeFile(ctx context.Context, store *xrddb.Store, file *stream.DownloadedFile, logger *logrus.Logger) error {
	pattern, err := analysis.ParsePattern(file.Data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", file.RelativePath, err)
	}

	segments, err := analysis.FindPeakSegments(pattern)
	if err != nil {
		return fmt.Errorf("peak finding failed for %s: %w", file.RelativePath, err)
	}

	results := make([]xrddb.SegmentResult, 0, len(segments))
	for _, seg := range segments {
		fit, err := analysis.FitSegment(pattern, seg)
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"file":    file.RelativePath,
				"segment": fmt.Sprintf("[%g, %g]", seg.Min, seg.Max),
			}).Warn("Segment fit failed, recording segment without fit results")
			results = append(results, xrddb.SegmentResult{Segment: seg})
			continue
		}
		results = append(results, xrddb.SegmentResult{Segment: seg, Fit: fit})
	}

	if err := store.SaveAnalysis(ctx, file.Filename, pattern, results); err != nil {
		return fmt.Errorf("failed to save analysis of %s: %w", file.RelativePath, err)
	}
	logger.WithFields(logrus.Fields{
		"file":     file.RelativePath,
		"segments": len(segments),
	}).Info("Analyzed file")
	return nil
}
