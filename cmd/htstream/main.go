package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "htstream",
	Short: "SensorPush sensor and data streaming tools",
	Long: `Command-line tools for working with SensorPush HT.w sensors and
streaming their data through a message broker:

- Scan for nearby sensors and blink their LEDs to tell them apart
- Read and record timestamped temperature/humidity CSV files
- Produce recorded files to a broker topic in chunks
- Consume topics to reassemble files, plot readings live, or extract metadata
- Analyze diffraction data files from a topic into a SQLite database`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(blinkCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(produceCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(reproduceCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(plotCmd)
	rootCmd.AddCommand(analyzeCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
