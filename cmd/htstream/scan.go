package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmsi/htstream/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for SensorPush sensors",
	Long: fmt.Sprintf(`Scan for Bluetooth Low Energy devices and print the names and
addresses of any SensorPush HT.w sensors found.

By default the scan stops as soon as the first sensor is seen; pass
--no-stop-early to keep scanning for the full timeout. Pass --all to list
every named BLE device in range instead of only devices whose name starts
with %q.`, scanner.SensorNamePrefix),
	RunE: runScan,
}

var (
	scanTimeout     time.Duration
	scanFormat      string
	scanAll         bool
	scanNoStopEarly bool
	scanAllowList   []string
	scanBlockList   []string
	scanWatch       bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 30*time.Second, "Scan timeout (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List all named BLE devices, not just SensorPush sensors")
	scanCmd.Flags().BoolVar(&scanNoStopEarly, "no-stop-early", false, "Keep scanning after the first sensor is found")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
}

func scanOptions() *scanner.ScanOptions {
	opts := scanner.DefaultScanOptions()
	opts.Timeout = scanTimeout
	opts.StopEarly = !scanNoStopEarly
	opts.AllowList = scanAllowList
	opts.BlockList = scanBlockList
	if scanAll {
		opts.NamePrefix = ""
		opts.StopEarly = false
	}
	return opts
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd, logrus.PanicLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := scanOptions()
	if scanWatch {
		// Watch mode scans until interrupted unless a timeout was given
		if !cmd.Flags().Changed("timeout") {
			opts.Timeout = 0
		}
		opts.StopEarly = false
		return runWatchScan(scanner.NewScanner(logger), opts)
	}

	return runSingleScan(scanner.NewScanner(logger), opts, logger)
}

func runSingleScan(s *scanner.Scanner, opts *scanner.ScanOptions, logger *logrus.Logger) error {
	baseCtx := context.Background()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	progress := NewCountdownProgressPrinter("Scanning for SensorPush sensors", "Scanning", opts.Timeout, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := s.Scan(ctx, opts, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}
	return displayDevices(devices)
}

func runWatchScan(s *scanner.Scanner, opts *scanner.ScanOptions) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	devices := make(map[string]scanner.Discovered)

	// Run the blocking scan in a goroutine and collect events here
	scanErrCh := make(chan error, 1)
	go func() {
		final, err := s.Scan(ctx, opts, nil)
		if err == nil {
			devices = final
		}
		scanErrCh <- err
	}()

	redraw := time.NewTicker(time.Second)
	defer redraw.Stop()

	for {
		select {
		case <-ctx.Done():
			clearScreen()
			return displayDevices(devices)

		case err := <-scanErrCh:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			clearScreen()
			return displayDevices(devices)

		case <-redraw.C:
			clearScreen()
			_ = displayDevices(devices)

		case ev := <-s.Events():
			devices[ev.Device.Address] = ev.Device
		}
	}
}

func displayDevices(devices map[string]scanner.Discovered) error {
	if len(devices) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	devList := make([]scanner.Discovered, 0, len(devices))
	for _, d := range devices {
		devList = append(devList, d)
	}
	sort.Slice(devList, func(i, j int) bool {
		if devList[i].Name != devList[j].Name {
			return devList[i].Name < devList[j].Name
		}
		return devList[i].Address < devList[j].Address
	})

	if scanFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devList)
	}
	return displayDeviceTable(devList)
}

func displayDeviceTable(devices []scanner.Discovered) error {
	var base io.Writer = os.Stdout
	w := tabwriter.NewWriter(base, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 70))

	for _, d := range devices {
		name := d.Name
		if len(name) > 25 {
			name = name[:22] + "..."
		}
		lastSeen := time.Since(d.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s ago\n", name, d.Address, d.RSSI, lastSeen)
	}

	return w.Flush()
}

func clearScreen() {
	fmt.Print("\033[2J\033[H")
}
