// Package readings defines the on-disk form of sensor readings: one small CSV
// file per sample, named so the device address and sample time survive a trip
// through the broker as part of the filename.
package readings

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/openmsi/htstream/internal/sensorpush"
)

// FilenameTimestampFormat is the timestamp layout embedded in reading filenames.
const FilenameTimestampFormat = "2006-01-02-15-04-05"

// PrintTimestampFormat is the layout used when reporting times to the user.
const PrintTimestampFormat = "2006-01-02 15:04:05"

const (
	filenamePrefix = "readings_"
	filenameSuffix = ".csv"
)

// Filename returns the reading filename for a device address and sample time.
func Filename(address string, timestamp time.Time) string {
	return fmt.Sprintf("%s%s_%s%s", filenamePrefix, address, timestamp.Format(FilenameTimestampFormat), filenameSuffix)
}

// IsReadingFile reports whether name looks like a reading CSV filename.
func IsReadingFile(name string) bool {
	return strings.HasPrefix(name, filenamePrefix) && strings.HasSuffix(name, filenameSuffix)
}

// Encode renders the CSV row stored in a reading file.
func Encode(r sensorpush.Reading) []byte {
	return []byte(fmt.Sprintf("%v,%v", r.TemperatureC, r.Humidity))
}

// Write writes a reading to its own CSV file in dir and returns the path.
// The write is atomic so a concurrent directory watcher never sees a partial
// file.
func Write(dir string, r sensorpush.Reading) (string, error) {
	path := filepath.Join(dir, Filename(r.DeviceAddress, r.Timestamp))
	if err := renameio.WriteFile(path, Encode(r), 0o644); err != nil {
		return "", fmt.Errorf("failed to write reading file: %w", err)
	}
	return path, nil
}

// Parse reconstructs a Reading from a reading file's name and contents.
func Parse(name string, contents []byte) (sensorpush.Reading, error) {
	var reading sensorpush.Reading

	base := filepath.Base(name)
	if !IsReadingFile(base) {
		return reading, fmt.Errorf("%q is not a reading file name", name)
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(base, filenamePrefix), filenameSuffix)
	sep := strings.LastIndex(trimmed, "_")
	if sep < 1 {
		return reading, fmt.Errorf("malformed reading file name %q", name)
	}
	address := trimmed[:sep]
	timestamp, err := time.ParseInLocation(FilenameTimestampFormat, trimmed[sep+1:], time.Local)
	if err != nil {
		return reading, fmt.Errorf("malformed timestamp in reading file name %q: %w", name, err)
	}

	line := strings.TrimSpace(strings.SplitN(string(contents), "\n", 2)[0])
	fields := strings.Split(line, ",")
	if len(fields) != 2 {
		return reading, fmt.Errorf("reading file %q must hold one temperature,humidity row", name)
	}
	temp, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return reading, fmt.Errorf("bad temperature in reading file %q: %w", name, err)
	}
	hum, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return reading, fmt.Errorf("bad humidity in reading file %q: %w", name, err)
	}

	reading.DeviceAddress = address
	reading.Timestamp = timestamp
	reading.TemperatureC = temp
	reading.Humidity = hum
	return reading, nil
}
