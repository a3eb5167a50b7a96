package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "v2.0", formatVersion("2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	assert.Contains(t, FormatUserError(ErrConnectionLost), "lost the connection")
	assert.Contains(t, FormatUserError(context.DeadlineExceeded), "timed out")
	assert.Equal(t, "plain failure", FormatUserError(fmt.Errorf("plain failure")))
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "s", plural(0))
	assert.Equal(t, "", plural(1))
	assert.Equal(t, "s", plural(2))
}

func TestMetadataRow(t *testing.T) {
	row := metadataRow("a.csv", "17", "topic", "host", "2026-03-01 12:00:00")
	// Each column is left-justified to its minimum width with a four space
	// separator, so the second column starts at a fixed offset
	assert.Equal(t, "a.csv", row[:5])
	assert.Equal(t, "17", row[44:46])
	assert.Equal(t, "topic", row[60:65])
}

func TestLoadStreamConfigOverrides(t *testing.T) {
	cfg, err := loadStreamConfig("", "broker.example:6380", "mygroup")
	require.NoError(t, err)
	assert.Equal(t, "broker.example:6380", cfg.Broker.Addr)
	assert.Equal(t, "mygroup", cfg.Consumer.GroupID)

	cfg, err = loadStreamConfig("", "", "")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Broker.Addr)
	assert.Equal(t, "htstream", cfg.Consumer.GroupID)
}

func TestLoadStreamConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker:\n  addr: filehost:6379\n"), 0o644))

	cfg, err := loadStreamConfig(path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "filehost:6379", cfg.Broker.Addr)

	// CLI override beats the file
	cfg, err = loadStreamConfig(path, "clihost:6379", "")
	require.NoError(t, err)
	assert.Equal(t, "clihost:6379", cfg.Broker.Addr)
}

func TestRecordRejectsBadInterval(t *testing.T) {
	origInterval, origDir := recordInterval, recordOutputDir
	defer func() { recordInterval, recordOutputDir = origInterval, origDir }()

	recordInterval = 0
	recordOutputDir = t.TempDir()
	err := runRecord(recordCmd, []string{"A1:B2:C3:D4:E5:F6"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be positive")
}

func TestPlotRejectsBadInterval(t *testing.T) {
	origInterval := plotInterval
	defer func() { plotInterval = origInterval }()

	plotInterval = -time.Second
	err := runPlot(plotCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be positive")
}

func TestProduceRejectsMissingDirectory(t *testing.T) {
	err := runProduce(produceCmd, []string{filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
}

func TestProduceRejectsFileArgument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	err := runProduce(produceCmd, []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}
