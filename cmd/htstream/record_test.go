package main

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/openmsi/htstream/internal/device"
	"github.com/openmsi/htstream/internal/readings"
	"github.com/openmsi/htstream/internal/sensorpush"
)

// RecordCommandTestSuite provides testify/suite for proper test isolation
type RecordCommandTestSuite struct {
	suite.Suite
	originalDial func(context.Context, string, *device.ConnectOptions, *logrus.Logger) (device.Conn, error)
	conn         *fakeConn
	logger       *logrus.Logger
}

func (s *RecordCommandTestSuite) SetupSuite() {
	s.originalDial = device.Dial
	s.logger = logrus.New()
	s.logger.SetLevel(logrus.PanicLevel)
}

func (s *RecordCommandTestSuite) TearDownSuite() {
	device.Dial = s.originalDial
}

func (s *RecordCommandTestSuite) SetupTest() {
	recordOutputDir = s.T().TempDir()
	recordInterval = 20 * time.Millisecond
	recordName = ""
	recordRetries = sensorpush.DefaultConnectionRetries

	s.conn = newFakeConn("A1:B2:C3:D4:E5:F6", 21.5, 40.0)
	device.Dial = func(ctx context.Context, address string, opts *device.ConnectOptions, logger *logrus.Logger) (device.Conn, error) {
		return s.conn, nil
	}
}

func (s *RecordCommandTestSuite) connectedSensor(ctx context.Context) *sensorpush.Sensor {
	sensor := sensorpush.NewSensor("A1:B2:C3:D4:E5:F6", 1, s.logger)
	s.Require().NoError(sensor.Connect(ctx))
	return sensor
}

func (s *RecordCommandTestSuite) TestSampleLoopWritesFiles() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sensor := s.connectedSensor(ctx)

	var filesWritten atomic.Int64
	time.AfterFunc(120*time.Millisecond, cancel)
	err := sampleLoop(ctx, sensor, s.logger, &filesWritten)
	s.Require().ErrorIs(err, context.Canceled)
	s.Require().GreaterOrEqual(filesWritten.Load(), int64(1))

	entries, readErr := os.ReadDir(recordOutputDir)
	s.Require().NoError(readErr)
	s.Require().Len(entries, int(filesWritten.Load()))
	for _, e := range entries {
		s.True(readings.IsReadingFile(e.Name()), e.Name())
	}
}

func (s *RecordCommandTestSuite) TestSampleLoopUsesRecordName() {
	recordName = "kitchen"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sensor := s.connectedSensor(ctx)

	var filesWritten atomic.Int64
	time.AfterFunc(50*time.Millisecond, cancel)
	err := sampleLoop(ctx, sensor, s.logger, &filesWritten)
	s.Require().ErrorIs(err, context.Canceled)

	entries, readErr := os.ReadDir(recordOutputDir)
	s.Require().NoError(readErr)
	s.Require().NotEmpty(entries)
	for _, e := range entries {
		s.True(strings.HasPrefix(e.Name(), "readings_kitchen_"), e.Name())
	}
}

func (s *RecordCommandTestSuite) TestSampleLoopReportsLostConnection() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sensor := s.connectedSensor(ctx)

	s.conn.failReads(device.ErrNotConnected)

	var filesWritten atomic.Int64
	err := sampleLoop(ctx, sensor, s.logger, &filesWritten)
	s.Require().ErrorIs(err, ErrConnectionLost)
	s.Zero(filesWritten.Load())
}

func TestRecordCommandSuite(t *testing.T) {
	suite.Run(t, new(RecordCommandTestSuite))
}
