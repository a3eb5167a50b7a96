package main

import (
	"github.com/openmsi/htstream/internal/stream"
)

// Default topic names for the streaming commands.
const (
	defaultReadingsTopic = "sensorpush_readings"
	defaultMetadataTopic = "sensorpush_readings_metadata"
	defaultXRDTopic      = "xrd_data"
)

// loadStreamConfig reads the broker config file and applies the command-line
// overrides that the streaming commands share.
func loadStreamConfig(path, brokerAddr, groupID string) (*stream.Config, error) {
	cfg, err := stream.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if brokerAddr != "" {
		cfg.Broker.Addr = brokerAddr
	}
	if groupID != "" {
		cfg.Consumer.GroupID = groupID
	}
	return cfg, nil
}
