package stream

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Reproducer consumes completed files from a source topic, derives a JSON
// metadata record from each, and publishes the records to a destination topic.
type Reproducer struct {
	processor *StreamProcessor
	producer  *Producer
	host      string
	logger    *logrus.Logger
}

// NewReproducer joins the consumer group on sourceTopic and prepares a
// producer for destTopic.
func NewReproducer(ctx context.Context, cfg *Config, sourceTopic, destTopic string, logger *logrus.Logger) (*Reproducer, error) {
	if logger == nil {
		logger = logrus.New()
	}
	processor, err := NewStreamProcessor(ctx, cfg, sourceTopic, logger)
	if err != nil {
		return nil, err
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Reproducer{
		processor: processor,
		producer:  NewProducer(cfg, destTopic, logger),
		host:      host,
		logger:    logger,
	}, nil
}

// Close releases both broker connections.
func (r *Reproducer) Close() error {
	err := r.processor.Close()
	if closeErr := r.producer.Close(); err == nil {
		err = closeErr
	}
	return err
}

// MessagesRead returns the number of chunk messages consumed so far.
func (r *Reproducer) MessagesRead() int64 {
	return r.processor.MessagesRead()
}

// FilesReproduced returns the number of metadata records published.
func (r *Reproducer) FilesReproduced() int64 {
	return r.processor.FilesProcessed()
}

// Run consumes and republishes until the context is cancelled.
func (r *Reproducer) Run(ctx context.Context) error {
	return r.processor.Run(ctx, func(file *DownloadedFile) error {
		record := NewFileMetadata(file, r.processor.Topic(), r.host, time.Now())
		values, err := record.Values()
		if err != nil {
			return err
		}
		if err := r.producer.Publish(ctx, values); err != nil {
			return err
		}
		r.logger.WithFields(logrus.Fields{
			"file":  record.RelativeFilepath,
			"bytes": record.SizeInBytes,
		}).Info("Reproduced file metadata")
		return nil
	})
}
