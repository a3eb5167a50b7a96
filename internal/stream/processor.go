package stream

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// FileHandler is invoked once per fully reassembled file.
type FileHandler func(file *DownloadedFile) error

// StreamProcessor consumes chunk messages from a topic, reassembles completed
// files, and hands each one to a handler. Chunk messages are acked
// individually once applied; a handler failure on a completed file is counted
// and logged but does not stop the run.
type StreamProcessor struct {
	group     *ConsumerGroup
	assembler *Assembler
	logger    *logrus.Logger

	msgsRead       atomic.Int64
	filesProcessed atomic.Int64
	filesFailed    atomic.Int64
}

// NewStreamProcessor joins the consumer group on topic.
func NewStreamProcessor(ctx context.Context, cfg *Config, topic string, logger *logrus.Logger) (*StreamProcessor, error) {
	if logger == nil {
		logger = logrus.New()
	}
	group, err := NewConsumerGroup(ctx, cfg, topic, logger)
	if err != nil {
		return nil, err
	}
	return &StreamProcessor{
		group:     group,
		assembler: NewAssembler(),
		logger:    logger,
	}, nil
}

// Topic returns the consumed topic name.
func (p *StreamProcessor) Topic() string {
	return p.group.Topic()
}

// Close releases the broker connection.
func (p *StreamProcessor) Close() error {
	return p.group.Close()
}

// MessagesRead returns the number of chunk messages consumed so far.
func (p *StreamProcessor) MessagesRead() int64 {
	return p.msgsRead.Load()
}

// FilesProcessed returns the number of completed files handled successfully.
func (p *StreamProcessor) FilesProcessed() int64 {
	return p.filesProcessed.Load()
}

// FilesFailed returns the number of completed files whose handling failed.
func (p *StreamProcessor) FilesFailed() int64 {
	return p.filesFailed.Load()
}

// InProgress returns the number of partially reassembled files.
func (p *StreamProcessor) InProgress() int {
	return p.assembler.InProgress()
}

// Run consumes until the context is cancelled.
func (p *StreamProcessor) Run(ctx context.Context, handler FileHandler) error {
	return p.group.Consume(ctx, func(msg redis.XMessage) error {
		p.msgsRead.Add(1)

		chunk, err := ChunkFromMessage(msg)
		if err != nil {
			// A malformed message will never parse on redelivery either, so
			// count it against the file and ack to keep the group moving.
			p.logger.WithError(err).WithField("message_id", msg.ID).Error("Skipping malformed chunk message")
			p.filesFailed.Add(1)
			return nil
		}

		file, err := p.assembler.Add(chunk)
		if err != nil {
			p.logger.WithError(err).WithField("file", chunk.RelativePath).Error("File failed reassembly")
			p.filesFailed.Add(1)
			return nil
		}
		if file == nil {
			return nil
		}

		if handlerErr := handler(file); handlerErr != nil {
			p.logger.WithError(handlerErr).WithField("file", file.RelativePath).Error("Failed to process completed file")
			p.filesFailed.Add(1)
			return nil
		}
		p.filesProcessed.Add(1)
		p.logger.WithField("file", file.RelativePath).Debug("Processed completed file")
		return nil
	})
}
