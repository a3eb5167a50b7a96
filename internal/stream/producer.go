package stream

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// settleDelay gives a freshly created file time to finish being written before
// it is read for upload.
const settleDelay = 500 * time.Millisecond

// Producer publishes files to a topic as chunked messages.
type Producer struct {
	client *redis.Client
	topic  string
	cfg    ProducerConfig
	logger *logrus.Logger

	filesUploaded  atomic.Int64
	chunksUploaded atomic.Int64
}

// NewProducer creates a producer for the given topic.
func NewProducer(cfg *Config, topic string, logger *logrus.Logger) *Producer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Producer{
		client: cfg.Broker.NewClient(),
		topic:  topic,
		cfg:    cfg.Producer,
		logger: logger,
	}
}

// Close releases the broker connection.
func (p *Producer) Close() error {
	return p.client.Close()
}

// FilesUploaded returns the number of files fully published so far.
func (p *Producer) FilesUploaded() int64 {
	return p.filesUploaded.Load()
}

// ChunksUploaded returns the number of chunk messages published so far.
func (p *Producer) ChunksUploaded() int64 {
	return p.chunksUploaded.Load()
}

// Publish adds a single raw message to the topic.
func (p *Producer) Publish(ctx context.Context, values map[string]any) error {
	args := &redis.XAddArgs{Stream: p.topic, Values: values}
	if p.cfg.MaxStreamLen > 0 {
		args.MaxLen = p.cfg.MaxStreamLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish message to %q: %w", p.topic, err)
	}
	return nil
}

// UploadFile chunks one file and publishes every chunk to the topic.
// relativeTo controls the relative path recorded on the chunks.
func (p *Producer) UploadFile(ctx context.Context, path, relativeTo string) error {
	chunks, err := ChunkFile(path, relativeTo, p.cfg.ChunkSize)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := p.Publish(ctx, chunk.Values()); err != nil {
			return err
		}
		p.chunksUploaded.Add(1)
	}
	p.filesUploaded.Add(1)
	p.logger.WithFields(logrus.Fields{
		"file":   chunks[0].RelativePath,
		"chunks": len(chunks),
		"topic":  p.topic,
	}).Info("Uploaded file")
	return nil
}

// UploadDirectory publishes every regular file under dir.
func (p *Producer) UploadDirectory(ctx context.Context, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return p.UploadFile(ctx, path, dir)
	})
}

// WatchDirectory uploads the current contents of dir, then keeps watching it
// (recursively, for directories present at start) and uploads files as they
// appear, until the context is cancelled.
func (p *Producer) WatchDirectory(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create directory watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	// Everything already present goes first so late consumers still get it
	if err := p.UploadDirectory(ctx, dir); err != nil {
		return err
	}

	p.logger.WithField("dir", dir).Info("Watching directory for new files")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			info, statErr := os.Stat(event.Name)
			if statErr != nil {
				continue
			}
			if info.IsDir() {
				if addErr := watcher.Add(event.Name); addErr != nil {
					p.logger.WithError(addErr).WithField("dir", event.Name).Warn("Failed to watch new subdirectory")
				}
				continue
			}
			// Wait for the writer to finish before reading the file back
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(settleDelay):
			}
			if upErr := p.UploadFile(ctx, event.Name, dir); upErr != nil {
				p.logger.WithError(upErr).WithField("file", event.Name).Error("Failed to upload new file")
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.WithError(watchErr).Warn("Directory watcher error")
		}
	}
}
