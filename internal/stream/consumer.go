package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConsumerGroup reads messages from one topic as a member of a consumer group.
// Messages are acknowledged only after the handler applied them, so unacked
// messages survive a crashed consumer and are redelivered to the group.
type ConsumerGroup struct {
	client *redis.Client
	topic  string
	group  string
	name   string
	cfg    ConsumerConfig
	logger *logrus.Logger
}

// NewConsumerGroup joins (creating if needed) the configured consumer group on
// a topic. The consumer name is derived from the hostname so parallel
// consumers on different machines stay distinct.
func NewConsumerGroup(ctx context.Context, cfg *Config, topic string, logger *logrus.Logger) (*ConsumerGroup, error) {
	if logger == nil {
		logger = logrus.New()
	}
	host, err := os.Hostname()
	if err != nil {
		host = "htstream"
	}

	g := &ConsumerGroup{
		client: cfg.Broker.NewClient(),
		topic:  topic,
		group:  cfg.Consumer.GroupID,
		name:   fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		cfg:    cfg.Consumer,
		logger: logger,
	}

	start := "0"
	if cfg.Consumer.StartAt == StartAtLatest {
		start = "$"
	}
	err = g.client.XGroupCreateMkStream(ctx, topic, g.group, start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		_ = g.client.Close()
		return nil, fmt.Errorf("failed to create consumer group %q on %q: %w", g.group, topic, err)
	}

	logger.WithFields(logrus.Fields{
		"topic":    topic,
		"group":    g.group,
		"consumer": g.name,
	}).Info("Joined consumer group")
	return g, nil
}

// Topic returns the topic this group consumes.
func (g *ConsumerGroup) Topic() string {
	return g.topic
}

// Close releases the broker connection.
func (g *ConsumerGroup) Close() error {
	return g.client.Close()
}

// Fetch blocks for up to the configured block time and returns the next batch
// of messages for this consumer. An empty batch means the block time elapsed.
func (g *ConsumerGroup) Fetch(ctx context.Context) ([]redis.XMessage, error) {
	res, err := g.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    g.group,
		Consumer: g.name,
		Streams:  []string{g.topic, ">"},
		Count:    g.cfg.BatchSize,
		Block:    g.cfg.BlockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from %q: %w", g.topic, err)
	}

	var msgs []redis.XMessage
	for _, s := range res {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// Ack acknowledges processed message ids.
func (g *ConsumerGroup) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := g.client.XAck(ctx, g.topic, g.group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack messages on %q: %w", g.topic, err)
	}
	return nil
}

// Consume fetches messages until the context is done, invoking handler for
// each. A message is acked when the handler returns nil; a handler error
// leaves the message pending for redelivery.
func (g *ConsumerGroup) Consume(ctx context.Context, handler func(redis.XMessage) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := g.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, msg := range msgs {
			if handlerErr := handler(msg); handlerErr != nil {
				g.logger.WithError(handlerErr).WithField("message_id", msg.ID).Warn("Message left pending after handler error")
				continue
			}
			if ackErr := g.Ack(ctx, msg.ID); ackErr != nil {
				return ackErr
			}
		}
	}
}
