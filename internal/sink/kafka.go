package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lvonguyen/falconstream/internal/config"
	"github.com/lvonguyen/falconstream/internal/stream"
)

// kafkaWriter is the subset of kafka.Writer used by the forwarder.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder drains the queue and publishes envelopes to a Kafka topic.
type KafkaForwarder struct {
	writer kafkaWriter
	logger *zap.Logger
}

// NewKafkaForwarder creates a forwarder from configuration.
func NewKafkaForwarder(cfg config.KafkaConfig, logger *zap.Logger) *KafkaForwarder {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    batchSize,
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: cfg.Timeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaForwarder{writer: writer, logger: logger}
}

// Run consumes envelopes until the channel closes or the context is
// cancelled. A publish failure stops the forwarder: dropping events here
// would silently break the delivery guarantee upstream loops paid for.
func (f *KafkaForwarder) Run(ctx context.Context, events <-chan stream.Envelope) error {
	defer func() {
		if err := f.writer.Close(); err != nil {
			f.logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				f.logger.Info("event queue closed, kafka forwarder stopping")
				return nil
			}
			if err := f.publish(ctx, env); err != nil {
				return err
			}
		}
	}
}

func (f *KafkaForwarder) publish(ctx context.Context, env stream.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := f.writer.WriteMessages(ctx, kafka.Message{Value: value}); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}
	return nil
}
