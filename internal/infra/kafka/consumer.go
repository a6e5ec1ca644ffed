package kafka

import (
	"context"
	"fmt"
	"io"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"tradexec/internal/domain/execution"
	"tradexec/internal/ports"
)

// Config describes how to connect to a Kafka cluster for consuming requests.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
	Logger   *zap.Logger
}

var _ ports.RequestSource = (*Consumer)(nil)

// Consumer wraps a kafka-go reader to implement ports.RequestSource.
type Consumer struct {
	reader messageReader
	logger *zap.Logger
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// NewConsumer builds a new Consumer from the provided configuration.
func NewConsumer(cfg Config) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "tradexec-engine"
	}

	readerConfig := kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	}

	if readerConfig.MinBytes == 0 {
		readerConfig.MinBytes = 1
	}
	if readerConfig.MaxBytes == 0 {
		readerConfig.MaxBytes = 10 * 1024 * 1024
	}
	if readerConfig.MaxWait == 0 {
		readerConfig.MaxWait = time.Second
	}

	return newConsumer(kafkago.NewReader(readerConfig), cfg.Logger), nil
}

func newConsumer(reader messageReader, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, logger: logger.With(zap.String("component", "kafka-consumer"))}
}

// NextRequest blocks until the next request message is available in Kafka
// or the context is cancelled. Malformed messages are logged and skipped.
func (c *Consumer) NextRequest(ctx context.Context) (execution.Request, error) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return execution.Request{}, err
		}

		req, err := decodeRequestMessage(msg)
		if err == nil || err == io.EOF {
			return req, err
		}
		c.logger.Warn("skipping malformed request message",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
