package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"tradexec/internal/domain/execution"
	"tradexec/internal/ports"
)

var _ ports.ResultPublisher = (*Publisher)(nil)

// Header keys set on every result message so consumers can route on the
// outcome without decoding the payload.
const (
	HeaderContentType = "content-type"
	HeaderStatus      = "tradexec-status"
	HeaderKind        = "tradexec-kind"
	HeaderBackend     = "tradexec-backend"
)

// PublisherConfig configures the result publisher.
type PublisherConfig struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds a single publish. Zero keeps the kafka-go default.
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Publisher writes one result envelope per finished execution. Messages are
// keyed by request ID and hash-partitioned, so every result for an ID lands
// on the same partition.
type Publisher struct {
	writer messageWriter
	logger *zap.Logger
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewPublisher builds a Publisher for cfg.Topic.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           cfg.WriteTimeout,
	}

	return newPublisher(writer, cfg.Logger), nil
}

func newPublisher(writer messageWriter, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: writer, logger: logger.With(zap.String("component", "kafka-publisher"))}
}

// PublishResult encodes report and writes it with outcome headers.
func (p *Publisher) PublishResult(ctx context.Context, report execution.Report) error {
	if p.writer == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	envelope := makeResultEnvelope(report)
	msg, err := resultMessage(envelope)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("result not published",
			zap.String("request_id", envelope.ID),
			zap.String("status", string(envelope.Status)),
			zap.Error(err),
		)
		return fmt.Errorf("write message: %w", err)
	}

	p.logger.Debug("result published",
		zap.String("request_id", envelope.ID),
		zap.String("status", string(envelope.Status)),
		zap.Int("bytes", len(msg.Value)),
	)
	return nil
}

func resultMessage(envelope resultEnvelope) (kafkago.Message, error) {
	payload, err := encodeEnvelope(envelope)
	if err != nil {
		return kafkago.Message{}, err
	}

	msg := kafkago.Message{
		Value: payload,
		Time:  envelope.Timestamp,
		Headers: []kafkago.Header{
			{Key: HeaderContentType, Value: []byte("application/json")},
			{Key: HeaderStatus, Value: []byte(envelope.Status)},
			{Key: HeaderKind, Value: []byte(envelope.Kind)},
			{Key: HeaderBackend, Value: []byte(envelope.Backend)},
		},
	}
	if envelope.ID != "" {
		msg.Key = []byte(envelope.ID)
	}
	return msg, nil
}

// Close flushes pending writes and releases the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
