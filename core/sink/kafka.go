package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" validate:"required,min=1"`
	Topic        string        `yaml:"topic" validate:"required"`
	RequiredAcks string        `yaml:"required_acks"` // none, one or all
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func (c *KafkaConfig) SetDefaults() {
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes artifacts keyed by token id, so every message for a
// token lands in the same partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

var _ Sink = (*KafkaSink)(nil)

func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka sink needs brokers and a topic")
	}
	cfg.SetDefaults()
	logger = logging.Or(logger).With(zap.String("component", "kafka-sink"), zap.String("topic", cfg.Topic))

	var acks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case "none":
		acks = kafka.RequireNone
	case "one":
		acks = kafka.RequireOne
	case "all":
		acks = kafka.RequireAll
	default:
		return nil, errors.Errorf("unknown required_acks %q", cfg.RequiredAcks)
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Sugar().Errorf(msg, args...)
		}),
	}
	return newKafkaSink(w, cfg.Topic, logger), nil
}

func newKafkaSink(w messageWriter, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, logger: logging.Or(logger)}
}

func (s *KafkaSink) Publish(ctx context.Context, a *types.MintedArtifact) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return errors.WithStack(err)
	}
	msg := kafka.Message{
		Key:   []byte(a.Token.TokenID),
		Value: raw,
		Headers: []kafka.Header{
			{Key: "version", Value: []byte(a.Version)},
			{Key: "network", Value: []byte(a.Network)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish artifact %s to %s", a.Token.TokenID, s.topic)
	}
	s.logger.Debug("artifact published", zap.String("token_id", a.Token.TokenID))
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
