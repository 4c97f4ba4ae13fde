package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tinytelemetry/msgrelay/internal/config"
	"github.com/tinytelemetry/msgrelay/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka produces a JSON envelope per payload, keyed by its first sequence ID.
type Kafka struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafka creates a synchronous producer for cfg.Topic.
func NewKafka(cfg config.KafkaConfig) *Kafka {
	return newKafka(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.Timeout(),
	}, cfg.Topic, cfg.Timeout())
}

func newKafka(w messageWriter, topic string, timeout time.Duration) *Kafka {
	return &Kafka{writer: w, topic: topic, timeout: timeout}
}

func (k *Kafka) Name() string { return config.SinkKafka }

func (k *Kafka) Send(ctx context.Context, p model.Payload) error {
	value, err := encodeEnvelope(p)
	if err != nil {
		return err
	}
	var key []byte
	if len(p.SequenceIDs) > 0 {
		key = []byte(strconv.FormatInt(p.SequenceIDs[0], 10))
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		return fmt.Errorf("kafka write %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
