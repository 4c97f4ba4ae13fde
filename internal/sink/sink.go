// Package sink delivers formatted payloads to one configured destination.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/config"
	"github.com/tinytelemetry/msgrelay/internal/model"
)

// Sink delivers one payload. A nil error means the payload was delivered.
type Sink interface {
	Name() string
	Send(ctx context.Context, p model.Payload) error
}

// Pacer is implemented by sinks that rate-limit consecutive sends.
type Pacer interface {
	SendInterval() time.Duration
}

// Closer is implemented by sinks that hold a connection.
type Closer interface {
	Close() error
}

// envelope is the JSON body published by the broker sinks.
type envelope struct {
	Subject     string  `json:"subject"`
	Text        string  `json:"text"`
	SequenceIDs []int64 `json:"sequenceIds"`
}

func encodeEnvelope(p model.Payload) ([]byte, error) {
	ids := p.SequenceIDs
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(envelope{Subject: p.Subject, Text: p.Text, SequenceIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// New builds the sink selected by cfg.Type.
func New(cfg config.SinkConfig, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case config.SinkWebhook:
		return NewWebhook(cfg.Webhook), nil
	case config.SinkEmail:
		return NewEmail(cfg.Email), nil
	case config.SinkNATS:
		return DialNATS(cfg.NATS, logger)
	case config.SinkKafka:
		return NewKafka(cfg.Kafka), nil
	default:
		return nil, fmt.Errorf("sink: unknown type %q", cfg.Type)
	}
}
