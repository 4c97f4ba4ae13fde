package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tinytelemetry/msgrelay/internal/config"
	"github.com/tinytelemetry/msgrelay/internal/model"
)

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATS publishes a JSON envelope per payload to one subject.
type NATS struct {
	conn    publisher
	subject string
	timeout time.Duration
}

// DialNATS connects to the configured server. The connection retries in the
// background so a broker that is down at startup does not stop the relay.
func DialNATS(cfg config.NATSConfig, logger *slog.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("sink: connect nats: %w", err)
	}
	return newNATS(conn, cfg.Subject, cfg.Timeout()), nil
}

func newNATS(conn publisher, subject string, timeout time.Duration) *NATS {
	return &NATS{conn: conn, subject: subject, timeout: timeout}
}

func (n *NATS) Name() string { return config.SinkNATS }

func (n *NATS) Send(ctx context.Context, p model.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeEnvelope(p)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.subject, err)
	}
	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := n.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}
