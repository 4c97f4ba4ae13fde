package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Error is one invalid or missing configuration value.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// MaxFetchLimit caps the per-cycle batch.
const MaxFetchLimit = 10000

// Validate checks every option once. All problems are returned together.
func (c Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &Error{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.Source.Path) == "" {
		bad("source.path", "is required")
	}
	if c.PollIntervalSeconds < 1 {
		bad("poll-interval-seconds", "must be at least 1, got %d", c.PollIntervalSeconds)
	}
	if c.FetchLimit < 1 || c.FetchLimit > MaxFetchLimit {
		bad("fetch-limit", "must be between 1 and %d, got %d", MaxFetchLimit, c.FetchLimit)
	}

	f := c.Filters
	if f.BusinessHours.Start < 0 || f.BusinessHours.End > 24 || f.BusinessHours.Start >= f.BusinessHours.End {
		bad("filters.business-hours", "need 0 <= start < end <= 24, got %d..%d", f.BusinessHours.Start, f.BusinessHours.End)
	}
	for _, d := range f.BusinessDays {
		if d < 0 || d > 6 {
			bad("filters.business-days", "day %d out of range 0 (Monday) .. 6 (Sunday)", d)
		}
	}
	if _, err := c.Location(); err != nil {
		bad("filters.timezone", "unknown timezone %q", f.Timezone)
	}

	if c.Digest.Enabled && c.Digest.IntervalMinutes < 1 {
		bad("digest.interval-minutes", "must be at least 1 when digest is enabled")
	}

	switch c.Sink.Type {
	case SinkWebhook:
		w := c.Sink.Webhook
		if strings.TrimSpace(w.URL) == "" {
			bad("sink.webhook.url", "is required for the webhook sink")
		} else if u, err := url.Parse(w.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			bad("sink.webhook.url", "must be an http(s) URL")
		}
	case SinkEmail:
		e := c.Sink.Email
		if strings.TrimSpace(e.SMTPHost) == "" {
			bad("sink.email.smtp-host", "is required for the email sink")
		}
		if e.SMTPPort < 1 || e.SMTPPort > 65535 {
			bad("sink.email.smtp-port", "invalid port %d", e.SMTPPort)
		}
		if strings.TrimSpace(e.From) == "" {
			bad("sink.email.from", "is required for the email sink")
		}
		if strings.TrimSpace(e.To) == "" {
			bad("sink.email.to", "is required for the email sink")
		}
	case SinkNATS:
		if strings.TrimSpace(c.Sink.NATS.URL) == "" {
			bad("sink.nats.url", "is required for the nats sink")
		}
		if strings.TrimSpace(c.Sink.NATS.Subject) == "" {
			bad("sink.nats.subject", "is required for the nats sink")
		}
	case SinkKafka:
		if len(c.Sink.Kafka.Brokers) == 0 {
			bad("sink.kafka.brokers", "at least one broker is required for the kafka sink")
		}
		if strings.TrimSpace(c.Sink.Kafka.Topic) == "" {
			bad("sink.kafka.topic", "is required for the kafka sink")
		}
	default:
		bad("sink.type", "unknown sink %q (want webhook, email, nats or kafka)", c.Sink.Type)
	}

	switch c.Cursor.Backend {
	case CursorFile:
		if strings.TrimSpace(c.Cursor.Path) == "" {
			bad("cursor.path", "is required for the file backend")
		}
	case CursorRedis:
		if strings.TrimSpace(c.Cursor.Redis.Addr) == "" {
			bad("cursor.redis.addr", "is required for the redis backend")
		}
	default:
		bad("cursor.backend", "unknown backend %q (want file or redis)", c.Cursor.Backend)
	}

	if c.DeadLetter.Enabled && strings.TrimSpace(c.DeadLetter.Path) == "" {
		bad("dead-letter.path", "is required when dead-letter is enabled")
	}
	if c.Ledger.Enabled && strings.TrimSpace(c.Ledger.Path) == "" {
		bad("ledger.path", "is required when ledger is enabled")
	}
	if c.API.Enabled && strings.TrimSpace(c.API.Addr) == "" {
		bad("api.addr", "is required when api is enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		bad("log.level", "unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		bad("log.format", "unknown format %q (want text or json)", c.Log.Format)
	}

	return errors.Join(errs...)
}
