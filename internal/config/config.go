// Package config loads and validates the relay configuration document.
package config

import (
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/model"
)

// Sink types.
const (
	SinkWebhook = "webhook"
	SinkEmail   = "email"
	SinkNATS    = "nats"
	SinkKafka   = "kafka"
)

// Cursor backends.
const (
	CursorFile  = "file"
	CursorRedis = "redis"
)

// Config is the full relay configuration. Every recognized option is a field
// here; defaults come from Default.
type Config struct {
	Source              SourceConfig       `mapstructure:"source" yaml:"source"`
	Sink                SinkConfig         `mapstructure:"sink" yaml:"sink"`
	PollIntervalSeconds int                `mapstructure:"poll-interval-seconds" yaml:"poll-interval-seconds"`
	FetchLimit          int                `mapstructure:"fetch-limit" yaml:"fetch-limit"`
	Filters             model.FilterConfig `mapstructure:"filters" yaml:"filters"`
	Digest              DigestConfig       `mapstructure:"digest" yaml:"digest"`
	Cursor              CursorConfig       `mapstructure:"cursor" yaml:"cursor"`
	DeadLetter          DeadLetterConfig   `mapstructure:"dead-letter" yaml:"dead-letter"`
	Ledger              LedgerConfig       `mapstructure:"ledger" yaml:"ledger"`
	API                 APIConfig          `mapstructure:"api" yaml:"api"`
	Log                 LogConfig          `mapstructure:"log" yaml:"log"`

	ConfigPath string `mapstructure:"-" yaml:"-"` // not from config file
}

// SourceConfig locates the message store.
type SourceConfig struct {
	Path                string `mapstructure:"path" yaml:"path"`
	AccountFilter       string `mapstructure:"account-filter" yaml:"account-filter"`
	QueryTimeoutSeconds int    `mapstructure:"query-timeout-seconds" yaml:"query-timeout-seconds"`
}

// SinkConfig selects the delivery destination and holds every variant's settings.
type SinkConfig struct {
	Type    string        `mapstructure:"type" yaml:"type"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
	Email   EmailConfig   `mapstructure:"email" yaml:"email"`
	NATS    NATSConfig    `mapstructure:"nats" yaml:"nats"`
	Kafka   KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
}

// WebhookConfig configures the HTTP JSON sink.
type WebhookConfig struct {
	URL                string `mapstructure:"url" yaml:"url"`
	TimeoutSeconds     int    `mapstructure:"timeout-seconds" yaml:"timeout-seconds"`
	SendIntervalMillis int    `mapstructure:"send-interval-millis" yaml:"send-interval-millis"`
}

// EmailConfig configures SMTP submission.
type EmailConfig struct {
	SMTPHost       string `mapstructure:"smtp-host" yaml:"smtp-host"`
	SMTPPort       int    `mapstructure:"smtp-port" yaml:"smtp-port"`
	Username       string `mapstructure:"username" yaml:"username"`
	Password       string `mapstructure:"password" yaml:"password"`
	From           string `mapstructure:"from" yaml:"from"`
	To             string `mapstructure:"to" yaml:"to"`
	StartTLS       bool   `mapstructure:"starttls" yaml:"starttls"`
	TimeoutSeconds int    `mapstructure:"timeout-seconds" yaml:"timeout-seconds"`
}

// NATSConfig configures the NATS publish sink.
type NATSConfig struct {
	URL            string `mapstructure:"url" yaml:"url"`
	Subject        string `mapstructure:"subject" yaml:"subject"`
	Name           string `mapstructure:"name" yaml:"name"`
	Username       string `mapstructure:"username" yaml:"username"`
	Password       string `mapstructure:"password" yaml:"password"`
	Token          string `mapstructure:"token" yaml:"token"`
	TimeoutSeconds int    `mapstructure:"timeout-seconds" yaml:"timeout-seconds"`
}

// KafkaConfig configures the Kafka producer sink.
type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers" yaml:"brokers"`
	Topic          string   `mapstructure:"topic" yaml:"topic"`
	TimeoutSeconds int      `mapstructure:"timeout-seconds" yaml:"timeout-seconds"`
}

// DigestConfig batches a cycle's messages into one payload.
type DigestConfig struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled"`
	IntervalMinutes int  `mapstructure:"interval-minutes" yaml:"interval-minutes"`
}

// CursorConfig selects where the resume position is stored.
type CursorConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Path    string      `mapstructure:"path" yaml:"path"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the redis cursor backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"`
}

// DeadLetterConfig enables the failed-delivery log.
type DeadLetterConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LedgerConfig enables the DuckDB cycle history.
type LedgerConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Path          string `mapstructure:"path" yaml:"path"`
	RetentionDays int    `mapstructure:"retention-days" yaml:"retention-days"`
}

// APIConfig enables the local status HTTP API.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	File   string `mapstructure:"file" yaml:"file"`
	Format string `mapstructure:"format" yaml:"format"` // text | json
}

// Default returns the configuration written by `msgrelay init`.
func Default() Config {
	return Config{
		Source: SourceConfig{
			Path:                "~/Library/Messages/chat.db",
			QueryTimeoutSeconds: int(model.DefaultQueryTimeout / time.Second),
		},
		Sink: SinkConfig{
			Type: SinkWebhook,
			Webhook: WebhookConfig{
				TimeoutSeconds:     int(model.DefaultSendTimeout / time.Second),
				SendIntervalMillis: int(model.DefaultWebhookInterval / time.Millisecond),
			},
			Email: EmailConfig{
				SMTPHost:       "smtp.gmail.com",
				SMTPPort:       587,
				StartTLS:       true,
				TimeoutSeconds: int(model.DefaultSendTimeout / time.Second),
			},
			NATS: NATSConfig{
				URL:            "nats://127.0.0.1:4222",
				Subject:        "msgrelay.messages",
				Name:           "msgrelay",
				TimeoutSeconds: 5,
			},
			Kafka: KafkaConfig{
				Brokers:        []string{},
				Topic:          "msgrelay-messages",
				TimeoutSeconds: 10,
			},
		},
		PollIntervalSeconds: int(model.DefaultPollInterval / time.Second),
		FetchLimit:          model.DefaultFetchLimit,
		Filters: model.FilterConfig{
			AllowedSenders: []string{},
			BlockedSenders: []string{},
			BusinessHours: model.BusinessHours{
				Start: model.DefaultBusinessHoursStart,
				End:   model.DefaultBusinessHoursEnd,
			},
			BusinessDays: model.DefaultBusinessDays(),
			Timezone:     "Local",
		},
		Digest: DigestConfig{
			IntervalMinutes: int(model.DefaultDigestInterval / time.Minute),
		},
		Cursor: CursorConfig{
			Backend: CursorFile,
			Path:    "~/.msgrelay/state.json",
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
				Key:  "msgrelay:cursor",
			},
		},
		DeadLetter: DeadLetterConfig{
			Path: "~/.msgrelay/deadletter.jsonl",
		},
		Ledger: LedgerConfig{
			Path:          "~/.msgrelay/ledger.duckdb",
			RetentionDays: model.DefaultLedgerRetention,
		},
		API: APIConfig{
			Addr: net.JoinHostPort("127.0.0.1", strconv.Itoa(3900)),
		},
		Log: LogConfig{
			Level:  "info",
			File:   "~/.msgrelay/relay.log",
			Format: "text",
		},
	}
}

// PollInterval is the pause between cycles. In digest mode the digest
// interval replaces the poll interval.
func (c Config) PollInterval() time.Duration {
	if c.Digest.Enabled && c.Digest.IntervalMinutes > 0 {
		return time.Duration(c.Digest.IntervalMinutes) * time.Minute
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// QueryTimeout bounds each source query.
func (c SourceConfig) QueryTimeout() time.Duration {
	return seconds(c.QueryTimeoutSeconds, model.DefaultQueryTimeout)
}

// Timeout bounds each webhook request.
func (c WebhookConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, model.DefaultSendTimeout)
}

// SendInterval is the pause between consecutive webhook sends in one cycle.
func (c WebhookConfig) SendInterval() time.Duration {
	if c.SendIntervalMillis < 0 {
		return 0
	}
	return time.Duration(c.SendIntervalMillis) * time.Millisecond
}

// Timeout bounds a whole SMTP session.
func (c EmailConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, model.DefaultSendTimeout)
}

// Timeout bounds connect and flush.
func (c NATSConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, 5*time.Second)
}

// Timeout bounds one produce call.
func (c KafkaConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, 10*time.Second)
}

// Location resolves the filter timezone. "Local" or empty means the host zone.
func (c Config) Location() (*time.Location, error) {
	tz := c.Filters.Timezone
	if tz == "" || tz == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// Dir is the directory holding the config file.
func (c Config) Dir() string {
	if c.ConfigPath == "" {
		return ""
	}
	return filepath.Dir(c.ConfigPath)
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
