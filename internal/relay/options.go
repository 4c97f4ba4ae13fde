package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/ledger"
	"github.com/tinytelemetry/msgrelay/internal/metrics"
	"github.com/tinytelemetry/msgrelay/internal/model"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock uses the system time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// DeadLetters receives payloads the sink refused.
type DeadLetters interface {
	Append(sink string, p model.Payload, reason error, at time.Time) (uint64, error)
}

// Ledger records finished cycles.
type Ledger interface {
	RecordCycle(ctx context.Context, c ledger.Cycle) (int64, error)
}

type config struct {
	fetchLimit  int
	interval    time.Duration
	digest      bool
	location    *time.Location
	clock       Clock
	logger      *slog.Logger
	metrics     metrics.Recorder
	deadLetters DeadLetters
	ledger      Ledger
}

func (c config) withDefaults() config {
	if c.fetchLimit <= 0 {
		c.fetchLimit = model.DefaultFetchLimit
	}
	if c.interval <= 0 {
		c.interval = model.DefaultPollInterval
	}
	if c.location == nil {
		c.location = time.Local
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}
	return c
}

// Option configures a Relay.
type Option func(*config)

// WithFetchLimit caps the records read per cycle.
func WithFetchLimit(n int) Option {
	return func(c *config) { c.fetchLimit = n }
}

// WithInterval sets the pause between cycles in Run.
func WithInterval(d time.Duration) Option {
	return func(c *config) { c.interval = d }
}

// WithDigest sends one payload per cycle instead of one per record.
func WithDigest(enabled bool) Option {
	return func(c *config) { c.digest = enabled }
}

// WithLocation sets the zone used to render timestamps.
func WithLocation(loc *time.Location) Option {
	return func(c *config) { c.location = loc }
}

func WithClock(clock Clock) Option {
	return func(c *config) { c.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(c *config) { c.metrics = m }
}

// WithDeadLetters keeps refused payloads for later replay.
func WithDeadLetters(d DeadLetters) Option {
	return func(c *config) { c.deadLetters = d }
}

// WithLedger records every cycle.
func WithLedger(l Ledger) Option {
	return func(c *config) { c.ledger = l }
}
