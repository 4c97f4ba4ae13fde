package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/tinytelemetry/msgrelay/internal/config"
	"github.com/tinytelemetry/msgrelay/internal/cursor"
	"github.com/tinytelemetry/msgrelay/internal/deadletter"
	"github.com/tinytelemetry/msgrelay/internal/filter"
	"github.com/tinytelemetry/msgrelay/internal/ledger"
	"github.com/tinytelemetry/msgrelay/internal/logging"
	"github.com/tinytelemetry/msgrelay/internal/metrics"
	"github.com/tinytelemetry/msgrelay/internal/model"
	"github.com/tinytelemetry/msgrelay/internal/relay"
	"github.com/tinytelemetry/msgrelay/internal/sink"
	"github.com/tinytelemetry/msgrelay/internal/source"
)

// wireMode selects which collaborators a command needs.
type wireMode int

const (
	// wireInspect opens the store, cursor and dead-letter log. Nothing is
	// delivered.
	wireInspect wireMode = iota
	// wireDeliver also connects the sink, the ledger and metrics.
	wireDeliver
)

// components holds everything a command built, plus the cleanups to run in
// reverse order on exit.
type components struct {
	cfg        config.Config
	logger     *slog.Logger
	source     *source.Reader
	cursor     cursor.Store
	sink       sink.Sink
	relay      *relay.Relay
	deadLetter *deadletter.Log
	ledger     *ledger.Store
	registry   *prometheus.Registry

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *components) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// wire builds the relay and its collaborators from cfg.
func wire(ctx context.Context, cfg config.Config, logger *slog.Logger, mode wireMode) (_ *components, err error) {
	c := &components{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("filters.timezone: %w", err)
	}

	c.source, err = source.Open(cfg.Source.Path, source.Options{
		AccountFilter: cfg.Source.AccountFilter,
		QueryTimeout:  cfg.Source.QueryTimeout(),
	})
	if err != nil {
		return nil, err
	}
	c.onClose(c.source.Close)

	c.cursor, err = openCursor(cfg.Cursor)
	if err != nil {
		return nil, err
	}
	if closer, ok := c.cursor.(io.Closer); ok {
		c.onClose(closer.Close)
	}

	opts := []relay.Option{
		relay.WithFetchLimit(cfg.FetchLimit),
		relay.WithInterval(cfg.PollInterval()),
		relay.WithDigest(cfg.Digest.Enabled),
		relay.WithLocation(loc),
		relay.WithLogger(logger),
	}

	if cfg.DeadLetter.Enabled {
		c.deadLetter, err = deadletter.Open(cfg.DeadLetter.Path)
		if err != nil {
			return nil, err
		}
		c.onClose(c.deadLetter.Close)
		opts = append(opts, relay.WithDeadLetters(c.deadLetter))
	}

	if mode == wireInspect {
		c.sink = inertSink{name: cfg.Sink.Type}
	} else {
		c.sink, err = sink.New(cfg.Sink, logger.With(logging.Component("sink")))
		if err != nil {
			return nil, err
		}
		if closer, ok := c.sink.(sink.Closer); ok {
			c.onClose(closer.Close)
		}

		c.registry = prometheus.NewRegistry()
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, relay.WithMetrics(metrics.NewPrometheus(c.registry)))

		if cfg.Ledger.Enabled {
			c.ledger, err = ledger.Open(ctx, cfg.Ledger.Path)
			if err != nil {
				return nil, err
			}
			c.onClose(c.ledger.Close)
			opts = append(opts, relay.WithLedger(c.ledger))
		}
	}

	engine := filter.New(cfg.Filters, loc)
	fwd := sink.NewForwarder(c.sink, logger.With(logging.Component("forwarder")))
	c.relay = relay.New(c.source, c.cursor, engine, fwd, opts...)
	return c, nil
}

// openCursor builds the configured cursor backend. The redis client is
// closed through the returned store.
func openCursor(cfg config.CursorConfig) (cursor.Store, error) {
	switch cfg.Backend {
	case config.CursorRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return cursor.NewRedisStore(client, cfg.Redis.Key), nil
	case config.CursorFile, "":
		return cursor.NewFileStore(cfg.Path)
	default:
		return nil, fmt.Errorf("cursor: unknown backend %q", cfg.Backend)
	}
}

// inertSink stands in for the real sink in commands that never deliver, so
// inspecting state does not dial a broker.
type inertSink struct {
	name string
}

func (s inertSink) Name() string { return s.name }

func (s inertSink) Send(context.Context, model.Payload) error {
	return errors.New("sink not connected")
}
