package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/model"
)

// Failure is one payload the sink did not accept.
type Failure struct {
	Payload model.Payload
	Err     error
}

// Result summarizes one Forward call.
type Result struct {
	Delivered int
	Failed    int
	Failures  []Failure
	// Interrupted is set when ctx ended before every payload was attempted.
	Interrupted bool
}

// Forwarder sends payloads sequentially through one sink.
type Forwarder struct {
	sink     Sink
	logger   *slog.Logger
	interval time.Duration
	sleep    func(context.Context, time.Duration) error
}

// NewForwarder wraps s. If s implements Pacer, its interval separates sends.
func NewForwarder(s Sink, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Forwarder{
		sink:   s,
		logger: logger,
		sleep:  sleep,
	}
	if p, ok := s.(Pacer); ok {
		f.interval = p.SendInterval()
	}
	return f
}

// Sink returns the wrapped sink.
func (f *Forwarder) Sink() Sink { return f.sink }

// Forward attempts every payload once, in order. Failures are logged and
// collected; nothing is retried.
func (f *Forwarder) Forward(ctx context.Context, payloads []model.Payload) Result {
	var res Result
	for i, p := range payloads {
		if i > 0 && f.interval > 0 {
			if err := f.sleep(ctx, f.interval); err != nil {
				res.Interrupted = true
				return res
			}
		}
		if ctx.Err() != nil {
			res.Interrupted = true
			return res
		}

		if err := f.sink.Send(ctx, p); err != nil {
			res.Failed++
			res.Failures = append(res.Failures, Failure{Payload: p, Err: err})
			f.logger.Warn("delivery failed",
				"sink", f.sink.Name(),
				"subject", p.Subject,
				"sequence_ids", p.SequenceIDs,
				"error", err)
			continue
		}
		res.Delivered++
		f.logger.Debug("delivered", "sink", f.sink.Name(), "subject", p.Subject)
	}
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
