package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/model"
)

// Sender is the delivery side of a sink.
type Sender interface {
	Send(ctx context.Context, p model.Payload) error
}

// RedeliverResult summarizes one Redeliver call.
type RedeliverResult struct {
	Delivered int
	Remaining int
	// LastErr is the send error that stopped the walk, if any.
	LastErr error
}

// Redeliver resends pending entries oldest first and commits each one the
// sender accepts. It stops at the first refusal so the commit watermark
// never skips an undelivered entry. Senders that expose SendInterval are
// paced the same way as a regular cycle.
func (l *Log) Redeliver(ctx context.Context, s Sender) (RedeliverResult, error) {
	pending, err := l.Pending()
	if err != nil {
		return RedeliverResult{}, err
	}

	var interval time.Duration
	if p, ok := s.(interface{ SendInterval() time.Duration }); ok {
		interval = p.SendInterval()
	}

	res := RedeliverResult{Remaining: len(pending)}
	for i, e := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if i > 0 && interval > 0 {
			if err := wait(ctx, interval); err != nil {
				return res, err
			}
		}
		if serr := s.Send(ctx, e.Payload()); serr != nil {
			res.LastErr = fmt.Errorf("entry %d: %w", e.Seq, serr)
			return res, nil
		}
		if err := l.Commit(e.Seq); err != nil {
			return res, err
		}
		res.Delivered++
		res.Remaining--
	}
	return res, nil
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
