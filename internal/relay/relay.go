// Package relay composes the source, filter, formatter, sink and cursor
// into the polling cycle and its loop.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/cursor"
	"github.com/tinytelemetry/msgrelay/internal/filter"
	"github.com/tinytelemetry/msgrelay/internal/format"
	"github.com/tinytelemetry/msgrelay/internal/ledger"
	"github.com/tinytelemetry/msgrelay/internal/logging"
	"github.com/tinytelemetry/msgrelay/internal/model"
	"github.com/tinytelemetry/msgrelay/internal/sink"
	"github.com/tinytelemetry/msgrelay/internal/source"
)

// Source is the read side of the message store.
type Source interface {
	Fetch(ctx context.Context, cursor int64, limit int) ([]model.MessageRecord, error)
	MaxSequence(ctx context.Context) (int64, error)
}

// ledgerWriteTimeout bounds the audit write after a cycle, which runs even
// when the cycle context is already cancelled.
const ledgerWriteTimeout = 5 * time.Second

// Relay runs cycles strictly one after another.
type Relay struct {
	source    Source
	cursor    cursor.Store
	filter    *filter.Engine
	forwarder *sink.Forwarder
	cfg       config
	logger    *slog.Logger

	mu     sync.RWMutex
	phase  Phase
	cycles uint64
	last   *CycleReport
}

// New builds a relay. All four collaborators are required.
func New(src Source, store cursor.Store, engine *filter.Engine, fwd *sink.Forwarder, opts ...Option) *Relay {
	if src == nil || store == nil || engine == nil || fwd == nil {
		panic("relay: nil collaborator")
	}
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Relay{
		source:    src,
		cursor:    store,
		filter:    engine,
		forwarder: fwd,
		cfg:       cfg,
		logger:    cfg.logger.With(logging.Component("relay")),
		phase:     PhaseIdle,
	}
}

// Interval is the pause Run waits between cycles.
func (r *Relay) Interval() time.Duration { return r.cfg.interval }

// Phase returns the current phase.
func (r *Relay) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// LastCycle returns the most recent report, if any cycle has finished.
func (r *Relay) LastCycle() (CycleReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return CycleReport{}, false
	}
	return *r.last, true
}

func (r *Relay) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

// RunCycle executes one fetch-filter-forward-persist iteration.
//
// Lock contention on the store is not an error: the report is marked
// skipped and the cursor is left alone. An empty fetch writes nothing. When
// ctx ends before every payload was attempted the cursor is not persisted,
// so the batch is fetched again on the next start.
func (r *Relay) RunCycle(ctx context.Context) (CycleReport, error) {
	r.mu.Lock()
	r.cycles++
	rep := CycleReport{Number: r.cycles, StartedAt: r.cfg.clock.Now()}
	r.mu.Unlock()

	log := r.logger.With(logging.Cycle(rep.Number))
	err := r.runCycle(ctx, log, &rep)
	if err != nil {
		rep.Error = err.Error()
		if rep.Outcome == "" {
			rep.Outcome = OutcomeError
		}
	}
	r.finish(ctx, log, &rep)
	return rep, err
}

func (r *Relay) runCycle(ctx context.Context, log *slog.Logger, rep *CycleReport) error {
	r.setPhase(PhaseFetching)
	state, err := r.cursor.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	rep.CursorBefore = state.LastSequenceID
	rep.CursorAfter = state.LastSequenceID

	records, err := r.source.Fetch(ctx, state.LastSequenceID, r.cfg.fetchLimit)
	if err != nil {
		if errors.Is(err, source.ErrTransient) {
			rep.Outcome = OutcomeSkipped
			log.Warn("message store busy, skipping cycle", logging.Cursor(state.LastSequenceID), logging.Error(err))
			return nil
		}
		return fmt.Errorf("fetch: %w", err)
	}
	rep.Fetched = len(records)
	r.cfg.metrics.AddFetched(len(records))
	if len(records) == 0 {
		rep.Outcome = OutcomeEmpty
		return nil
	}

	r.setPhase(PhaseFiltering)
	admitted := r.filter.Apply(records)
	rep.Admitted = len(admitted.Admitted)
	rep.Filtered = admitted.Removed
	r.cfg.metrics.AddFiltered(admitted.Removed)

	r.setPhase(PhaseForwarding)
	payloads := format.Payloads(admitted.Admitted, r.cfg.location, r.cfg.digest)
	res := r.forwarder.Forward(ctx, payloads)
	rep.Delivered = res.Delivered
	rep.Failed = res.Failed
	r.cfg.metrics.AddDelivered(res.Delivered)
	r.cfg.metrics.AddFailed(res.Failed)
	rep.failures = res.Failures

	// The whole batch is fetched again on restart, so failures from an
	// interrupted cycle are not dead-lettered.
	if res.Interrupted || ctx.Err() != nil {
		rep.Outcome = OutcomeInterrupted
		log.Warn("shutdown during forwarding, cursor not advanced",
			logging.Cursor(state.LastSequenceID), "delivered", res.Delivered, "pending", len(payloads)-res.Delivered-res.Failed)
		return context.Cause(ctx)
	}
	rep.DeadLettered = r.deadLetter(log, res.Failures)

	r.setPhase(PhasePersisting)
	next := model.CursorState{
		LastSequenceID:   model.MaxSequenceID(records),
		LastRunTimestamp: r.cfg.clock.Now().UTC(),
	}
	if err := cursor.Advance(ctx, r.cursor, state, next); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	rep.Persisted = true
	rep.CursorAfter = next.LastSequenceID
	r.cfg.metrics.SetCursor(next.LastSequenceID)

	switch {
	case len(payloads) == 0:
		rep.Outcome = OutcomeFiltered
	case res.Failed == 0:
		rep.Outcome = OutcomeDelivered
	case res.Delivered == 0:
		rep.Outcome = OutcomeFailed
	default:
		rep.Outcome = OutcomePartial
	}
	return nil
}

func (r *Relay) deadLetter(log *slog.Logger, failures []sink.Failure) int {
	if r.cfg.deadLetters == nil || len(failures) == 0 {
		return 0
	}
	var n int
	name := r.forwarder.Sink().Name()
	for _, f := range failures {
		if _, err := r.cfg.deadLetters.Append(name, f.Payload, f.Err, r.cfg.clock.Now()); err != nil {
			log.Error("dead-letter append failed", logging.Error(err), "sequence_ids", f.Payload.SequenceIDs)
			continue
		}
		n++
	}
	r.cfg.metrics.AddDeadLettered(n)
	return n
}

func (r *Relay) finish(ctx context.Context, log *slog.Logger, rep *CycleReport) {
	rep.FinishedAt = r.cfg.clock.Now()
	r.cfg.metrics.ObserveCycle(string(rep.Outcome), rep.Duration())

	if r.cfg.ledger != nil && rep.Outcome != OutcomeEmpty {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
		if _, err := r.cfg.ledger.RecordCycle(lctx, r.ledgerRow(*rep)); err != nil {
			log.Warn("ledger write failed", logging.Error(err))
		}
		cancel()
	}

	r.mu.Lock()
	r.phase = PhaseIdle
	r.last = rep
	r.mu.Unlock()

	attrs := []any{
		"outcome", rep.Outcome,
		"fetched", rep.Fetched,
		"admitted", rep.Admitted,
		"delivered", rep.Delivered,
		"failed", rep.Failed,
		logging.Cursor(rep.CursorAfter),
		logging.Duration(rep.Duration()),
	}
	switch rep.Outcome {
	case OutcomeEmpty:
		log.Debug("cycle complete", attrs...)
	case OutcomeError:
		log.Error("cycle failed", append(attrs, "error", rep.Error)...)
	default:
		log.Info("cycle complete", attrs...)
	}
}

func (r *Relay) ledgerRow(rep CycleReport) ledger.Cycle {
	var failures []ledger.Failure
	for _, f := range rep.failures {
		failures = append(failures, ledger.Failure{
			Sink:        r.forwarder.Sink().Name(),
			Subject:     f.Payload.Subject,
			SequenceIDs: f.Payload.SequenceIDs,
			Reason:      f.Err.Error(),
		})
	}
	return ledger.Cycle{
		StartedAt:    rep.StartedAt,
		FinishedAt:   rep.FinishedAt,
		Outcome:      string(rep.Outcome),
		Fetched:      rep.Fetched,
		Admitted:     rep.Admitted,
		Delivered:    rep.Delivered,
		Failed:       rep.Failed,
		CursorBefore: rep.CursorBefore,
		CursorAfter:  rep.CursorAfter,
		Error:        rep.Error,
		Failures:     failures,
	}
}

// Run executes cycles until ctx is done, waiting Interval between them. A
// failing or panicking cycle is logged and the loop carries on.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started",
		"interval", r.cfg.interval.String(),
		"fetch_limit", r.cfg.fetchLimit,
		"digest", r.cfg.digest,
		logging.Sink(r.forwarder.Sink().Name()))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return nil
		case <-timer.C:
		}

		r.safeCycle(ctx)
		timer.Reset(r.cfg.interval)
	}
}

func (r *Relay) safeCycle(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.setPhase(PhaseIdle)
			r.logger.Error("cycle panicked", "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	_, _ = r.RunCycle(ctx)
}

// Seed moves the cursor to the store's current maximum without fetching or
// forwarding anything, so existing history is not replayed.
func (r *Relay) Seed(ctx context.Context) (int64, error) {
	maxSeq, err := r.source.MaxSequence(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed: read store maximum: %w", err)
	}
	now := r.cfg.clock.Now().UTC()
	state := model.CursorState{
		LastSequenceID:   maxSeq,
		LastRunTimestamp: now,
		SeededAt:         &now,
	}
	if err := r.cursor.Save(ctx, state); err != nil {
		return 0, fmt.Errorf("seed: save cursor: %w", err)
	}
	r.cfg.metrics.SetCursor(maxSeq)
	r.logger.Info("cursor seeded", logging.Cursor(maxSeq))
	return maxSeq, nil
}

// Status reads the cursor and the store maximum. Failures of either are
// carried in the report rather than returned.
func (r *Relay) Status(ctx context.Context) (StatusReport, error) {
	rep := StatusReport{Phase: r.Phase()}
	r.mu.RLock()
	rep.Cycles = r.cycles
	if r.last != nil {
		last := *r.last
		rep.LastCycle = &last
	}
	r.mu.RUnlock()

	state, err := r.cursor.Load(ctx)
	if err != nil {
		rep.CursorError = err.Error()
	} else {
		rep.Cursor = state.LastSequenceID
		if !state.LastRunTimestamp.IsZero() {
			t := state.LastRunTimestamp
			rep.LastRun = &t
		}
		rep.SeededAt = state.SeededAt
	}

	storeMax, err := r.source.MaxSequence(ctx)
	if err != nil {
		rep.StoreError = err.Error()
	} else {
		rep.StoreMax = storeMax
		rep.Backlog = Backlog(storeMax, rep.Cursor)
	}

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}
