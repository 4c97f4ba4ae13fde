package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tinytelemetry/msgrelay/internal/ledger"
	"github.com/tinytelemetry/msgrelay/internal/model"
)

// fakeSource serves records with SequenceID > cursor in order, like chat.db.
type fakeSource struct {
	mu         sync.Mutex
	records    []model.MessageRecord
	fetchErr   error
	maxErr     error
	panicOnce  bool
	fetchCalls int
}

func (s *fakeSource) Fetch(_ context.Context, cursor int64, limit int) ([]model.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.panicOnce {
		s.panicOnce = false
		panic("corrupt row")
	}
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []model.MessageRecord
	for _, r := range s.records {
		if r.SequenceID > cursor && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeSource) MaxSequence(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxErr != nil {
		return 0, s.maxErr
	}
	var m int64
	for _, r := range s.records {
		m = max(m, r.SequenceID)
	}
	return m, nil
}

func (s *fakeSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

type memCursor struct {
	mu      sync.Mutex
	state   model.CursorState
	saves   int
	loadErr error
}

func (c *memCursor) Load(context.Context) (model.CursorState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.loadErr
}

func (c *memCursor) Save(_ context.Context, s model.CursorState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.saves++
	return nil
}

func (c *memCursor) get() (model.CursorState, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.saves
}

type fakeSink struct {
	mu     sync.Mutex
	fail   bool
	sent   []model.Payload
	onSend func(model.Payload)
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Send(_ context.Context, p model.Payload) error {
	s.mu.Lock()
	s.sent = append(s.sent, p)
	fail, hook := s.fail, s.onSend
	s.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	if fail {
		return errors.New("503 service unavailable")
	}
	return nil
}

func (s *fakeSink) sentIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, p := range s.sent {
		ids = append(ids, p.SequenceIDs...)
	}
	return ids
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeDeadLetters struct {
	entries []model.Payload
	reasons []string
}

func (d *fakeDeadLetters) Append(_ string, p model.Payload, reason error, _ time.Time) (uint64, error) {
	d.entries = append(d.entries, p)
	d.reasons = append(d.reasons, reason.Error())
	return uint64(len(d.entries)), nil
}

type fakeLedger struct {
	cycles []ledger.Cycle
}

func (l *fakeLedger) RecordCycle(_ context.Context, c ledger.Cycle) (int64, error) {
	l.cycles = append(l.cycles, c)
	return int64(len(l.cycles)), nil
}

func rec(id int64, sender string) model.MessageRecord {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return model.MessageRecord{
		SequenceID: id,
		Text:       "message " + sender,
		Timestamp:  &ts,
		ServiceTag: "SMS",
		Sender:     sender,
	}
}
