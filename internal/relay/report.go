package relay

import (
	"time"

	"github.com/tinytelemetry/msgrelay/internal/sink"
)

// Phase is where the relay currently is within a cycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseFiltering  Phase = "filtering"
	PhaseForwarding Phase = "forwarding"
	PhasePersisting Phase = "persisting"
)

// Outcome classifies a finished cycle.
type Outcome string

const (
	// OutcomeDelivered means every payload was accepted.
	OutcomeDelivered Outcome = "delivered"
	// OutcomePartial means some payloads were refused.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed means every payload was refused.
	OutcomeFailed Outcome = "failed"
	// OutcomeFiltered means records were fetched but none were admitted.
	OutcomeFiltered Outcome = "filtered"
	// OutcomeEmpty means there was nothing new.
	OutcomeEmpty Outcome = "empty"
	// OutcomeSkipped means the store was locked; the cursor did not move.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeInterrupted means shutdown began mid-cycle; the cursor did not move.
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeError means the cycle hit an unexpected error.
	OutcomeError Outcome = "error"
)

// CycleReport describes one RunCycle call.
type CycleReport struct {
	Number       uint64    `json:"number"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	Outcome      Outcome   `json:"outcome"`
	CursorBefore int64     `json:"cursorBefore"`
	CursorAfter  int64     `json:"cursorAfter"`
	Fetched      int       `json:"fetched"`
	Admitted     int       `json:"admitted"`
	Filtered     int       `json:"filtered"`
	Delivered    int       `json:"delivered"`
	Failed       int       `json:"failed"`
	DeadLettered int       `json:"deadLettered"`
	Persisted    bool      `json:"persisted"`
	Error        string    `json:"error,omitempty"`

	failures []sink.Failure
}

// Skipped reports whether the cycle backed off on lock contention.
func (r CycleReport) Skipped() bool { return r.Outcome == OutcomeSkipped }

// Duration is the wall time of the cycle.
func (r CycleReport) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// StatusReport is the read-only view printed by `status` and served by the API.
type StatusReport struct {
	Cursor      int64        `json:"cursor"`
	LastRun     *time.Time   `json:"lastRun,omitempty"`
	SeededAt    *time.Time   `json:"seededAt,omitempty"`
	StoreMax    int64        `json:"storeMax"`
	Backlog     int64        `json:"backlog"`
	StoreError  string       `json:"storeError,omitempty"`
	CursorError string       `json:"cursorError,omitempty"`
	Phase       Phase        `json:"phase"`
	Cycles      uint64       `json:"cycles"`
	LastCycle   *CycleReport `json:"lastCycle,omitempty"`
}

// Backlog is storeMax - cursor, never negative.
func Backlog(storeMax, cursor int64) int64 {
	return max(storeMax-cursor, 0)
}
