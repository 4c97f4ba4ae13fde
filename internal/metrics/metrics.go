// Package metrics exposes relay telemetry. The relay depends on Recorder;
// Prometheus is one implementation and Nop the default.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder captures relay-level telemetry.
type Recorder interface {
	// ObserveCycle records one cycle's duration under its outcome.
	ObserveCycle(outcome string, d time.Duration)
	// AddFetched counts records read from the source.
	AddFetched(n int)
	// AddFiltered counts records the filter removed.
	AddFiltered(n int)
	// AddDelivered counts payloads the sink accepted.
	AddDelivered(n int)
	// AddFailed counts payloads the sink refused.
	AddFailed(n int)
	// AddDeadLettered counts payloads written to the dead-letter log.
	AddDeadLettered(n int)
	// SetCursor reports the persisted cursor.
	SetCursor(seq int64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveCycle(string, time.Duration) {}
func (Nop) AddFetched(int)                     {}
func (Nop) AddFiltered(int)                    {}
func (Nop) AddDelivered(int)                   {}
func (Nop) AddFailed(int)                      {}
func (Nop) AddDeadLettered(int)                {}
func (Nop) SetCursor(int64)                    {}

// Prometheus records into a caller-supplied registry.
type Prometheus struct {
	cycles       *prometheus.CounterVec
	cycleSeconds prometheus.Histogram
	fetched      prometheus.Counter
	filtered     prometheus.Counter
	delivered    prometheus.Counter
	failed       prometheus.Counter
	deadLettered prometheus.Counter
	cursor       prometheus.Gauge
	lastCycle    prometheus.Gauge
}

// NewPrometheus registers the relay collectors with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgrelay_cycles_total",
				Help: "Relay cycles by outcome",
			},
			[]string{"outcome"},
		),
		cycleSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "msgrelay_cycle_duration_seconds",
				Help:    "Duration of one relay cycle in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		fetched: f.NewCounter(prometheus.CounterOpts{
			Name: "msgrelay_records_fetched_total",
			Help: "Records read from the message store",
		}),
		filtered: f.NewCounter(prometheus.CounterOpts{
			Name: "msgrelay_records_filtered_total",
			Help: "Records removed by sender or business-hours filters",
		}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "msgrelay_payloads_delivered_total",
			Help: "Payloads accepted by the sink",
		}),
		failed: f.NewCounter(prometheus.CounterOpts{
			Name: "msgrelay_payloads_failed_total",
			Help: "Payloads refused by the sink",
		}),
		deadLettered: f.NewCounter(prometheus.CounterOpts{
			Name: "msgrelay_payloads_dead_lettered_total",
			Help: "Payloads written to the dead-letter log",
		}),
		cursor: f.NewGauge(prometheus.GaugeOpts{
			Name: "msgrelay_cursor_sequence",
			Help: "Last persisted source sequence ID",
		}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "msgrelay_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		}),
	}
}

func (p *Prometheus) ObserveCycle(outcome string, d time.Duration) {
	p.cycles.WithLabelValues(outcome).Inc()
	p.cycleSeconds.Observe(d.Seconds())
	p.lastCycle.SetToCurrentTime()
}

func (p *Prometheus) AddFetched(n int)      { p.fetched.Add(float64(n)) }
func (p *Prometheus) AddFiltered(n int)     { p.filtered.Add(float64(n)) }
func (p *Prometheus) AddDelivered(n int)    { p.delivered.Add(float64(n)) }
func (p *Prometheus) AddFailed(n int)       { p.failed.Add(float64(n)) }
func (p *Prometheus) AddDeadLettered(n int) { p.deadLettered.Add(float64(n)) }
func (p *Prometheus) SetCursor(seq int64)   { p.cursor.Set(float64(seq)) }
