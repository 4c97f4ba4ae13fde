// Package filter decides which fetched records are forwarded.
package filter

import (
	"time"

	"github.com/tinytelemetry/msgrelay/internal/model"
)

// Result is the outcome of one Apply call.
type Result struct {
	Admitted []model.MessageRecord
	Removed  int
}

// Engine applies sender and business-hours rules. It is immutable once built.
type Engine struct {
	allowed  map[string]struct{}
	blocked  map[string]struct{}
	hoursOn  bool
	start    int
	end      int
	days     map[int]struct{}
	location *time.Location
}

// New builds an Engine from cfg. Local hours are evaluated in loc;
// a nil loc means time.Local.
func New(cfg model.FilterConfig, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	e := &Engine{
		allowed:  toSet(cfg.AllowedSenders),
		blocked:  toSet(cfg.BlockedSenders),
		hoursOn:  cfg.BusinessHoursOnly,
		start:    cfg.BusinessHours.Start,
		end:      cfg.BusinessHours.End,
		days:     make(map[int]struct{}, len(cfg.BusinessDays)),
		location: loc,
	}
	for _, d := range cfg.BusinessDays {
		e.days[d] = struct{}{}
	}
	return e
}

// Apply returns the admitted records in input order and how many were removed.
func (e *Engine) Apply(records []model.MessageRecord) Result {
	admitted := make([]model.MessageRecord, 0, len(records))
	for _, rec := range records {
		if e.Admit(rec) {
			admitted = append(admitted, rec)
		}
	}
	return Result{
		Admitted: admitted,
		Removed:  len(records) - len(admitted),
	}
}

// Admit reports whether a single record passes every rule.
func (e *Engine) Admit(rec model.MessageRecord) bool {
	if _, ok := e.blocked[rec.Sender]; ok {
		return false
	}
	if len(e.allowed) > 0 {
		if _, ok := e.allowed[rec.Sender]; !ok {
			return false
		}
	}
	if e.hoursOn {
		// Without a timestamp the window cannot be checked; reject.
		if rec.Timestamp == nil {
			return false
		}
		local := rec.Timestamp.In(e.location)
		if _, ok := e.days[Weekday(local)]; !ok {
			return false
		}
		if h := local.Hour(); h < e.start || h >= e.end {
			return false
		}
	}
	return true
}

// Weekday returns t's weekday numbered from Monday = 0 to Sunday = 6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
