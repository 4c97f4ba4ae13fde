// Package timestamp converts vendor-epoch integers from the message store
// into UTC instants.
package timestamp

import "time"

const (
	// AppleEpochOffset is the number of seconds between 1970-01-01 and
	// 2001-01-01, the origin used by the message store.
	AppleEpochOffset int64 = 978307200

	// NanosecondThreshold separates the two encodings sharing one column.
	// Older stores wrote seconds; newer ones write nanoseconds.
	NanosecondThreshold int64 = 1_000_000_000_000_000
)

// Normalize converts a raw store value into a UTC time.
// It reports false for 0, which the store uses for "not set".
func Normalize(raw int64) (time.Time, bool) {
	if raw == 0 {
		return time.Time{}, false
	}
	if raw >= NanosecondThreshold {
		sec := raw / int64(time.Second)
		nsec := raw % int64(time.Second)
		return time.Unix(AppleEpochOffset+sec, nsec).UTC(), true
	}
	return time.Unix(AppleEpochOffset+raw, 0).UTC(), true
}

// NormalizePtr is Normalize for optional record fields.
func NormalizePtr(raw int64) *time.Time {
	ts, ok := Normalize(raw)
	if !ok {
		return nil
	}
	return &ts
}
