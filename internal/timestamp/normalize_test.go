package timestamp

import (
	"testing"
	"time"
)

var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  int64
		want time.Time
		ok   bool
	}{
		{"zero is unset", 0, time.Time{}, false},
		{"one second", 1, appleEpoch.Add(time.Second), true},
		{"seconds regime", 1_000_000_000, appleEpoch.Add(1_000_000_000 * time.Second), true},
		{"largest seconds value", NanosecondThreshold - 1, time.Unix(AppleEpochOffset+NanosecondThreshold-1, 0).UTC(), true},
		{"threshold is nanoseconds", NanosecondThreshold, appleEpoch.Add(1_000_000 * time.Second), true},
		{"threshold plus one second", NanosecondThreshold + 1_000_000_000, appleEpoch.Add(1_000_001 * time.Second), true},
		{"nanoseconds regime", 1_000_000_000_000_000_000, appleEpoch.Add(1_000_000_000 * time.Second), true},
		{"nanoseconds with fraction", 700_000_000_123_456_789, appleEpoch.Add(700_000_000*time.Second + 123_456_789), true},
		{"negative seconds", -60, appleEpoch.Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw)
			if ok != tt.ok {
				t.Fatalf("Normalize(%d) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Normalize(%d) = %v, want %v", tt.raw, got, tt.want)
			}
			if ok && got.Location() != time.UTC {
				t.Errorf("Normalize(%d) location = %v, want UTC", tt.raw, got.Location())
			}
		})
	}
}

func TestNormalizeRealisticValue(t *testing.T) {
	// 2024-01-15 10:30:45 UTC as written by a current store.
	want := time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)
	raw := (want.Unix() - AppleEpochOffset) * int64(time.Second)

	got, ok := Normalize(raw)
	if !ok {
		t.Fatal("Normalize returned !ok for a real timestamp")
	}
	if !got.Equal(want) {
		t.Errorf("Normalize = %v, want %v", got, want)
	}
}

func TestNormalizePtr(t *testing.T) {
	if got := NormalizePtr(0); got != nil {
		t.Errorf("NormalizePtr(0) = %v, want nil", got)
	}
	got := NormalizePtr(1)
	if got == nil {
		t.Fatal("NormalizePtr(1) = nil")
	}
	if !got.Equal(appleEpoch.Add(time.Second)) {
		t.Errorf("NormalizePtr(1) = %v", got)
	}
}
