package engine

import (
	"encoding/json"
	"time"
)

// TimeSpan is either an instant (End is nil) or a closed interval.
// Both endpoints carry an explicit zone; a time.Time in time.Local is naive.
type TimeSpan struct {
	start time.Time
	end   *time.Time
}

// NewTimeSpan validates and builds a span. end may be nil for an instant.
func NewTimeSpan(start time.Time, end *time.Time) (TimeSpan, error) {
	if isNaive(start) {
		return TimeSpan{}, NewValidationError("timespan start %s has no timezone", start.Format(time.DateTime))
	}
	if end == nil {
		return TimeSpan{start: start}, nil
	}
	if isNaive(*end) {
		return TimeSpan{}, NewValidationError("timespan end %s has no timezone", end.Format(time.DateTime))
	}
	if !end.After(start) {
		return TimeSpan{}, NewValidationError("timespan end %s must be after start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	e := *end
	return TimeSpan{start: start, end: &e}, nil
}

// Instant builds an instant span. It panics on a naive time and is meant for
// callers that construct times in a known location.
func Instant(t time.Time) TimeSpan {
	ts, err := NewTimeSpan(t, nil)
	if err != nil {
		panic(err)
	}
	return ts
}

func isNaive(t time.Time) bool {
	return t.Location() == time.Local
}

// Start returns the span start.
func (ts TimeSpan) Start() time.Time { return ts.start }

// End returns the span end, or nil for an instant.
func (ts TimeSpan) End() *time.Time {
	if ts.end == nil {
		return nil
	}
	e := *ts.end
	return &e
}

// IsInstant reports whether the span has no end.
func (ts TimeSpan) IsInstant() bool { return ts.end == nil }

// EffectiveEnd is End for intervals and Start for instants.
func (ts TimeSpan) EffectiveEnd() time.Time {
	if ts.end == nil {
		return ts.start
	}
	return *ts.end
}

// IsZero reports whether the span was never constructed.
func (ts TimeSpan) IsZero() bool { return ts.start.IsZero() }

// String renders "start" for instants and "start/end" otherwise, RFC 3339.
func (ts TimeSpan) String() string {
	if ts.end == nil {
		return ts.start.Format(time.RFC3339)
	}
	return ts.start.Format(time.RFC3339) + "/" + ts.end.Format(time.RFC3339)
}

// MarshalJSON encodes the span as its String form.
func (ts TimeSpan) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}
