package engine

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewTimeSpan(t *testing.T) {
	start := time.Date(2023, 9, 15, 0, 0, 0, 0, time.UTC)
	later := start.Add(24 * time.Hour)
	earlier := start.Add(-time.Hour)
	naive := time.Date(2023, 9, 15, 0, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		start   time.Time
		end     *time.Time
		wantErr bool
		instant bool
	}{
		{name: "instant", start: start, instant: true},
		{name: "interval", start: start, end: &later},
		{name: "end equals start", start: start, end: &start, wantErr: true},
		{name: "end before start", start: start, end: &earlier, wantErr: true},
		{name: "naive start", start: naive, wantErr: true},
		{name: "naive end", start: start, end: &naive, wantErr: true},
		{name: "fixed zone", start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.FixedZone("AEST", 10*3600)), instant: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := NewTimeSpan(tt.start, tt.end)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got span %s", ts)
				}
				if !HasCode(err, ErrCodeValidation) {
					t.Errorf("expected validation code, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ts.IsInstant() != tt.instant {
				t.Errorf("IsInstant() = %v, want %v", ts.IsInstant(), tt.instant)
			}
			if ts.IsInstant() != (ts.End() == nil) {
				t.Errorf("IsInstant must match End() == nil")
			}
		})
	}
}

func TestTimeSpanString(t *testing.T) {
	start := time.Date(2023, 9, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 9, 22, 0, 0, 0, 0, time.UTC)

	if got := Instant(start).String(); got != "2023-09-15T00:00:00Z" {
		t.Errorf("instant String() = %q", got)
	}

	ts, err := NewTimeSpan(start, &end)
	if err != nil {
		t.Fatal(err)
	}
	if got := ts.String(); got != "2023-09-15T00:00:00Z/2023-09-22T00:00:00Z" {
		t.Errorf("interval String() = %q", got)
	}
	if !ts.EffectiveEnd().Equal(end) {
		t.Errorf("EffectiveEnd() = %v, want %v", ts.EffectiveEnd(), end)
	}

	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"2023-09-15T00:00:00Z/2023-09-22T00:00:00Z"` {
		t.Errorf("MarshalJSON = %s", data)
	}
}

func TestTimeSpanEndIsCopied(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	ts, err := NewTimeSpan(start, &end)
	if err != nil {
		t.Fatal(err)
	}
	end = end.Add(100 * time.Hour)
	if !ts.End().Equal(start.Add(time.Hour)) {
		t.Error("span end changed after mutating the caller's value")
	}
}
