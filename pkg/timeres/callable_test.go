package timeres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

type fakeLookup struct {
	providers map[string]engine.TimeProviderFactory
	calls     []string
}

func (l *fakeLookup) TimeProvider(ctx context.Context, name, arg string) (engine.TimeProvider, error) {
	l.calls = append(l.calls, name+":"+arg)
	factory, ok := l.providers[name]
	if !ok {
		return nil, errors.New("no such provider")
	}
	return factory(arg)
}

func TestCallableConstant(t *testing.T) {
	tests := []struct {
		spec string
		want time.Time
	}{
		{"constant:2023-09-15", utc(2023, 9, 15, 0, 0, 0)},
		{"constant:2023-09-15T12:30:00Z", utc(2023, 9, 15, 12, 30, 0)},
		{"constant:2023-09-15T12:30:00", utc(2023, 9, 15, 12, 30, 0)},
		{"constant:2023-09-15T22:30:00+10:00", utc(2023, 9, 15, 12, 30, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			p, err := NewCallable(context.Background(), tt.spec, nil)
			if err != nil {
				t.Fatalf("NewCallable() error = %v", err)
			}
			spans := p.ForFeature(feature(nil))
			assertStarts(t, spans, tt.want)
			if spans[0].Start().Location() == time.Local {
				t.Error("constant must never be naive")
			}
		})
	}
}

func TestCallableYears(t *testing.T) {
	p, err := NewCallable(context.Background(), "years:2020-2023", nil)
	if err != nil {
		t.Fatal(err)
	}
	assertStarts(t, p.ForFeature(feature(nil)),
		utc(2020, 1, 1, 0, 0, 0), utc(2021, 1, 1, 0, 0, 0), utc(2022, 1, 1, 0, 0, 0), utc(2023, 1, 1, 0, 0, 0))

	single, err := NewCallable(context.Background(), "years:2021-2021", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := single.ForFeature(feature(nil)); len(got) != 1 {
		t.Errorf("got %d spans", len(got))
	}
}

func TestCallableErrors(t *testing.T) {
	for _, spec := range []string{
		"",
		"constant:yesterday",
		"constant:2023-13-45",
		"years:2020",
		"years:abc-2020",
		"years:2023-2020",
		"unknown_provider",
	} {
		t.Run(spec, func(t *testing.T) {
			_, err := NewCallable(context.Background(), spec, nil)
			if !engine.HasCode(err, engine.ErrCodeConfig) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestCallableLookup(t *testing.T) {
	lookup := &fakeLookup{providers: Builtins()}

	p, err := NewCallable(context.Background(), "quarterly:2022", lookup)
	if err != nil {
		t.Fatalf("NewCallable() error = %v", err)
	}
	if got := p.ForFeature(feature(nil)); len(got) != 4 {
		t.Errorf("quarterly gave %d spans", len(got))
	}
	if len(lookup.calls) != 1 || lookup.calls[0] != "quarterly:2022" {
		t.Errorf("calls = %v", lookup.calls)
	}

	_, err = NewCallable(context.Background(), "missing:x", lookup)
	if !engine.HasCode(err, engine.ErrCodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing:x") {
		t.Errorf("error should name the provider: %v", err)
	}
}

func TestNewSelectsMode(t *testing.T) {
	ctx := context.Background()

	p, err := New(ctx, config.TimeConfig{Mode: config.TimeModeCallable, Provider: "constant:2024-01-01"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(Constant); !ok {
		t.Errorf("callable mode returned %T", p)
	}

	p, err = New(ctx, config.TimeConfig{Mode: config.TimeModeDeclarative, Extractor: config.ExtractorFromEpoch, Field: "properties.ts"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*Declarative); !ok {
		t.Errorf("declarative mode returned %T", p)
	}

	if _, err := New(ctx, config.TimeConfig{Mode: "astrological"}, nil); !engine.HasCode(err, engine.ErrCodeConfig) {
		t.Errorf("unknown mode: got %v", err)
	}
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		name  string
		arg   string
		props map[string]interface{}
		count int
		first time.Time
	}{
		{"monthly_series", "2023", nil, 12, utc(2023, 1, 1, 0, 0, 0)},
		{"quarterly", "2022", nil, 4, utc(2022, 1, 1, 0, 0, 0)},
		{"quarterly", "2022", map[string]interface{}{"analysis_year": 2019.0}, 4, utc(2019, 1, 1, 0, 0, 0)},
		{"fire_season_windows", "", map[string]interface{}{"analysis_start_year": 2021.0, "analysis_end_year": 2022.0}, 4, utc(2021, 10, 1, 0, 0, 0)},
		{"event_windows", "", map[string]interface{}{"event_date": "2023-06-01"}, 5, utc(2023, 5, 2, 0, 0, 0)},
		{"event_windows", "", nil, 0, time.Time{}},
		{"dates", "2023-01-01, 2023-06-01", nil, 2, utc(2023, 1, 1, 0, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Builtins()[tt.name](tt.arg)
			if err != nil {
				t.Fatalf("factory error = %v", err)
			}
			spans := p.ForFeature(feature(tt.props))
			if len(spans) != tt.count {
				t.Fatalf("got %d spans, want %d", len(spans), tt.count)
			}
			if tt.count > 0 && !spans[0].Start().Equal(tt.first) {
				t.Errorf("first start = %v, want %v", spans[0].Start(), tt.first)
			}
		})
	}
}

func TestMonthlySeriesCoversMonths(t *testing.T) {
	p, err := Builtins()["monthly_series"]("2024")
	if err != nil {
		t.Fatal(err)
	}
	spans := p.ForFeature(feature(nil))
	feb := spans[1]
	if feb.End() == nil || !feb.End().Equal(utc(2024, 2, 29, 0, 0, 0)) {
		t.Errorf("February 2024 window = %s", feb)
	}
}

func TestBuiltinFactoryErrors(t *testing.T) {
	if _, err := Builtins()["monthly_series"]("twenty"); !engine.HasCode(err, engine.ErrCodeConfig) {
		t.Errorf("bad year: got %v", err)
	}
	if _, err := Builtins()["dates"]("2023-01-01,never"); !engine.HasCode(err, engine.ErrCodeConfig) {
		t.Errorf("bad date list: got %v", err)
	}
}

type recordingRegistrar map[string]engine.TimeProviderFactory

func (r recordingRegistrar) RegisterTimeProvider(name string, f engine.TimeProviderFactory) error {
	r[name] = f
	return nil
}

func TestRegisterBuiltins(t *testing.T) {
	r := recordingRegistrar{}
	if err := RegisterBuiltins(r); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"monthly_series", "quarterly", "fire_season_windows", "event_windows", "dates"} {
		if r[name] == nil {
			t.Errorf("%s not registered", name)
		}
	}
}

func TestLookup(t *testing.T) {
	f := geojson.NewFeature(nil)
	f.ID = "abc"
	f.Properties["nested"] = map[string]interface{}{"inner": map[string]interface{}{"value": "x"}}
	f.Properties["empty"] = nil

	tests := []struct {
		path string
		want interface{}
		ok   bool
	}{
		{"id", "abc", true},
		{"type", "Feature", true},
		{"properties.nested.inner.value", "x", true},
		{"properties.nested.missing", nil, false},
		{"properties.nested.inner.value.deeper", nil, false},
		{"properties.empty", nil, false},
		{"geometry.type", nil, false},
		{"bbox", nil, false},
		{"", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := Lookup(f, tt.path)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("Lookup(%q) = %v, %v; want %v, %v", tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}

	withGeom := feature(nil)
	if got, ok := Lookup(withGeom, "geometry.type"); !ok || got != "Polygon" {
		t.Errorf("geometry.type = %v, %v", got, ok)
	}
}
