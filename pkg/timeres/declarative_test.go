package timeres

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

func feature(props map[string]interface{}) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func utc(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
}

func mustDeclarative(t *testing.T, cfg config.TimeConfig) *Declarative {
	t.Helper()
	if cfg.Mode == "" {
		cfg.Mode = config.TimeModeDeclarative
	}
	d, err := NewDeclarative(cfg)
	if err != nil {
		t.Fatalf("NewDeclarative() error = %v", err)
	}
	return d
}

func starts(spans []engine.TimeSpan) []time.Time {
	out := make([]time.Time, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.Start())
	}
	return out
}

func assertStarts(t *testing.T, spans []engine.TimeSpan, want ...time.Time) {
	t.Helper()
	got := starts(spans)
	if len(got) != len(want) {
		t.Fatalf("got %d spans %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("span %d start = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAttributeDate(t *testing.T) {
	d := mustDeclarative(t, config.TimeConfig{Extractor: config.ExtractorAttributeDate, Field: "properties.fire_date"})

	tests := []struct {
		name  string
		props map[string]interface{}
		want  []time.Time
	}{
		{"iso date", map[string]interface{}{"fire_date": "2023-09-15"}, []time.Time{utc(2023, 9, 15, 0, 0, 0)}},
		{"datetime", map[string]interface{}{"fire_date": "2023-09-15T10:30:00"}, []time.Time{utc(2023, 9, 15, 10, 30, 0)}},
		{"datetime z", map[string]interface{}{"fire_date": "2023-09-15T10:30:00Z"}, []time.Time{utc(2023, 9, 15, 10, 30, 0)}},
		{"space separated", map[string]interface{}{"fire_date": "2023-09-15 10:30:00"}, []time.Time{utc(2023, 9, 15, 10, 30, 0)}},
		{"us slash", map[string]interface{}{"fire_date": "09/15/2023"}, []time.Time{utc(2023, 9, 15, 0, 0, 0)}},
		{"eu slash", map[string]interface{}{"fire_date": "15/09/2023"}, []time.Time{utc(2023, 9, 15, 0, 0, 0)}},
		{"compact", map[string]interface{}{"fire_date": "20230915"}, []time.Time{utc(2023, 9, 15, 0, 0, 0)}},
		{"iso offset", map[string]interface{}{"fire_date": "2023-09-15T10:00:00+10:00"}, []time.Time{utc(2023, 9, 15, 0, 0, 0)}},
		{"missing", map[string]interface{}{}, nil},
		{"null", map[string]interface{}{"fire_date": nil}, nil},
		{"garbage", map[string]interface{}{"fire_date": "last tuesday"}, nil},
		{"number", map[string]interface{}{"fire_date": 20230915.0}, nil},
		{"list without fanout", map[string]interface{}{"fire_date": []interface{}{"2023-01-01"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertStarts(t, d.ForFeature(feature(tt.props)), tt.want...)
		})
	}
}

func TestAttributeDateFanout(t *testing.T) {
	cfg := config.TimeConfig{Extractor: config.ExtractorAttributeDate, Field: "properties.dates"}
	list := []interface{}{"2023-01-01", "2023-02-01", "2023-03-01"}

	plain := mustDeclarative(t, cfg)
	if got := plain.ForFeature(feature(map[string]interface{}{"dates": list})); len(got) != 0 {
		t.Errorf("list without as_list must give no spans, got %v", starts(got))
	}

	cfg.Fanout.AsList = true
	fan := mustDeclarative(t, cfg)
	spans := fan.ForFeature(feature(map[string]interface{}{"dates": list}))
	assertStarts(t, spans, utc(2023, 1, 1, 0, 0, 0), utc(2023, 2, 1, 0, 0, 0), utc(2023, 3, 1, 0, 0, 0))
	for _, s := range spans {
		if !s.IsInstant() {
			t.Error("fan-out spans must be instants")
		}
	}

	// Unparseable elements are dropped, order is kept.
	mixed := []interface{}{"2023-03-01", "nope", "2023-01-01"}
	assertStarts(t, fan.ForFeature(feature(map[string]interface{}{"dates": mixed})),
		utc(2023, 3, 1, 0, 0, 0), utc(2023, 1, 1, 0, 0, 0))

	// A scalar still works with as_list set.
	assertStarts(t, fan.ForFeature(feature(map[string]interface{}{"dates": "2023-05-05"})), utc(2023, 5, 5, 0, 0, 0))
}

func TestAttributeInterval(t *testing.T) {
	base := config.TimeConfig{
		Extractor: config.ExtractorAttributeInterval,
		Field:     "properties.start",
		Interval:  config.IntervalConfig{EndField: "properties.end"},
	}

	t.Run("explicit end", func(t *testing.T) {
		d := mustDeclarative(t, base)
		spans := d.ForFeature(feature(map[string]interface{}{"start": "2023-01-01", "end": "2023-01-10"}))
		if len(spans) != 1 || spans[0].IsInstant() {
			t.Fatalf("expected one interval, got %v", spans)
		}
		if !spans[0].End().Equal(utc(2023, 1, 10, 0, 0, 0)) {
			t.Errorf("end = %v", spans[0].End())
		}
	})

	t.Run("default days", func(t *testing.T) {
		cfg := base
		cfg.Interval.DefaultDays = 7
		d := mustDeclarative(t, cfg)
		spans := d.ForFeature(feature(map[string]interface{}{"start": "2023-01-01"}))
		if len(spans) != 1 || !spans[0].End().Equal(utc(2023, 1, 8, 0, 0, 0)) {
			t.Fatalf("expected 7 day interval, got %v", spans)
		}
	})

	t.Run("no end no default", func(t *testing.T) {
		d := mustDeclarative(t, base)
		spans := d.ForFeature(feature(map[string]interface{}{"start": "2023-01-01"}))
		if len(spans) != 1 || !spans[0].IsInstant() {
			t.Fatalf("expected one instant, got %v", spans)
		}
	})

	t.Run("end before start", func(t *testing.T) {
		d := mustDeclarative(t, base)
		spans := d.ForFeature(feature(map[string]interface{}{"start": "2023-01-10", "end": "2023-01-01"}))
		if len(spans) != 0 {
			t.Fatalf("inverted interval must yield nothing, got %v", spans)
		}
	})

	t.Run("bad start", func(t *testing.T) {
		d := mustDeclarative(t, base)
		if spans := d.ForFeature(feature(map[string]interface{}{"start": "soon"})); len(spans) != 0 {
			t.Fatalf("got %v", spans)
		}
	})
}

func TestFromEpoch(t *testing.T) {
	d := mustDeclarative(t, config.TimeConfig{Extractor: config.ExtractorFromEpoch, Field: "properties.ts"})
	want := utc(2023, 9, 15, 12, 0, 0)

	for _, v := range []interface{}{1694779200.0, 1694779200000.0, 1694779200, "1694779200", "1694779200000"} {
		spans := d.ForFeature(feature(map[string]interface{}{"ts": v}))
		assertStarts(t, spans, want)
	}

	for _, v := range []interface{}{"yesterday", true, map[string]interface{}{}} {
		if spans := d.ForFeature(feature(map[string]interface{}{"ts": v})); len(spans) != 0 {
			t.Errorf("value %v should give no spans, got %v", v, starts(spans))
		}
	}
}

func TestRegexFromString(t *testing.T) {
	d := mustDeclarative(t, config.TimeConfig{Extractor: config.ExtractorRegexFromString, Field: "properties.name"})
	assertStarts(t, d.ForFeature(feature(map[string]interface{}{"name": "burn_2023-09-15_v2_2024-01-01"})), utc(2023, 9, 15, 0, 0, 0))
	if spans := d.ForFeature(feature(map[string]interface{}{"name": "no date here"})); len(spans) != 0 {
		t.Errorf("got %v", starts(spans))
	}
	if spans := d.ForFeature(feature(map[string]interface{}{"name": 2023})); len(spans) != 0 {
		t.Errorf("non-string field must give no spans, got %v", starts(spans))
	}

	grouped := mustDeclarative(t, config.TimeConfig{
		Extractor: config.ExtractorRegexFromString,
		Field:     "properties.name",
		Regex:     config.RegexConfig{Pattern: `scene_(\d{8})`},
	})
	assertStarts(t, grouped.ForFeature(feature(map[string]interface{}{"name": "scene_20230915_L8"})), utc(2023, 9, 15, 0, 0, 0))
}

func TestFixedAnnualDatesIsReserved(t *testing.T) {
	d := mustDeclarative(t, config.TimeConfig{Extractor: config.ExtractorFixedAnnualDates})
	if spans := d.ForFeature(feature(map[string]interface{}{"date": "2023-01-01"})); len(spans) != 0 {
		t.Errorf("got %v", starts(spans))
	}
}

func TestExplicitFormatAndZone(t *testing.T) {
	d := mustDeclarative(t, config.TimeConfig{
		Extractor: config.ExtractorAttributeDate,
		Field:     "properties.when",
		Format:    "%d.%m.%Y %H:%M",
		TZ:        "Australia/Sydney",
	})
	spans := d.ForFeature(feature(map[string]interface{}{"when": "15.09.2023 10:00"}))
	assertStarts(t, spans, utc(2023, 9, 15, 0, 0, 0))

	// Only the explicit format is tried.
	if spans := d.ForFeature(feature(map[string]interface{}{"when": "2023-09-15"})); len(spans) != 0 {
		t.Errorf("auto layouts must not apply, got %v", starts(spans))
	}
}

func TestNewDeclarativeErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TimeConfig
	}{
		{"unknown extractor", config.TimeConfig{Extractor: "moon_phase", Field: "properties.x"}},
		{"missing field", config.TimeConfig{Extractor: config.ExtractorAttributeDate}},
		{"bad zone", config.TimeConfig{Extractor: config.ExtractorAttributeDate, Field: "properties.x", TZ: "Nowhere/Land"}},
		{"local zone", config.TimeConfig{Extractor: config.ExtractorAttributeDate, Field: "properties.x", TZ: "Local"}},
		{"bad regex", config.TimeConfig{Extractor: config.ExtractorRegexFromString, Field: "properties.x", Regex: config.RegexConfig{Pattern: "("}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDeclarative(tt.cfg)
			if !engine.HasCode(err, engine.ErrCodeConfig) {
				t.Fatalf("expected config error, got %v", err)
			}
			if !engine.IsPermanent(err) {
				t.Error("configuration errors must be permanent")
			}
		})
	}
}

func TestFireDateEndToEnd(t *testing.T) {
	resolver, err := New(context.Background(), config.TimeConfig{
		Mode:      config.TimeModeDeclarative,
		Extractor: config.ExtractorAttributeDate,
		Field:     "properties.fire_date",
		Format:    "auto",
		TZ:        "UTC",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	fc := geojson.NewFeatureCollection()
	fc.Append(feature(map[string]interface{}{"fire_date": "2023-09-15"}))

	planner := engine.NewPlanner(engine.PlannerOptions{CollectionID: "fires", Title: "Fires"})
	plan, err := planner.BuildPlan(context.Background(), fc, stubAnalyzer{}, resolver)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	if plan.ItemCount() != 1 || plan.FeatureCount() != 1 {
		t.Fatalf("counts = %d items, %d features", plan.ItemCount(), plan.FeatureCount())
	}
	span := plan.Items[0].TimeSpan
	if !span.IsInstant() || !span.Start().Equal(utc(2023, 9, 15, 0, 0, 0)) {
		t.Errorf("span = %s", span)
	}
	if span.String() != "2023-09-15T00:00:00Z" {
		t.Errorf("String() = %q", span.String())
	}
}

type stubAnalyzer struct{}

func (stubAnalyzer) Name() string { return "stub" }

func (stubAnalyzer) Analyze(ctx context.Context, f *geojson.Feature, span engine.TimeSpan) (*engine.AnalyzerOutput, error) {
	return &engine.AnalyzerOutput{PrimaryCOGAsset: &engine.AssetSpec{Key: "analysis.tif", Href: "/tmp/analysis.tif"}}, nil
}
