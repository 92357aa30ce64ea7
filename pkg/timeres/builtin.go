package timeres

import (
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// Registrar accepts named time provider factories.
type Registrar interface {
	RegisterTimeProvider(name string, factory engine.TimeProviderFactory) error
}

// Builtins returns the named providers shipped with GeoExhibit.
func Builtins() map[string]engine.TimeProviderFactory {
	return map[string]engine.TimeProviderFactory{
		"monthly_series":      newMonthlySeries,
		"quarterly":           newQuarterly,
		"fire_season_windows": newFireSeasonWindows,
		"event_windows":       newEventWindows,
		"dates":               newDateList,
	}
}

// RegisterBuiltins registers every built-in named provider with r.
func RegisterBuiltins(r Registrar) error {
	for name, factory := range Builtins() {
		if err := r.RegisterTimeProvider(name, factory); err != nil {
			return err
		}
	}
	return nil
}

func yearArg(arg string, fallback int) (int, error) {
	if arg == "" {
		return fallback, nil
	}
	y, err := strconv.Atoi(arg)
	if err != nil {
		return 0, engine.NewConfigError("invalid year %q", arg)
	}
	return y, nil
}

func intProperty(f *geojson.Feature, key string, fallback int) int {
	switch v := f.Properties[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func utcDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func mustSpan(start, end time.Time) engine.TimeSpan {
	ts, err := engine.NewTimeSpan(start, &end)
	if err != nil {
		panic(err)
	}
	return ts
}

// newMonthlySeries yields one window per calendar month of the year in arg,
// from the 1st to the last day of the month.
func newMonthlySeries(arg string) (engine.TimeProvider, error) {
	year, err := yearArg(arg, time.Now().UTC().Year())
	if err != nil {
		return nil, err
	}
	return engine.TimeProviderFunc(func(*geojson.Feature) []engine.TimeSpan {
		spans := make([]engine.TimeSpan, 0, 12)
		for m := time.January; m <= time.December; m++ {
			start := utcDate(year, m, 1)
			spans = append(spans, mustSpan(start, start.AddDate(0, 1, -1)))
		}
		return spans
	}), nil
}

// newQuarterly yields four quarter windows for the feature's analysis_year
// property, falling back to the year in arg.
func newQuarterly(arg string) (engine.TimeProvider, error) {
	year, err := yearArg(arg, time.Now().UTC().Year())
	if err != nil {
		return nil, err
	}
	return engine.TimeProviderFunc(func(f *geojson.Feature) []engine.TimeSpan {
		y := intProperty(f, "analysis_year", year)
		spans := make([]engine.TimeSpan, 0, 4)
		for q := 0; q < 4; q++ {
			start := utcDate(y, time.Month(3*q+1), 1)
			spans = append(spans, mustSpan(start, start.AddDate(0, 3, -1)))
		}
		return spans
	}), nil
}

// newFireSeasonWindows yields an early (Oct-Dec) and late (Jan-Mar of the next
// year) fire season window per year between the feature's
// analysis_start_year and analysis_end_year properties.
func newFireSeasonWindows(string) (engine.TimeProvider, error) {
	return engine.TimeProviderFunc(func(f *geojson.Feature) []engine.TimeSpan {
		from := intProperty(f, "analysis_start_year", 2020)
		to := intProperty(f, "analysis_end_year", 2023)
		var spans []engine.TimeSpan
		for year := from; year <= to; year++ {
			spans = append(spans,
				mustSpan(utcDate(year, time.October, 1), time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC)),
				mustSpan(utcDate(year+1, time.January, 1), time.Date(year+1, time.March, 31, 23, 59, 59, 0, time.UTC)),
			)
		}
		return spans
	}), nil
}

// newEventWindows yields a 30 day pre-event window, the event instant and
// instants 7, 30 and 90 days after the feature's event_date property.
func newEventWindows(string) (engine.TimeProvider, error) {
	parser, err := NewDateParser(FormatAuto, "UTC")
	if err != nil {
		return nil, err
	}
	return engine.TimeProviderFunc(func(f *geojson.Feature) []engine.TimeSpan {
		value, ok := Lookup(f, "properties.event_date")
		if !ok {
			return nil
		}
		event, ok := parser.Parse(value)
		if !ok {
			return nil
		}
		spans := []engine.TimeSpan{
			mustSpan(event.AddDate(0, 0, -30), event.AddDate(0, 0, -1)),
			engine.Instant(event),
		}
		for _, days := range []int{7, 30, 90} {
			spans = append(spans, engine.Instant(event.AddDate(0, 0, days)))
		}
		return spans
	}), nil
}

// newDateList yields one instant per comma separated date in arg.
func newDateList(arg string) (engine.TimeProvider, error) {
	parser, err := NewDateParser(FormatAuto, "UTC")
	if err != nil {
		return nil, err
	}
	var spans []engine.TimeSpan
	for _, part := range strings.Split(arg, ",") {
		t, ok := parser.Parse(part)
		if !ok {
			return nil, engine.NewConfigError("invalid date %q in date list", strings.TrimSpace(part))
		}
		spans = append(spans, engine.Instant(t))
	}
	if len(spans) == 0 {
		return nil, engine.NewConfigError("date list is empty")
	}
	return engine.TimeProviderFunc(func(*geojson.Feature) []engine.TimeSpan {
		return append([]engine.TimeSpan(nil), spans...)
	}), nil
}
