package timeres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// ProviderLookup resolves named time providers. The plugin registry implements it.
type ProviderLookup interface {
	TimeProvider(ctx context.Context, name, arg string) (engine.TimeProvider, error)
}

// Constant returns the same instant for every feature.
type Constant struct {
	At time.Time
}

// ForFeature implements engine.TimeProvider.
func (c Constant) ForFeature(*geojson.Feature) []engine.TimeSpan {
	return []engine.TimeSpan{engine.Instant(c.At)}
}

// YearRange returns one instant at January 1st UTC for every year in [Start, End].
type YearRange struct {
	Start, End int
}

// ForFeature implements engine.TimeProvider.
func (y YearRange) ForFeature(*geojson.Feature) []engine.TimeSpan {
	spans := make([]engine.TimeSpan, 0, y.End-y.Start+1)
	for year := y.Start; year <= y.End; year++ {
		spans = append(spans, engine.Instant(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)))
	}
	return spans
}

// New returns the resolver selected by cfg.Mode.
func New(ctx context.Context, cfg config.TimeConfig, lookup ProviderLookup, opts ...Option) (engine.TimeProvider, error) {
	switch cfg.Mode {
	case config.TimeModeDeclarative, "":
		return NewDeclarative(cfg, opts...)
	case config.TimeModeCallable:
		return NewCallable(ctx, cfg.Provider, lookup)
	}
	return nil, engine.NewConfigError("unknown time mode %q", cfg.Mode)
}

// NewCallable resolves a provider spec: "constant:<date-or-datetime>",
// "years:<start>-<end>" or "<name>[:<arg>]" looked up through lookup.
func NewCallable(ctx context.Context, spec string, lookup ProviderLookup) (engine.TimeProvider, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, engine.NewConfigError("callable time mode requires a provider")
	}

	name, arg, _ := strings.Cut(spec, ":")
	switch name {
	case "constant":
		t, err := parseConstant(arg)
		if err != nil {
			return nil, err
		}
		return Constant{At: t}, nil
	case "years":
		return parseYears(arg)
	}

	if lookup == nil {
		return nil, engine.NewConfigError("time provider %q is not built in and no registry is available", name)
	}
	provider, err := lookup.TimeProvider(ctx, name, arg)
	if err != nil {
		return nil, engine.NewPermanentError("failed to resolve time provider", err).
			WithCode(engine.ErrCodeConfig).
			WithResource(spec)
	}
	if provider == nil {
		return nil, engine.NewConfigError("time provider %q returned no resolver", name)
	}
	return provider, nil
}

func parseConstant(s string) (time.Time, error) {
	if strings.Contains(s, "T") {
		if t, err := time.ParseInLocation(time.RFC3339Nano, s, time.UTC); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
			return t, nil
		}
	} else if t, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, engine.NewConfigError("invalid constant time format %q", s)
}

func parseYears(s string) (engine.TimeProvider, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return nil, engine.NewConfigError("invalid year range format %q", s)
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(from))
	end, err2 := strconv.Atoi(strings.TrimSpace(to))
	if err1 != nil || err2 != nil {
		return nil, engine.NewConfigError("invalid year range format %q", s)
	}
	if start > end {
		return nil, engine.NewConfigError("year range start %d must be <= end %d", start, end)
	}
	return YearRange{Start: start, End: end}, nil
}
