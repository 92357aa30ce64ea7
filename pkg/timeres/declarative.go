package timeres

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// DefaultRegexPattern matches an ISO calendar date.
const DefaultRegexPattern = `\d{4}-\d{2}-\d{2}`

// EpochMillisThreshold is 2100-01-01T00:00:00Z in seconds. Larger epoch values
// are read as milliseconds. This is a heuristic: second values past 2100 and
// millisecond values before early 2100 are misread.
const EpochMillisThreshold = 4102444800

// Option configures a resolver.
type Option func(*options)

type options struct {
	log zerolog.Logger
}

// WithLogger sets the logger used for per-feature diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func buildOptions(opts []Option) options {
	o := options{log: zerolog.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Declarative resolves spans from feature attributes according to config.
type Declarative struct {
	cfg    config.TimeConfig
	parser *DateParser
	regex  *regexp.Regexp
	log    zerolog.Logger
}

// NewDeclarative validates cfg and returns a resolver. An unknown extractor,
// a missing field, a bad zone or format, or a bad regex fail here.
func NewDeclarative(cfg config.TimeConfig, opts ...Option) (*Declarative, error) {
	o := buildOptions(opts)

	switch cfg.Extractor {
	case config.ExtractorAttributeDate, config.ExtractorAttributeInterval,
		config.ExtractorFromEpoch, config.ExtractorRegexFromString:
		if cfg.Field == "" {
			return nil, engine.NewConfigError("extractor %s requires a field", cfg.Extractor).
				WithOperation("time.resolve")
		}
	case config.ExtractorFixedAnnualDates:
	default:
		return nil, engine.NewConfigError("unsupported extractor %q", cfg.Extractor).
			WithOperation("time.resolve").
			WithDetail("valid", config.ValidExtractors)
	}

	parser, err := NewDateParser(cfg.Format, cfg.TZ)
	if err != nil {
		return nil, err
	}

	d := &Declarative{
		cfg:    cfg,
		parser: parser,
		log:    o.log.With().Str("component", "time-resolver").Str("extractor", cfg.Extractor).Logger(),
	}

	if cfg.Extractor == config.ExtractorRegexFromString {
		pattern := cfg.Regex.Pattern
		if pattern == "" {
			pattern = DefaultRegexPattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, engine.NewPermanentError("invalid regex pattern", err).
				WithCode(engine.ErrCodeConfig).
				WithResource(pattern)
		}
		d.regex = re
	}
	return d, nil
}

// ForFeature implements engine.TimeProvider.
func (d *Declarative) ForFeature(f *geojson.Feature) []engine.TimeSpan {
	switch d.cfg.Extractor {
	case config.ExtractorAttributeDate:
		return d.attributeDate(f)
	case config.ExtractorAttributeInterval:
		return d.attributeInterval(f)
	case config.ExtractorFromEpoch:
		return d.fromEpoch(f)
	case config.ExtractorRegexFromString:
		return d.regexFromString(f)
	}
	return nil
}

func (d *Declarative) instant(t time.Time) []engine.TimeSpan {
	ts, err := engine.NewTimeSpan(t, nil)
	if err != nil {
		d.log.Debug().Err(err).Msg("Discarding time value")
		return nil
	}
	return []engine.TimeSpan{ts}
}

func (d *Declarative) attributeDate(f *geojson.Feature) []engine.TimeSpan {
	value, ok := Lookup(f, d.cfg.Field)
	if !ok {
		return nil
	}

	if list, isList := value.([]interface{}); isList {
		if !d.cfg.Fanout.AsList {
			return nil
		}
		spans := make([]engine.TimeSpan, 0, len(list))
		for _, elem := range list {
			if t, ok := d.parser.Parse(elem); ok {
				spans = append(spans, d.instant(t)...)
			}
		}
		return spans
	}

	t, ok := d.parser.Parse(value)
	if !ok {
		return nil
	}
	return d.instant(t)
}

func (d *Declarative) attributeInterval(f *geojson.Feature) []engine.TimeSpan {
	value, ok := Lookup(f, d.cfg.Field)
	if !ok {
		return nil
	}
	start, ok := d.parser.Parse(value)
	if !ok {
		return nil
	}

	var end *time.Time
	if d.cfg.Interval.EndField != "" {
		if ev, ok := Lookup(f, d.cfg.Interval.EndField); ok {
			if t, ok := d.parser.Parse(ev); ok {
				end = &t
			}
		}
	}
	if end == nil && d.cfg.Interval.DefaultDays > 0 {
		t := start.Add(time.Duration(d.cfg.Interval.DefaultDays) * 24 * time.Hour)
		end = &t
	}

	ts, err := engine.NewTimeSpan(start, end)
	if err != nil {
		d.log.Debug().Err(err).Interface("feature_id", f.Properties[engine.FeatureIDProperty]).Msg("Discarding invalid interval")
		return nil
	}
	return []engine.TimeSpan{ts}
}

func (d *Declarative) fromEpoch(f *geojson.Feature) []engine.TimeSpan {
	value, ok := Lookup(f, d.cfg.Field)
	if !ok {
		return nil
	}
	ts, ok := toFloat(value)
	if !ok || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return nil
	}
	if ts > EpochMillisThreshold {
		ts /= 1000
	}
	sec, frac := math.Modf(ts)
	t := time.Unix(int64(sec), int64(math.Round(frac*1e9))).In(d.parser.Location())
	return d.instant(t)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func (d *Declarative) regexFromString(f *geojson.Feature) []engine.TimeSpan {
	value, ok := Lookup(f, d.cfg.Field)
	if !ok {
		return nil
	}
	s, isString := value.(string)
	if !isString {
		return nil
	}
	m := d.regex.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	match := m[0]
	if len(m) > 1 {
		match = m[1]
	}
	t, ok := d.parser.Parse(match)
	if !ok {
		return nil
	}
	return d.instant(t)
}
