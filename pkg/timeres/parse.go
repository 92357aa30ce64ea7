package timeres

import (
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// FormatAuto selects the built-in list of layouts.
const FormatAuto = "auto"

type autoLayout struct {
	layout string
	utc    bool
}

// autoLayouts are tried in order: date, datetime, datetime with Z, space
// separated, US slash, EU slash, compact.
var autoLayouts = []autoLayout{
	{layout: "2006-1-2"},
	{layout: "2006-1-2T15:04:05"},
	{layout: "2006-1-2T15:04:05Z", utc: true},
	{layout: "2006-1-2 15:04:05"},
	{layout: "1/2/2006"},
	{layout: "2/1/2006"},
	{layout: "20060102"},
}

// isoLayouts approximate a general ISO-8601 parse.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z0700",
}

// DateParser parses date values in a configured format and zone.
type DateParser struct {
	layout string
	loc    *time.Location
}

// NewDateParser builds a parser. format is "auto" or a strftime pattern;
// tz is an IANA zone name applied to values without an offset.
func NewDateParser(format, tz string) (*DateParser, error) {
	if tz == "" {
		tz = "UTC"
	}
	if tz == "Local" {
		return nil, engine.NewConfigError("time zone must be explicit, got %q", tz)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, engine.NewPermanentError("unknown time zone", err).
			WithCode(engine.ErrCodeConfig).
			WithResource(tz)
	}

	p := &DateParser{loc: loc}
	if format != "" && format != FormatAuto {
		layout, err := strftime.Layout(format)
		if err != nil {
			return nil, engine.NewPermanentError("unsupported time format", err).
				WithCode(engine.ErrCodeConfig).
				WithResource(format)
		}
		p.layout = layout
	}
	return p, nil
}

// Location returns the zone used for values without an offset.
func (p *DateParser) Location() *time.Location { return p.loc }

// Parse converts value to a zoned time. Only strings and time.Time values are
// accepted; anything unparseable reports false.
func (p *DateParser) Parse(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		if v.Location() == time.Local {
			return time.Date(v.Year(), v.Month(), v.Day(), v.Hour(), v.Minute(), v.Second(), v.Nanosecond(), p.loc), true
		}
		return v, true
	case string:
		return p.parseString(strings.TrimSpace(v))
	}
	return time.Time{}, false
}

func (p *DateParser) parseString(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if p.layout != "" {
		t, err := time.ParseInLocation(p.layout, s, p.loc)
		return t, err == nil
	}

	for _, al := range autoLayouts {
		loc := p.loc
		if al.utc {
			loc = time.UTC
		}
		if t, err := time.ParseInLocation(al.layout, s, loc); err == nil {
			return t, true
		}
	}

	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
