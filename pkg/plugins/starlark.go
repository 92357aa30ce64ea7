package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/timeres"
)

// Entry functions scripts must define.
const (
	starlarkForFeature = "for_feature"
	starlarkAnalyze    = "analyze"
)

// starlarkProgram is an executed script whose globals are frozen.
type starlarkProgram struct {
	name    string
	fn      starlark.Callable
	timeout time.Duration
}

func loadStarlark(m *Manifest, code []byte, entry string, globals map[string]interface{}) (*starlarkProgram, error) {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for key, val := range globals {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert global %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	thread := newStarlarkThread(m.Name)
	stop := time.AfterFunc(m.CallTimeout(), func() { thread.Cancel("load timeout") })
	defer stop.Stop()

	exported, err := starlark.ExecFile(thread, m.EntrypointPath(), code, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}
	fn, ok := exported[entry].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("script does not define %s()", entry)
	}
	return &starlarkProgram{name: m.Name, fn: fn, timeout: m.CallTimeout()}, nil
}

func newStarlarkThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name:  name,
		Print: func(*starlark.Thread, string) {},
	}
}

// call runs the entry function with args, bounded by ctx and the timeout.
func (p *starlarkProgram) call(ctx context.Context, args ...interface{}) (interface{}, error) {
	sargs := make(starlark.Tuple, 0, len(args))
	for _, a := range args {
		v, err := toStarlarkValue(a)
		if err != nil {
			return nil, err
		}
		sargs = append(sargs, v)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	thread := newStarlarkThread(p.name)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	result, err := starlark.Call(thread, p.fn, sargs, nil)
	if err != nil {
		return nil, err
	}
	return fromStarlarkValue(result)
}

// featureDoc renders a feature as generic JSON data for scripts.
func featureDoc(f *geojson.Feature) (map[string]interface{}, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// StarlarkTimeProvider resolves spans with a script's for_feature function.
type StarlarkTimeProvider struct {
	program *starlarkProgram
	parser  *timeres.DateParser
	log     zerolog.Logger
}

// NewStarlarkTimeProvider executes the script with arg bound as a global.
func NewStarlarkTimeProvider(m *Manifest, code []byte, arg string, log zerolog.Logger) (*StarlarkTimeProvider, error) {
	program, err := loadStarlark(m, code, starlarkForFeature, map[string]interface{}{
		"arg":    arg,
		"params": m.Parameters,
	})
	if err != nil {
		return nil, err
	}
	parser, err := timeres.NewDateParser(timeres.FormatAuto, "UTC")
	if err != nil {
		return nil, err
	}
	return &StarlarkTimeProvider{
		program: program,
		parser:  parser,
		log:     log.With().Str("plugin", m.Name).Str("runtime", RuntimeStarlark).Logger(),
	}, nil
}

// ForFeature implements engine.TimeProvider. Script errors and unusable
// values are logged and yield no spans for the feature.
func (p *StarlarkTimeProvider) ForFeature(f *geojson.Feature) []engine.TimeSpan {
	doc, err := featureDoc(f)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to encode feature")
		return nil
	}
	result, err := p.program.call(context.Background(), doc)
	if err != nil {
		p.log.Warn().Err(err).Interface("feature_id", f.Properties[engine.FeatureIDProperty]).Msg("Time provider script failed")
		return nil
	}
	values, ok := result.([]interface{})
	if !ok {
		p.log.Warn().Str("type", fmt.Sprintf("%T", result)).Msg("for_feature must return a list")
		return nil
	}

	spans := make([]engine.TimeSpan, 0, len(values))
	for _, v := range values {
		span, err := p.toSpan(v)
		if err != nil {
			p.log.Warn().Err(err).Msg("Discarding time value")
			continue
		}
		spans = append(spans, span)
	}
	return spans
}

func (p *StarlarkTimeProvider) toSpan(v interface{}) (engine.TimeSpan, error) {
	switch val := v.(type) {
	case string:
		t, ok := p.parser.Parse(val)
		if !ok {
			return engine.TimeSpan{}, fmt.Errorf("unparseable time %q", val)
		}
		return engine.NewTimeSpan(t, nil)
	case map[string]interface{}:
		start, ok := p.parser.Parse(val["start"])
		if !ok {
			return engine.TimeSpan{}, fmt.Errorf("unparseable start %v", val["start"])
		}
		if val["end"] == nil {
			return engine.NewTimeSpan(start, nil)
		}
		end, ok := p.parser.Parse(val["end"])
		if !ok {
			return engine.TimeSpan{}, fmt.Errorf("unparseable end %v", val["end"])
		}
		return engine.NewTimeSpan(start, &end)
	}
	return engine.TimeSpan{}, fmt.Errorf("unsupported time value %T", v)
}

// StarlarkAnalyzer produces assets with a script's analyze function.
type StarlarkAnalyzer struct {
	program *starlarkProgram
	params  map[string]interface{}
}

// NewStarlarkAnalyzer executes the script and binds params.
func NewStarlarkAnalyzer(m *Manifest, code []byte, params map[string]interface{}) (*StarlarkAnalyzer, error) {
	program, err := loadStarlark(m, code, starlarkAnalyze, nil)
	if err != nil {
		return nil, err
	}
	return &StarlarkAnalyzer{program: program, params: params}, nil
}

// Name implements engine.Analyzer.
func (a *StarlarkAnalyzer) Name() string { return a.program.name }

// Analyze implements engine.Analyzer.
func (a *StarlarkAnalyzer) Analyze(ctx context.Context, f *geojson.Feature, span engine.TimeSpan) (*engine.AnalyzerOutput, error) {
	doc, err := featureDoc(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode feature: %w", err)
	}
	sd := newSpanDoc(span)
	spanMap := map[string]interface{}{"start": sd.Start}
	if sd.End != "" {
		spanMap["end"] = sd.End
	}

	result, err := a.program.call(ctx, doc, spanMap, a.params)
	if err != nil {
		return nil, fmt.Errorf("analyze failed: %w", err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze result: %w", err)
	}
	return decodeAnalyzeResponse(a.program.name, data)
}

// toStarlarkValue converts JSON-like Go data to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case geojson.Properties:
		return toStarlarkValue(map[string]interface{}(val))
	default:
		// Other numeric and slice types go through their JSON form.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported type: %T", v)
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("unsupported type: %T", v)
		}
		switch generic.(type) {
		case nil, bool, float64, string, []interface{}, map[string]interface{}:
			return toStarlarkValue(generic)
		}
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value back to JSON-like Go data.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
