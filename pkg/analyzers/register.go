package analyzers

import (
	"fmt"
	"strconv"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// Registrar accepts analyzer factories.
type Registrar interface {
	RegisterAnalyzer(name string, factory engine.AnalyzerFactory) error
}

// RegisterBuiltins registers demo_analyzer and simple_example with r. The
// demo analyzer writes into workDir unless the output_dir parameter is set.
func RegisterBuiltins(r Registrar, workDir string) error {
	if err := r.RegisterAnalyzer(DemoName, func(params map[string]interface{}) (engine.Analyzer, error) {
		dir := workDir
		if v, ok := params["output_dir"].(string); ok && v != "" {
			dir = v
		}
		size, err := intParam(params, "size", DefaultRasterSize)
		if err != nil {
			return nil, err
		}
		return NewDemo(dir, size)
	}); err != nil {
		return err
	}
	return r.RegisterAnalyzer(SimpleName, func(params map[string]interface{}) (engine.Analyzer, error) {
		return NewSimple(params)
	})
}

func intParam(params map[string]interface{}, key string, fallback int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err == nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("parameter %s must be an integer, got %v", key, v)
}

func floatParam(params map[string]interface{}, key string, fallback float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("parameter %s must be a number, got %v", key, v)
}
