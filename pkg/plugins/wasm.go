package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// analyzeRequest is the JSON document handed to plugin analyzers.
type analyzeRequest struct {
	Feature    *geojson.Feature       `json:"feature"`
	TimeSpan   spanDoc                `json:"timespan"`
	Parameters map[string]interface{} `json:"parameters"`
}

type spanDoc struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

func newSpanDoc(span engine.TimeSpan) spanDoc {
	doc := spanDoc{Start: span.Start().UTC().Format(time.RFC3339Nano)}
	if end := span.End(); end != nil {
		doc.End = end.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

// analyzeResponse is what plugin analyzers return.
type analyzeResponse struct {
	engine.AnalyzerOutput
	Error string `json:"error,omitempty"`
}

func decodeAnalyzeResponse(name string, data []byte) (*engine.AnalyzerOutput, error) {
	var resp analyzeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("plugin %s returned malformed output: %w", name, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("plugin %s: %s", name, resp.Error)
	}
	if resp.PrimaryCOGAsset == nil {
		return nil, fmt.Errorf("plugin %s returned no primary_cog_asset", name)
	}
	out := resp.AnalyzerOutput
	return &out, nil
}

// WASMAnalyzer runs an analyzer compiled to WebAssembly. The module is
// instantiated on the first call and reused; calls are serialized.
type WASMAnalyzer struct {
	manifest *Manifest
	code     []byte
	params   map[string]interface{}
	log      zerolog.Logger

	mu      sync.Mutex
	runtime wazero.Runtime
	bridge  *wasmBridge
}

// NewWASMAnalyzer prepares an analyzer for the module code described by m.
func NewWASMAnalyzer(m *Manifest, code []byte, params map[string]interface{}, log zerolog.Logger) *WASMAnalyzer {
	return &WASMAnalyzer{
		manifest: m,
		code:     code,
		params:   params,
		log:      log.With().Str("plugin", m.Name).Str("runtime", RuntimeWASM).Logger(),
	}
}

// Name implements engine.Analyzer.
func (a *WASMAnalyzer) Name() string { return a.manifest.Name }

// Analyze implements engine.Analyzer.
func (a *WASMAnalyzer) Analyze(ctx context.Context, f *geojson.Feature, span engine.TimeSpan) (*engine.AnalyzerOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.instantiate(ctx); err != nil {
		return nil, err
	}

	input, err := json.Marshal(analyzeRequest{Feature: f, TimeSpan: newSpanDoc(span), Parameters: a.params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.manifest.CallTimeout())
	defer cancel()

	output, err := a.bridge.call(callCtx, input)
	if err != nil {
		// A trapped or timed out module is closed by the runtime; start over next call.
		a.reset(ctx)
		return nil, fmt.Errorf("analyze failed: %w", err)
	}
	return decodeAnalyzeResponse(a.manifest.Name, output)
}

func (a *WASMAnalyzer) instantiate(ctx context.Context) error {
	if a.bridge != nil {
		return nil
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(a.manifest.MemoryLimitPages()).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	fail := func(msg string, err error) error {
		runtime.Close(ctx)
		return engine.NewPermanentError(msg, err).
			WithCode(engine.ErrCodeConstructionFailed).
			WithResource(a.manifest.Name)
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return fail("failed to instantiate WASI", err)
	}
	if err := registerHostFunctions(ctx, runtime, a.log); err != nil {
		return fail("failed to register host functions", err)
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(a.manifest.Name).
		WithStartFunctions("_initialize")
	module, err := runtime.InstantiateWithConfig(ctx, a.code, moduleConfig)
	if err != nil {
		return fail("failed to instantiate WASM module", err)
	}

	bridge, err := newWASMBridge(module)
	if err != nil {
		return fail("invalid WASM analyzer", err)
	}

	a.runtime = runtime
	a.bridge = bridge
	return nil
}

func (a *WASMAnalyzer) reset(ctx context.Context) {
	if a.runtime != nil {
		if err := a.runtime.Close(ctx); err != nil {
			a.log.Debug().Err(err).Msg("Failed to close WASM runtime")
		}
	}
	a.runtime = nil
	a.bridge = nil
}

// Close releases the runtime.
func (a *WASMAnalyzer) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.runtime == nil {
		return nil
	}
	err := a.runtime.Close(ctx)
	a.runtime = nil
	a.bridge = nil
	if err != nil {
		return fmt.Errorf("failed to close WASM runtime for %s: %w", a.manifest.Name, err)
	}
	return nil
}

// registerHostFunctions exposes env.log(ptr, len) to plugins.
func registerHostFunctions(ctx context.Context, runtime wazero.Runtime, log zerolog.Logger) error {
	_, err := runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, msgPtr, msgLen uint32) {
			msg, ok := mod.Memory().Read(msgPtr, msgLen)
			if !ok {
				log.Warn().Uint32("ptr", msgPtr).Uint32("len", msgLen).Msg("Plugin log message out of range")
				return
			}
			log.Info().Msg(string(msg))
		}).
		Export("log").
		Instantiate(ctx)
	return err
}

// wasmBridge moves JSON documents in and out of module memory.
type wasmBridge struct {
	memory  api.Memory
	malloc  api.Function
	free    api.Function
	analyze api.Function
}

func newWASMBridge(module api.Module) (*wasmBridge, error) {
	b := &wasmBridge{memory: module.Memory()}
	if b.memory == nil {
		return nil, fmt.Errorf("module does not export memory")
	}
	for name, fn := range map[string]*api.Function{
		"malloc":  &b.malloc,
		"free":    &b.free,
		"analyze": &b.analyze,
	} {
		*fn = module.ExportedFunction(name)
		if *fn == nil {
			return nil, fmt.Errorf("module does not export %s", name)
		}
	}
	return b, nil
}

// call passes input to analyze and returns its output.
// Signature: analyze(ptr: u32, len: u32) -> u64 where the result packs
// (output_ptr << 32) | output_len.
func (b *wasmBridge) call(ctx context.Context, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, err
		}
		defer b.deallocate(ctx, ptr)

		if !b.memory.Write(ptr, input) {
			return nil, fmt.Errorf("failed to write input to module memory")
		}
		inputPtr, inputLen = ptr, uint32(len(input))
	}

	results, err := b.analyze.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("analyze returned no results")
	}

	outputPtr := uint32(results[0] >> 32)
	outputLen := uint32(results[0])
	if outputLen == 0 {
		return []byte("{}"), nil
	}

	view, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("output out of module memory range")
	}
	output := make([]byte, len(view))
	copy(output, view)
	b.deallocate(ctx, outputPtr)
	return output, nil
}

func (b *wasmBridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return uint32(results[0]), nil
}

func (b *wasmBridge) deallocate(ctx context.Context, ptr uint32) {
	_, _ = b.free.Call(ctx, uint64(ptr))
}
