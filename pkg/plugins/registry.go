package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// SourceBuiltin marks entries registered in code.
const SourceBuiltin = "builtin"

// Options configures a Registry.
type Options struct {
	// Directories are scanned for plugin manifests on the first lookup.
	Directories []string

	// Schemas validates manifests. A fresh registry is used when nil.
	Schemas *config.SchemaRegistry

	// Logger receives discovery warnings.
	Logger *zerolog.Logger
}

// Entry describes one registration.
type Entry struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Runtime string `json:"runtime,omitempty"`
	Version string `json:"version,omitempty"`
	Source  string `json:"source"`
}

// Registry maps names to analyzer and time provider factories.
type Registry struct {
	// mu protects the maps below.
	mu sync.RWMutex

	analyzers     map[string]engine.AnalyzerFactory
	timeProviders map[string]engine.TimeProviderFactory

	// entries maps kind/name to its description.
	entries map[string]Entry

	// instances are plugin analyzers that hold runtime resources.
	instances []closer

	dirs     []string
	schemas  *config.SchemaRegistry
	log      zerolog.Logger
	discover sync.Once
}

type closer interface {
	Close(ctx context.Context) error
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	schemas := opts.Schemas
	if schemas == nil {
		schemas = config.NewSchemaRegistry(nil)
	}
	return &Registry{
		analyzers:     make(map[string]engine.AnalyzerFactory),
		timeProviders: make(map[string]engine.TimeProviderFactory),
		entries:       make(map[string]Entry),
		dirs:          append([]string(nil), opts.Directories...),
		schemas:       schemas,
		log:           log.With().Str("component", "plugins").Logger(),
	}
}

func entryKey(kind, name string) string { return kind + "/" + name }

// RegisterAnalyzer registers an analyzer factory under name.
func (r *Registry) RegisterAnalyzer(name string, factory engine.AnalyzerFactory) error {
	return r.registerAnalyzer(Entry{Name: name, Kind: KindAnalyzer, Source: SourceBuiltin}, factory)
}

func (r *Registry) registerAnalyzer(entry Entry, factory engine.AnalyzerFactory) error {
	if strings.TrimSpace(entry.Name) == "" {
		return engine.NewValidationError("analyzer name must not be empty")
	}
	if factory == nil {
		return engine.NewValidationError("analyzer %s has no factory", entry.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.analyzers[entry.Name]; exists {
		return engine.NewConflictError("analyzer already registered", nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithResource(entry.Name)
	}
	r.analyzers[entry.Name] = factory
	r.entries[entryKey(KindAnalyzer, entry.Name)] = entry
	return nil
}

// RegisterTimeProvider registers a named time provider factory.
func (r *Registry) RegisterTimeProvider(name string, factory engine.TimeProviderFactory) error {
	return r.registerTimeProvider(Entry{Name: name, Kind: KindTimeProvider, Source: SourceBuiltin}, factory)
}

func (r *Registry) registerTimeProvider(entry Entry, factory engine.TimeProviderFactory) error {
	if strings.TrimSpace(entry.Name) == "" {
		return engine.NewValidationError("time provider name must not be empty")
	}
	if factory == nil {
		return engine.NewValidationError("time provider %s has no factory", entry.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.timeProviders[entry.Name]; exists {
		return engine.NewConflictError("time provider already registered", nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithResource(entry.Name)
	}
	r.timeProviders[entry.Name] = factory
	r.entries[entryKey(KindTimeProvider, entry.Name)] = entry
	return nil
}

// Analyzer instantiates the analyzer registered under name. Discovery runs
// once, on the first lookup.
func (r *Registry) Analyzer(ctx context.Context, name string, params map[string]interface{}) (engine.Analyzer, error) {
	r.Discover(ctx)

	r.mu.RLock()
	factory, ok := r.analyzers[name]
	r.mu.RUnlock()
	if !ok {
		known := r.Names()
		return nil, engine.NewPermanentError(fmt.Sprintf("analyzer not found; available: %s", strings.Join(known, ", ")), nil).
			WithCode(engine.ErrCodeNotFound).
			WithResource(name).
			WithDetail("available", known)
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	analyzer, err := factory(params)
	if err != nil {
		return nil, engine.NewPermanentError("failed to construct analyzer", err).
			WithCode(engine.ErrCodeConstructionFailed).
			WithResource(name)
	}
	if analyzer == nil || analyzer.Name() == "" {
		return nil, engine.NewPermanentError("factory returned an invalid analyzer", nil).
			WithCode(engine.ErrCodeConstructionFailed).
			WithResource(name)
	}

	if c, ok := analyzer.(closer); ok {
		r.mu.Lock()
		r.instances = append(r.instances, c)
		r.mu.Unlock()
	}
	return analyzer, nil
}

// TimeProvider instantiates the named time provider with arg. It satisfies
// the lookup the callable time mode uses.
func (r *Registry) TimeProvider(ctx context.Context, name, arg string) (engine.TimeProvider, error) {
	r.Discover(ctx)

	r.mu.RLock()
	factory, ok := r.timeProviders[name]
	r.mu.RUnlock()
	if !ok {
		known := r.TimeProviderNames()
		return nil, engine.NewPermanentError(fmt.Sprintf("time provider not found; available: %s", strings.Join(known, ", ")), nil).
			WithCode(engine.ErrCodeNotFound).
			WithResource(name).
			WithDetail("available", known)
	}

	provider, err := factory(arg)
	if err != nil {
		return nil, engine.NewPermanentError("failed to construct time provider", err).
			WithCode(engine.ErrCodeConstructionFailed).
			WithResource(name)
	}
	if provider == nil {
		return nil, engine.NewPermanentError("factory returned no time provider", nil).
			WithCode(engine.ErrCodeConstructionFailed).
			WithResource(name)
	}
	return provider, nil
}

// Names returns the registered analyzer names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.analyzers)
}

// TimeProviderNames returns the registered time provider names, sorted.
func (r *Registry) TimeProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.timeProviders)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries describes every registration, sorted by kind then name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// Discover scans the configured directories once. Later calls do nothing.
func (r *Registry) Discover(ctx context.Context) {
	r.discover.Do(func() {
		for _, dir := range r.dirs {
			if err := r.ScanDirectory(ctx, dir); err != nil {
				r.log.Debug().Err(err).Str("dir", dir).Msg("Skipping plugin directory")
			}
		}
	})
}

// ScanDirectory registers every <dir>/<sub>/manifest.yaml. Invalid manifests
// and name clashes are logged and skipped.
func (r *Registry) ScanDirectory(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return engine.NewPermanentError("failed to read plugin directory", err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(dir)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, entry.Name(), ManifestFile)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		if err := r.RegisterFromPath(ctx, manifestPath); err != nil {
			r.log.Warn().Err(err).Str("manifest", manifestPath).Msg("Failed to register plugin")
		}
	}
	return nil
}

// RegisterFromPath loads a manifest and registers the plugin it describes.
func (r *Registry) RegisterFromPath(ctx context.Context, manifestPath string) error {
	m, code, err := LoadManifest(ctx, manifestPath, r.schemas)
	if err != nil {
		return err
	}

	entry := Entry{
		Name:    m.Name,
		Kind:    m.Kind,
		Runtime: m.Runtime,
		Version: m.Version,
		Source:  manifestPath,
	}

	switch {
	case m.Kind == KindAnalyzer && m.Runtime == RuntimeWASM:
		err = r.registerAnalyzer(entry, func(params map[string]interface{}) (engine.Analyzer, error) {
			return NewWASMAnalyzer(m, code, mergeParams(m.Parameters, params), r.log), nil
		})
	case m.Kind == KindAnalyzer && m.Runtime == RuntimeStarlark:
		err = r.registerAnalyzer(entry, func(params map[string]interface{}) (engine.Analyzer, error) {
			return NewStarlarkAnalyzer(m, code, mergeParams(m.Parameters, params))
		})
	case m.Kind == KindTimeProvider:
		err = r.registerTimeProvider(entry, func(arg string) (engine.TimeProvider, error) {
			return NewStarlarkTimeProvider(m, code, arg, r.log)
		})
	default:
		err = engine.NewValidationError("unsupported plugin %s/%s", m.Kind, m.Runtime).WithResource(m.Name)
	}
	if err != nil {
		return err
	}

	r.log.Debug().Str("name", m.Name).Str("kind", m.Kind).Str("runtime", m.Runtime).Msg("Registered plugin")
	return nil
}

// mergeParams overlays configured parameters on manifest defaults.
func mergeParams(defaults, params map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(defaults)+len(params))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

// Close releases the runtimes of every plugin analyzer handed out.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	instances := r.instances
	r.instances = nil
	r.mu.Unlock()

	var failed []string
	for _, c := range instances {
		if err := c.Close(ctx); err != nil {
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		return engine.NewPermanentError("failed to close plugins: "+strings.Join(failed, "; "), nil).
			WithCode(engine.ErrCodeInternal)
	}
	return nil
}
