package plugins

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// ManifestFile is the file name discovery looks for in each plugin directory.
const ManifestFile = "manifest.yaml"

// Plugin kinds.
const (
	KindAnalyzer     = "analyzer"
	KindTimeProvider = "time_provider"
)

// Plugin runtimes.
const (
	RuntimeWASM     = "wasm"
	RuntimeStarlark = "starlark"
)

// Default execution limits.
const (
	DefaultMemoryPages = 256
	DefaultTimeout     = 30 * time.Second
)

// Manifest describes one plugin.
type Manifest struct {
	Name        string                 `yaml:"name" json:"name"`
	Version     string                 `yaml:"version" json:"version"`
	Kind        string                 `yaml:"kind" json:"kind"`
	Runtime     string                 `yaml:"runtime" json:"runtime"`
	Entrypoint  string                 `yaml:"entrypoint" json:"entrypoint"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Checksum    string                 `yaml:"checksum,omitempty" json:"checksum,omitempty"`
	Parameters  map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Limits      Limits                 `yaml:"limits,omitempty" json:"limits"`

	// Path is the manifest file the plugin was loaded from.
	Path string `yaml:"-" json:"-"`
}

// Limits bounds plugin execution.
type Limits struct {
	// MemoryPages caps WASM linear memory in 64KiB pages.
	MemoryPages uint32 `yaml:"memory_pages,omitempty" json:"memory_pages,omitempty"`

	// Timeout bounds a single call, as a Go duration string.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// EntrypointPath resolves the entrypoint against the manifest directory.
func (m *Manifest) EntrypointPath() string {
	if filepath.IsAbs(m.Entrypoint) || m.Path == "" {
		return m.Entrypoint
	}
	return filepath.Join(filepath.Dir(m.Path), m.Entrypoint)
}

// CallTimeout returns the per-call timeout.
func (m *Manifest) CallTimeout() time.Duration {
	if m.Limits.Timeout == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(m.Limits.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	return d
}

// MemoryLimitPages returns the WASM memory cap.
func (m *Manifest) MemoryLimitPages() uint32 {
	if m.Limits.MemoryPages == 0 {
		return DefaultMemoryPages
	}
	return m.Limits.MemoryPages
}

// ParseManifest decodes and validates manifest YAML against the manifest
// schema in schemas.
func ParseManifest(ctx context.Context, data []byte, schemas *config.SchemaRegistry) (*Manifest, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, engine.NewPermanentError("failed to parse manifest YAML", err).
			WithCode(engine.ErrCodeValidation)
	}
	if raw == nil {
		return nil, engine.NewValidationError("manifest is empty")
	}
	if schemas == nil {
		schemas = config.NewSchemaRegistry(nil)
	}
	if err := schemas.ValidateAgainstSchema(ctx, config.SchemaManifest, raw); err != nil {
		return nil, engine.NewPermanentError("invalid manifest", err).
			WithCode(engine.ErrCodeValidation)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, engine.NewPermanentError("failed to decode manifest", err).
			WithCode(engine.ErrCodeValidation)
	}
	if m.Kind == KindTimeProvider && m.Runtime != RuntimeStarlark {
		return nil, engine.NewValidationError("time providers must use the %s runtime, got %s", RuntimeStarlark, m.Runtime).
			WithResource(m.Name)
	}
	return &m, nil
}

// LoadManifest reads a manifest file and verifies the entrypoint exists and
// matches the declared checksum. It returns the entrypoint contents.
func LoadManifest(ctx context.Context, path string, schemas *config.SchemaRegistry) (*Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, engine.NewPermanentError("failed to read manifest", err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(path)
	}
	m, err := ParseManifest(ctx, data, schemas)
	if err != nil {
		if ee, ok := err.(*engine.EngineError); ok {
			return nil, nil, ee.WithResource(path)
		}
		return nil, nil, err
	}
	m.Path = path

	code, err := os.ReadFile(m.EntrypointPath())
	if err != nil {
		return nil, nil, engine.NewPermanentError("plugin entrypoint not found", err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(m.EntrypointPath())
	}
	if err := m.VerifyChecksum(code); err != nil {
		return nil, nil, err
	}
	return m, code, nil
}

// VerifyChecksum checks code against the declared sha256 checksum. A manifest
// without a checksum accepts anything.
func (m *Manifest) VerifyChecksum(code []byte) error {
	if m.Checksum == "" {
		return nil
	}
	want := strings.TrimPrefix(m.Checksum, "sha256:")
	sum := sha256.Sum256(code)
	got := hex.EncodeToString(sum[:])
	if got != want {
		return engine.NewValidationError("entrypoint checksum mismatch: expected %s, got %s", want, got).
			WithResource(m.Name)
	}
	return nil
}
