package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Built-in schema names.
const (
	SchemaGeoExhibit = "geoexhibit"
	SchemaManifest   = "manifest"
)

// SchemaRegistry holds compiled CUE schemas keyed by name.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in schemas.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	// Built-in sources are constants; a compile failure is a programming error.
	if err := sr.RegisterSchema(SchemaGeoExhibit, builtinGeoExhibitSchema, "#GeoExhibit"); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaManifest, builtinManifestSchema, "#Manifest"); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles src and registers the definition def under name.
func (sr *SchemaRegistry) RegisterSchema(name, src, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if def != "" {
		val = val.LookupPath(cue.ParsePath(def))
		if !val.Exists() {
			return fmt.Errorf("schema %s has no definition %s", name, def)
		}
	}
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and requires a concrete result.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return unified, err
	}
	return unified, nil
}

// ValidateAgainstSchema encodes data and validates it against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinGeoExhibitSchema = `
#Extension: "proj" | "raster" | "processing"

#GeoExhibit: {
	project: {
		name:          string & !=""
		collection_id: string & =~"^[A-Za-z0-9_.-]+$"
		title:         string & !=""
		description:   string
		...
	}

	aws: {
		s3_bucket: *"" | string
		region:    *"ap-southeast-2" | string
		endpoint?: string
		...
	}

	sftp?: {
		host:         string & !=""
		port:         *22 | (int & >=1 & <=65535)
		user:         string & !=""
		key_path?:    string
		password?:    string
		known_hosts?: string
		root:         *"/" | (string & =~"^/")
		...
	}

	map: {
		pmtiles: {
			feature_id_property: *"feature_id" | (string & !="")
			minzoom:             *5 | (int & >=0 & <=24)
			maxzoom:             *14 | (int & >=0 & <=24)
			...
		}
		base_url: *"" | string
		...
	}

	stac: {
		use_extensions:   *["proj", "raster", "processing"] | [...#Extension]
		geometry_in_item: *true | bool
		...
	}

	ids: {
		strategy: "ulid"
		prefix:   *"" | string
		...
	}

	time: {
		mode:       "declarative" | "callable"
		extractor?: "attribute_date" | "attribute_interval" | "from_epoch" | "regex_from_string" | "fixed_annual_dates"
		field?:     string
		format:     *"auto" | (string & !="")
		tz:         *"UTC" | (string & !="")
		fanout: {
			as_list: *false | bool
			...
		}
		interval: {
			end_field?:   string
			default_days: *0 | (int & >=0)
			...
		}
		regex: {
			pattern?: string
			...
		}
		provider?: string
		...
	}

	analyzer: {
		name:               string & !=""
		plugin_directories: *["analyzers/"] | [...string]
		parameters:         *{} | {...}
		...
	}

	policy: {
		enabled: *true | bool
		paths:   *[] | [...string]
		mode:    *"enforcing" | "advisory"
		...
	}

	state: {
		enabled: *true | bool
		path:    *".geoexhibit/state.db" | string
		...
	}

	...
}
`

const builtinManifestSchema = `
#Manifest: {
	name:        string & =~"^[a-z][a-z0-9_.-]*$"
	version:     string & =~"^v?[0-9]+\\.[0-9]+\\.[0-9]+"
	kind:        "analyzer" | "time_provider"
	runtime:     "wasm" | "starlark"
	entrypoint:  string & !=""
	description: *"" | string
	checksum:    *"" | (string & =~"^(sha256:)?[a-f0-9]{64}$")
	parameters:  *{} | {...}
	limits: {
		memory_pages: *256 | (int & >=1 & <=65536)
		timeout:      *"30s" | string
	}
	...
}
`
