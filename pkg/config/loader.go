package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// DiscoverNames are the file names Discover looks for, in order.
var DiscoverNames = []string{
	"config.json",
	"geoexhibit.json",
	"geoexhibit.cue",
	"geoexhibit.yaml",
	"geoexhibit.yml",
}

// LoadError reports every problem found in one configuration source.
type LoadError struct {
	// File is the configuration source.
	File string

	// Errors are the individual problems.
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.String())
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.File, strings.Join(msgs, "; "))
}

// Loader parses configuration files against the built-in schema.
type Loader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	ctx := cuecontext.New()
	return &Loader{
		ctx:       ctx,
		schemas:   NewSchemaRegistry(ctx),
		validator: newValidator(),
	}
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Validator returns the struct validator used for configs.
func (l *Loader) Validator() *validator.Validate {
	return l.validator
}

// Load reads and validates the configuration at path.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewPermanentError("failed to read configuration", err).
			WithCode(engine.ErrCodeConfig).
			WithResource(path)
	}
	return l.LoadBytes(data, path)
}

// LoadBytes validates configuration content. filename selects the syntax by
// extension and is used in error positions.
func (l *Loader) LoadBytes(data []byte, filename string) (*Config, error) {
	val, err := l.compile(data, filename)
	if err != nil {
		return nil, l.fail(filename, l.convertCUEErrors(err))
	}

	var missing []ValidationError
	for _, section := range RequiredSections {
		if !val.LookupPath(cue.MakePath(cue.Str(section))).Exists() {
			missing = append(missing, ValidationError{
				File:    filename,
				Path:    section,
				Message: "missing required section",
			})
		}
	}
	if len(missing) > 0 {
		return nil, l.fail(filename, missing)
	}

	unified, err := l.schemas.Unify(SchemaGeoExhibit, val)
	if err != nil {
		return nil, l.fail(filename, l.convertCUEErrors(err))
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, l.fail(filename, []ValidationError{{File: filename, Message: fmt.Sprintf("failed to decode: %v", err)}})
	}
	cfg.Source = filename

	if errs := l.validate(&cfg); len(errs) > 0 {
		for i := range errs {
			errs[i].File = filename
		}
		return nil, l.fail(filename, errs)
	}
	return &cfg, nil
}

// Validate runs struct validation on a programmatically built config.
func (l *Loader) Validate(cfg *Config) error {
	if errs := l.validate(cfg); len(errs) > 0 {
		return l.fail(cfg.Source, errs)
	}
	return nil
}

func (l *Loader) compile(data []byte, filename string) (cue.Value, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cue.Value{}, fmt.Errorf("%s: %w", filename, err)
		}
		if raw == nil {
			raw = map[string]interface{}{}
		}
		val := l.ctx.Encode(raw)
		return val, val.Err()
	default:
		// JSON is valid CUE, so .json and .cue share the compiler.
		val := l.ctx.CompileBytes(data, cue.Filename(filename))
		return val, val.Err()
	}
}

func (l *Loader) fail(file string, errs []ValidationError) error {
	return engine.NewPermanentError("invalid configuration", &LoadError{File: file, Errors: errs}).
		WithCode(engine.ErrCodeConfig).
		WithResource(file)
}

func (l *Loader) validate(cfg *Config) []ValidationError {
	err := l.validator.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !asValidationErrors(err, &verrs) {
		return []ValidationError{{Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Path:    trimNamespace(fe.Namespace()),
			Message: describeFieldError(fe),
		})
	}
	return out
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors)
	if ok {
		*target = v
	}
	return ok
}

// trimNamespace turns "Config.time.field" into "time.field".
func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "timezone":
		return fmt.Sprintf("unknown time zone %q", fmt.Sprint(fe.Value()))
	case "ltefield":
		return fmt.Sprintf("must not exceed %s", fe.Param())
	case "extractor_field":
		return fmt.Sprintf("is required by extractor %s", fe.Param())
	case "output_target":
		return "s3_bucket is required unless an sftp target is configured"
	}
	if fe.Param() != "" {
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}

// convertCUEErrors converts CUE errors to positioned validation errors.
func (l *Loader) convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if p := e.Path(); len(p) > 0 {
			ve.Path = strings.Join(p, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateTimeConfig, TimeConfig{})
	v.RegisterStructValidation(validateOutputTarget, Config{})
	return v
}

// validateTimeConfig requires field for every extractor that reads one.
func validateTimeConfig(sl validator.StructLevel) {
	tc := sl.Current().Interface().(TimeConfig)
	if tc.Mode != TimeModeDeclarative {
		return
	}
	switch tc.Extractor {
	case ExtractorAttributeDate, ExtractorAttributeInterval, ExtractorFromEpoch, ExtractorRegexFromString:
		if tc.Field == "" {
			sl.ReportError(tc.Field, "field", "Field", "extractor_field", tc.Extractor)
		}
	}
}

func validateOutputTarget(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if cfg.AWS.S3Bucket == "" && cfg.SFTP == nil {
		sl.ReportError(cfg.AWS.S3Bucket, "aws.s3_bucket", "S3Bucket", "output_target", "")
	}
}

// Discover returns the first known configuration file in dir.
func Discover(dir string) (string, error) {
	for _, name := range DiscoverNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", engine.NewPermanentError("no configuration file found", nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(dir).
		WithDetail("looked_for", DiscoverNames)
}
