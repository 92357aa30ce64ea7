package config

import "fmt"

// Declarative extractor kinds.
const (
	ExtractorAttributeDate     = "attribute_date"
	ExtractorAttributeInterval = "attribute_interval"
	ExtractorFromEpoch         = "from_epoch"
	ExtractorRegexFromString   = "regex_from_string"
	ExtractorFixedAnnualDates  = "fixed_annual_dates"
)

// Time resolution modes.
const (
	TimeModeDeclarative = "declarative"
	TimeModeCallable    = "callable"
)

// ValidExtractors lists every extractor the configuration accepts.
var ValidExtractors = []string{
	ExtractorAttributeDate,
	ExtractorAttributeInterval,
	ExtractorFromEpoch,
	ExtractorRegexFromString,
	ExtractorFixedAnnualDates,
}

// RequiredSections must be present in every configuration file.
var RequiredSections = []string{"project", "aws", "map", "stac", "ids", "time", "analyzer"}

// Config is a complete pipeline configuration.
type Config struct {
	// Project identifies the collection being published.
	Project ProjectConfig `json:"project"`

	// AWS configures the S3 publishing target.
	AWS AWSConfig `json:"aws"`

	// SFTP configures an SFTP publishing target. Optional.
	SFTP *SFTPConfig `json:"sftp,omitempty"`

	// Map configures vector tiles for the tile-serving layer.
	Map MapConfig `json:"map"`

	// STAC configures catalog output.
	STAC STACConfig `json:"stac"`

	// IDs configures identifier generation.
	IDs IDsConfig `json:"ids"`

	// Time configures how analysis times are resolved per feature.
	Time TimeConfig `json:"time"`

	// Analyzer selects and parameterises the analyzer.
	Analyzer AnalyzerConfig `json:"analyzer"`

	// Policy configures the publish gate.
	Policy PolicyConfig `json:"policy"`

	// State configures the job history database.
	State StateConfig `json:"state"`

	// Source is the file the configuration was loaded from.
	Source string `json:"-"`
}

// ProjectConfig describes the project and its collection.
type ProjectConfig struct {
	// Name is the project name.
	Name string `json:"name" validate:"required"`

	// CollectionID is the STAC collection id.
	CollectionID string `json:"collection_id" validate:"required"`

	// Title is the collection title.
	Title string `json:"title" validate:"required"`

	// Description is the collection description.
	Description string `json:"description" validate:"required"`
}

// AWSConfig configures S3 publishing.
type AWSConfig struct {
	// S3Bucket is the target bucket. Required unless an SFTP target is configured.
	S3Bucket string `json:"s3_bucket"`

	// Region is the bucket region.
	Region string `json:"region,omitempty"`

	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint string `json:"endpoint,omitempty"`
}

// SFTPConfig configures SFTP publishing.
type SFTPConfig struct {
	// Host is the SFTP server.
	Host string `json:"host" validate:"required,hostname|ip"`

	// Port is the SSH port.
	Port int `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// User is the login user.
	User string `json:"user" validate:"required"`

	// KeyPath is a private key file for public key authentication.
	KeyPath string `json:"key_path,omitempty"`

	// Password is used when no key is configured.
	Password string `json:"password,omitempty"`

	// KnownHosts is the known_hosts file. Host keys are not checked when empty.
	KnownHosts string `json:"known_hosts,omitempty"`

	// Root is the remote directory the job tree is written under.
	Root string `json:"root" validate:"required,startswith=/"`
}

// MapConfig configures map output.
type MapConfig struct {
	// PMTiles configures vector tile generation.
	PMTiles PMTilesConfig `json:"pmtiles"`

	// BaseURL is the public base URL of the tile-serving layer, if any.
	BaseURL string `json:"base_url"`
}

// PMTilesConfig configures vector tile generation.
type PMTilesConfig struct {
	// FeatureIDProperty is the property promoted to the tile feature id.
	FeatureIDProperty string `json:"feature_id_property" validate:"required"`

	// MinZoom is the lowest zoom level generated.
	MinZoom int `json:"minzoom" validate:"gte=0,lte=24,ltefield=MaxZoom"`

	// MaxZoom is the highest zoom level generated.
	MaxZoom int `json:"maxzoom" validate:"gte=0,lte=24"`
}

// STACConfig configures catalog output.
type STACConfig struct {
	// UseExtensions lists enabled STAC extensions.
	UseExtensions []string `json:"use_extensions" validate:"dive,oneof=proj raster processing"`

	// GeometryInItem includes the feature geometry in item documents.
	GeometryInItem bool `json:"geometry_in_item"`
}

// HasExtension reports whether ext is enabled.
func (s STACConfig) HasExtension(ext string) bool {
	for _, e := range s.UseExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// IDsConfig configures identifier generation.
type IDsConfig struct {
	// Strategy is the id scheme. Only ulid is supported.
	Strategy string `json:"strategy" validate:"required,oneof=ulid"`

	// Prefix is prepended to generated feature ids.
	Prefix string `json:"prefix"`
}

// TimeConfig configures time resolution.
type TimeConfig struct {
	// Mode is declarative or callable.
	Mode string `json:"mode" validate:"required,oneof=declarative callable"`

	// Extractor is the declarative extractor kind.
	Extractor string `json:"extractor,omitempty" validate:"required_if=Mode declarative,omitempty,oneof=attribute_date attribute_interval from_epoch regex_from_string fixed_annual_dates"`

	// Field is the dot path of the source value, e.g. properties.fire_date.
	Field string `json:"field,omitempty"`

	// Format is "auto" or a strftime pattern.
	Format string `json:"format,omitempty"`

	// TZ is the IANA zone applied to values without an offset.
	TZ string `json:"tz,omitempty" validate:"omitempty,timezone"`

	// Fanout configures list handling.
	Fanout FanoutConfig `json:"fanout"`

	// Interval configures attribute_interval.
	Interval IntervalConfig `json:"interval"`

	// Regex configures regex_from_string.
	Regex RegexConfig `json:"regex"`

	// Provider names the callable time provider.
	Provider string `json:"provider,omitempty" validate:"required_if=Mode callable"`
}

// FanoutConfig configures list fan-out.
type FanoutConfig struct {
	// AsList turns each list element into its own instant.
	AsList bool `json:"as_list"`
}

// IntervalConfig configures interval extraction.
type IntervalConfig struct {
	// EndField is the dot path of the interval end.
	EndField string `json:"end_field,omitempty"`

	// DefaultDays synthesises an end when none resolves. Zero disables it.
	DefaultDays int `json:"default_days" validate:"gte=0"`
}

// RegexConfig configures regex extraction.
type RegexConfig struct {
	// Pattern overrides the default date pattern.
	Pattern string `json:"pattern,omitempty"`
}

// AnalyzerConfig selects the analyzer.
type AnalyzerConfig struct {
	// Name is the registered analyzer name.
	Name string `json:"name" validate:"required"`

	// PluginDirectories are scanned for plugin manifests on first lookup.
	PluginDirectories []string `json:"plugin_directories"`

	// Parameters are passed to the analyzer factory.
	Parameters map[string]interface{} `json:"parameters"`
}

// PolicyConfig configures the publish gate.
type PolicyConfig struct {
	// Enabled turns the gate on.
	Enabled bool `json:"enabled"`

	// Paths lists extra .rego files or directories.
	Paths []string `json:"paths,omitempty"`

	// Mode is advisory (log only) or enforcing.
	Mode string `json:"mode" validate:"oneof=advisory enforcing"`
}

// StateConfig configures job history.
type StateConfig struct {
	// Enabled turns job recording on.
	Enabled bool `json:"enabled"`

	// Path is the SQLite database file.
	Path string `json:"path" validate:"required_if=Enabled true"`
}

// ValidationError describes one configuration problem.
type ValidationError struct {
	// File is the configuration file, if known.
	File string `json:"file,omitempty"`

	// Line is the 1-based line, if known.
	Line int `json:"line,omitempty"`

	// Column is the 1-based column, if known.
	Column int `json:"column,omitempty"`

	// Path is the configuration path, e.g. time.extractor.
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (v ValidationError) String() string {
	loc := v.File
	if v.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", v.File, v.Line, v.Column)
	}
	switch {
	case loc != "" && v.Path != "":
		return fmt.Sprintf("%s: %s: %s", loc, v.Path, v.Message)
	case v.Path != "":
		return fmt.Sprintf("%s: %s", v.Path, v.Message)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, v.Message)
	}
	return v.Message
}
