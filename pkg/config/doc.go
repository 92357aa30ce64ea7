// Package config loads and validates GeoExhibit pipeline configuration.
//
// # Overview
//
// Configuration files may be written as CUE (.cue), JSON (.json) or YAML
// (.yaml, .yml). Every file is unified with the built-in #GeoExhibit CUE schema,
// which fills defaults and type-checks values, then decoded into Config and
// checked with struct validation rules.
//
// # Sections
//
//   - project: name, collection_id, title, description
//   - aws: s3_bucket, region, endpoint
//   - sftp: optional SFTP publishing target
//   - map: pmtiles feature id property and zoom range, base_url
//   - stac: use_extensions, geometry_in_item
//   - ids: strategy, prefix
//   - time: declarative extractor settings or a callable provider
//   - analyzer: name, plugin_directories, parameters
//   - policy: publish gate settings
//   - state: job history database
//
// # Usage Example
//
//	loader := config.NewLoader()
//	cfg, err := loader.Load("geoexhibit.json")
//	if err != nil {
//	    var le *config.LoadError
//	    if errors.As(err, &le) {
//	        for _, ve := range le.Errors {
//	            fmt.Println(ve)
//	        }
//	    }
//	}
//
// Validation errors carry file, line and column when the source is CUE or JSON.
package config
