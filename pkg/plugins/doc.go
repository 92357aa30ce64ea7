// Package plugins is the analyzer and time provider registry.
//
// A Registry is an explicit instance passed to whoever needs it; there is no
// package-level registration. Built-in factories are registered in code.
// Plugins are discovered from configured directories on the first lookup:
// each direct subdirectory holding a manifest.yaml is one plugin.
//
//	plugins/
//	  ndvi/
//	    manifest.yaml
//	    ndvi.wasm
//	  seasons/
//	    manifest.yaml
//	    seasons.star
//
// A manifest declares the plugin kind (analyzer or time_provider), the
// runtime (wasm or starlark), the entrypoint relative to the manifest and an
// optional sha256 checksum of the entrypoint:
//
//	name: ndvi
//	version: 1.0.0
//	kind: analyzer
//	runtime: wasm
//	entrypoint: ndvi.wasm
//	checksum: sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
//	limits:
//	  memory_pages: 512
//	  timeout: 10s
//
// WASM analyzers export memory, malloc, free and analyze. analyze takes a
// pointer and length to a JSON request and returns (ptr << 32 | len) of a
// JSON response:
//
//	request:  {"feature": {...}, "timespan": {"start": "...", "end": "..."}, "parameters": {...}}
//	response: {"primary_cog_asset": {...}, "additional_assets": [...], "extra_properties": {...}}
//	          {"error": "message"}
//
// Starlark analyzers define analyze(feature, timespan, params) returning a
// dict of the same shape. Starlark time providers define for_feature(feature)
// returning a list of RFC 3339 strings (instants) or {"start", "end"} dicts;
// the argument that follows the provider name in a callable spec is bound
// to the global arg.
package plugins
