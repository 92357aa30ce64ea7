// Package timeres resolves the analysis time spans of a feature.
//
// Two modes are supported. The declarative mode interprets a small
// configuration grammar:
//
//	attribute_date      one date per feature, or one per list element with fanout.as_list
//	attribute_interval  start from field, end from interval.end_field or start + interval.default_days
//	from_epoch          numeric seconds, or milliseconds above the 2100-01-01 seconds value
//	regex_from_string   first regex match in a string field
//	fixed_annual_dates  reserved, always empty
//
// The callable mode takes a provider spec: "constant:<date>", "years:<a>-<b>",
// or the name of a provider registered with the plugin registry.
//
// Bad per-feature data never fails: the feature simply yields no spans.
// Broken configuration fails at construction.
package timeres
