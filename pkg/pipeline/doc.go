// Package pipeline runs a GeoExhibit publishing job end to end.
//
// A run resolves the input features and their analysis times, builds a
// publish plan with the configured analyzer, optionally generates vector
// tiles, writes the catalog, checks it against the policy gate, uploads
// everything to the output store and reads it back for verification. Each
// step is traced, counted and reported as an event; the job and its items
// are recorded in the job history when one is configured.
//
// Dry runs stop after resolving the plan shape and touch neither the
// analyzer nor the output store.
package pipeline
