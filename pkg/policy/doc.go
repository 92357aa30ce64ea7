// Package policy provides Open Policy Agent (OPA) integration for GeoExhibit.
//
// Policies are Rego modules evaluated against a summary of a publish plan
// after its catalog was written and before anything is uploaded. The summary
// carries the job and collection ids, counts, the collection metadata and one
// entry per item with its feature id, interval and resolved primary href.
//
// # Architecture
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Reads .rego and .json policy files, cached by modification time
//  3. Gate - Applies the configured mode to an evaluation result
//  4. Built-in Policies - Checks every catalog must pass
//
// # Usage
//
//	gate, err := policy.NewGate(ctx, cfg.Policy, logger)
//	if err != nil {
//	    return err
//	}
//	result, err := gate.Check(ctx, plan, catalog, store.Root())
//	if engine.HasCode(err, engine.ErrCodePolicyDenied) {
//	    // blocking violations in enforcing mode
//	}
//
// # Built-in Policies
//
//  1. primary-asset-absolute - Primary assets use absolute hrefs with data and primary roles
//  2. collection-license - A license is declared; proprietary licenses raise a warning
//  3. temporal-sanity - Intervals are ordered; items starting beyond the future horizon warn
//
// # Custom Policies
//
// Every policy exposes a deny set. A violation is a string or an object with
// message, severity and resource keys:
//
//	# severity: error
//	package custom.items
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.item_count > 10000
//	    violation := {
//	        "message": "job is too large",
//	        "resource": input.job_id,
//	    }
//	}
//
// Policy data is available under data.settings; future_horizon_days is set
// from WithFutureHorizon.
//
// # Severity Levels
//
//   - info: Informational messages
//   - warning: Logged, never blocks
//   - error: Blocks publishing in enforcing mode
//   - critical: Blocks publishing in enforcing mode
package policy
