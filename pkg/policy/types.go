package policy

import (
	"time"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/stac"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo indicates informational violations.
	SeverityInfo Severity = "info"

	// SeverityWarning indicates warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError indicates errors that block publishing.
	SeverityError Severity = "error"

	// SeverityCritical indicates critical violations that block publishing.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies publishing.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Mode controls what the gate does with a denied result.
type Mode string

const (
	// ModeAdvisory logs violations and lets the run continue.
	ModeAdvisory Mode = "advisory"

	// ModeEnforcing fails the run on blocking violations.
	ModeEnforcing Mode = "enforcing"
)

// Policy represents an OPA/Rego policy.
type Policy struct {
	// Name is the unique identifier for the policy.
	Name string `json:"name"`

	// Description explains what the policy checks.
	Description string `json:"description"`

	// Rego is the policy source.
	Rego string `json:"rego"`

	// Severity is the default severity of violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the binary.
	Builtin bool `json:"builtin,omitempty"`

	// Tags for categorizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata holds additional policy metadata, such as the source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is one deny result of a policy.
type Violation struct {
	Policy   string `json:"policy"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Resource string `json:"resource,omitempty"`
}

// Blocking reports whether the violation denies publishing.
func (v Violation) Blocking() bool {
	return Severity(v.Severity).Blocks()
}

// Result is the outcome of evaluating every enabled policy against one input.
type Result struct {
	// Allowed is false when any violation is error or critical.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations"`

	// Warnings records policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Blocking returns the violations that deny publishing.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies evaluate: a summary of one publish plan
// after its hrefs were resolved.
type Input struct {
	JobID        string            `json:"job_id"`
	CollectionID string            `json:"collection_id"`
	StoreRoot    string            `json:"store_root,omitempty"`
	ItemCount    int               `json:"item_count"`
	FeatureCount int               `json:"feature_count"`
	HasPMTiles   bool              `json:"has_pmtiles"`
	Collection   CollectionSummary `json:"collection"`
	Items        []ItemSummary     `json:"items"`
	Context      Context           `json:"context"`
}

// CollectionSummary is the collection metadata seen by policies.
type CollectionSummary struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	License     string   `json:"license"`
	Keywords    []string `json:"keywords"`
}

// ItemSummary is one item as seen by policies. Times are RFC 3339 in UTC.
type ItemSummary struct {
	ID           string   `json:"id"`
	FeatureID    string   `json:"feature_id"`
	Start        string   `json:"start"`
	End          string   `json:"end,omitempty"`
	PrimaryHref  string   `json:"primary_href"`
	PrimaryRoles []string `json:"primary_roles"`
	AssetCount   int      `json:"asset_count"`
}

// Context carries evaluation metadata. Timestamp is the reference "now".
type Context struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
}

// NewInput summarizes plan for evaluation. When catalog is set the primary
// hrefs are the resolved catalog hrefs, otherwise the analyzer hrefs.
func NewInput(plan *engine.PublishPlan, catalog *stac.Catalog, storeRoot string, now time.Time) *Input {
	in := &Input{
		JobID:        plan.JobID,
		CollectionID: plan.CollectionID,
		StoreRoot:    storeRoot,
		ItemCount:    plan.ItemCount(),
		FeatureCount: plan.FeatureCount(),
		HasPMTiles:   plan.HasPMTiles(),
		Collection: CollectionSummary{
			Title:       plan.Metadata.Title,
			Description: plan.Metadata.Description,
			License:     plan.Metadata.License,
			Keywords:    append([]string{}, plan.Metadata.Keywords...),
		},
		Items: make([]ItemSummary, 0, len(plan.Items)),
		Context: Context{
			Timestamp: now.UTC().Format(time.RFC3339Nano),
			Operation: "publish",
		},
	}

	resolved := make(map[string]*stac.Item)
	if catalog != nil {
		for _, item := range catalog.Items {
			resolved[item.ID] = item
		}
	}

	for _, item := range plan.Items {
		summary := ItemSummary{
			ID:           item.ItemID,
			FeatureID:    item.FeatureID(),
			Start:        item.TimeSpan.Start().UTC().Format(time.RFC3339Nano),
			PrimaryRoles: []string{},
		}
		if end := item.TimeSpan.End(); end != nil {
			summary.End = end.UTC().Format(time.RFC3339Nano)
		}
		if item.Output != nil && item.Output.PrimaryCOGAsset != nil {
			primary := item.Output.PrimaryCOGAsset
			summary.PrimaryHref = primary.Href
			summary.PrimaryRoles = append(summary.PrimaryRoles, primary.Roles...)
			summary.AssetCount = 1 + len(item.Output.AdditionalAssets)
		}
		if doc, ok := resolved[item.ItemID]; ok {
			summary.AssetCount = len(doc.Assets)
			if keys := doc.PrimaryAssets(); len(keys) > 0 {
				asset := doc.Assets[keys[0]]
				summary.PrimaryHref = asset.Href
				summary.PrimaryRoles = append([]string{}, asset.Roles...)
			}
		}
		in.Items = append(in.Items, summary)
	}
	return in
}
