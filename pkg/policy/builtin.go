package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		primaryAssetAbsolutePolicy(),
		collectionLicensePolicy(),
		temporalSanityPolicy(),
	}
}

// primaryAssetAbsolutePolicy requires every item to reference its primary
// raster through an absolute href carrying the data and primary roles.
func primaryAssetAbsolutePolicy() Policy {
	return Policy{
		Name:        "primary-asset-absolute",
		Description: "Primary assets must use absolute hrefs and carry the data and primary roles",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"assets", "hrefs"},
		Rego: `package geoexhibit.policies.assets

import rego.v1

deny contains violation if {
	some item in input.items
	item.primary_href == ""
	violation := {
		"message": sprintf("item %s has no primary asset href", [item.id]),
		"severity": "error",
		"resource": item.id,
	}
}

deny contains violation if {
	some item in input.items
	item.primary_href != ""
	not regex.match("^([a-zA-Z][a-zA-Z0-9+.-]*://|/)", item.primary_href)
	violation := {
		"message": sprintf("item %s primary asset href '%s' is not absolute", [item.id, item.primary_href]),
		"severity": "error",
		"resource": item.id,
	}
}

deny contains violation if {
	some item in input.items
	some role in ["data", "primary"]
	not role in item.primary_roles
	violation := {
		"message": sprintf("item %s primary asset lacks the '%s' role", [item.id, role]),
		"severity": "error",
		"resource": item.id,
	}
}
`,
	}
}

// collectionLicensePolicy checks the collection license.
func collectionLicensePolicy() Policy {
	return Policy{
		Name:        "collection-license",
		Description: "Collections must declare a license; proprietary data is flagged",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"metadata"},
		Rego: `package geoexhibit.policies.license

import rego.v1

deny contains violation if {
	input.collection.license == ""
	violation := {
		"message": sprintf("collection %s has no license", [input.collection_id]),
		"severity": "error",
		"resource": input.collection_id,
	}
}

deny contains violation if {
	input.collection.license == "proprietary"
	violation := {
		"message": sprintf("collection %s is published with a proprietary license", [input.collection_id]),
		"severity": "warning",
		"resource": input.collection_id,
	}
}
`,
	}
}

// temporalSanityPolicy rejects intervals that end before they start. Items
// starting beyond data.settings.future_horizon_days after evaluation only
// warn: forecasts and year ranges reaching ahead are valid plans.
func temporalSanityPolicy() Policy {
	return Policy{
		Name:        "temporal-sanity",
		Description: "Item intervals must be ordered; far-future items are flagged",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"time"},
		Rego: `package geoexhibit.policies.temporal

import rego.v1

horizon_ns := data.settings.future_horizon_days * 24 * 60 * 60 * 1000000000

deny contains violation if {
	some item in input.items
	time.parse_rfc3339_ns(item.end) < time.parse_rfc3339_ns(item.start)
	violation := {
		"message": sprintf("item %s ends before it starts", [item.id]),
		"severity": "error",
		"resource": item.id,
	}
}

deny contains violation if {
	some item in input.items
	now := time.parse_rfc3339_ns(input.context.timestamp)
	time.parse_rfc3339_ns(item.start) > now + horizon_ns
	violation := {
		"message": sprintf("item %s starts beyond the future horizon (%s)", [item.id, item.start]),
		"severity": "warning",
		"resource": item.id,
	}
}
`,
	}
}
