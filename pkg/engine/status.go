package engine

import (
	"encoding/json"
	"fmt"
)

// JobStatus represents the overall status of a publishing job.
type JobStatus string

const (
	// JobStatusRunning indicates the job is building, writing or publishing.
	JobStatusRunning JobStatus = "running"

	// JobStatusSucceeded indicates every step including verification passed.
	JobStatusSucceeded JobStatus = "succeeded"

	// JobStatusFailed indicates the job stopped with an error.
	JobStatusFailed JobStatus = "failed"

	// JobStatusDryRun indicates the job only resolved the plan shape.
	JobStatusDryRun JobStatus = "dry_run"
)

// IsTerminal returns true if the job status represents a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusDryRun
}

// Validate checks if the job status is valid.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusRunning, JobStatusSucceeded, JobStatusFailed, JobStatusDryRun:
		return nil
	default:
		return fmt.Errorf("invalid job status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = JobStatus(str)
	return s.Validate()
}

// EventType represents the type of event in a job timeline.
type EventType string

const (
	// EventTypeJobStarted indicates a job has started.
	EventTypeJobStarted EventType = "job_started"

	// EventTypePlanBuilt indicates the publish plan was built and validated.
	EventTypePlanBuilt EventType = "plan_built"

	// EventTypeTilesGenerated indicates vector tiles were attached to the plan.
	EventTypeTilesGenerated EventType = "tiles_generated"

	// EventTypeTilesSkipped indicates vector tile generation was skipped or failed.
	EventTypeTilesSkipped EventType = "tiles_skipped"

	// EventTypeCatalogWritten indicates the catalog documents were built.
	EventTypeCatalogWritten EventType = "catalog_written"

	// EventTypePolicyEvaluated indicates the publish gate ran.
	EventTypePolicyEvaluated EventType = "policy_evaluated"

	// EventTypePublished indicates every object was uploaded.
	EventTypePublished EventType = "published"

	// EventTypeVerified indicates the published catalog was read back.
	EventTypeVerified EventType = "verified"

	// EventTypeJobCompleted indicates a job has completed.
	EventTypeJobCompleted EventType = "job_completed"

	// EventTypeJobFailed indicates a job has failed.
	EventTypeJobFailed EventType = "job_failed"

	// EventTypeWarning indicates a warning was raised.
	EventTypeWarning EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeJobFailed:
		return "error"
	case EventTypeWarning, EventTypeTilesSkipped:
		return "warning"
	default:
		return "info"
	}
}
