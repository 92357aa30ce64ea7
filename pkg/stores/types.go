package stores

import (
	"context"
	"errors"
	"time"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Job is one recorded pipeline run.
type Job struct {
	ID           string           `json:"id"`
	CollectionID string           `json:"collection_id"`
	Status       engine.JobStatus `json:"status"`
	OutputType   string           `json:"output_type"`
	StoreRoot    string           `json:"store_root"`
	ConfigPath   string           `json:"config_path"`
	ItemCount    int              `json:"item_count"`
	FeatureCount int              `json:"feature_count"`
	PMTiles      bool             `json:"pmtiles"`
	DryRun       bool             `json:"dry_run"`
	Verified     bool             `json:"verified"`
	Error        *string          `json:"error,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// JobOutcome is what a successful run reports when it completes.
type JobOutcome struct {
	ItemCount    int
	FeatureCount int
	PMTiles      bool
	DryRun       bool
	Verified     bool
	OutputType   string
	StoreRoot    string
}

// JobItem is one published item of a job.
type JobItem struct {
	JobID       string     `json:"job_id"`
	ItemID      string     `json:"item_id"`
	FeatureID   string     `json:"feature_id"`
	Start       time.Time  `json:"datetime"`
	End         *time.Time `json:"end_datetime,omitempty"`
	PrimaryHref string     `json:"primary_href"`
}

// Event represents an append-only log event
type Event struct {
	ID        string     `json:"id"`
	JobID     *string    `json:"job_id,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the job history layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Job operations
	CreateJob(ctx context.Context, job *Job) error
	CompleteJob(ctx context.Context, id string, outcome JobOutcome) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*Job, error)

	// Item operations
	AddItems(ctx context.Context, jobID string, items []JobItem) error
	ListJobItems(ctx context.Context, jobID string) ([]*JobItem, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, jobID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
