package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/stores"
)

// Event is one entry in a job timeline.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type engine.EventType `json:"type"`

	// JobID is the associated job, if any.
	JobID string `json:"job_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles one event. Subscribers run synchronously in
// subscription order.
type EventSubscriber func(ctx context.Context, event Event) error

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers job events to its subscribers.
type EventPublisher struct {
	config      EventsConfig
	subscribers []subscriberEntry
	filters     []EventFilter
	mu          sync.RWMutex
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{config: cfg}
}

// Publish stamps the event and hands it to every matching subscriber.
// Subscriber errors are joined and returned after all subscribers ran.
func (ep *EventPublisher) Publish(ctx context.Context, event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = event.Type.Severity()
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, filter := range ep.filters {
		if !filter(event) {
			return nil
		}
	}

	var errs []error
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		if err := entry.subscriber(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJobStarted publishes a job started event.
func (ep *EventPublisher) PublishJobStarted(ctx context.Context, jobID, collectionID string, dryRun bool) error {
	return ep.Publish(ctx, Event{
		Type:    engine.EventTypeJobStarted,
		JobID:   jobID,
		Message: fmt.Sprintf("Job %s started for collection %s", jobID, collectionID),
		Data: map[string]interface{}{
			"collection_id": collectionID,
			"dry_run":       dryRun,
		},
	})
}

// PublishStep publishes the completion of a pipeline step.
func (ep *EventPublisher) PublishStep(ctx context.Context, jobID string, eventType engine.EventType, message string, data map[string]interface{}) error {
	return ep.Publish(ctx, Event{
		Type:    eventType,
		JobID:   jobID,
		Message: message,
		Data:    data,
	})
}

// PublishWarning publishes a warning for a job.
func (ep *EventPublisher) PublishWarning(ctx context.Context, jobID, message string, data map[string]interface{}) error {
	return ep.Publish(ctx, Event{
		Type:    engine.EventTypeWarning,
		JobID:   jobID,
		Message: message,
		Level:   EventLevelWarning,
		Data:    data,
	})
}

// PublishJobCompleted publishes a job completed event.
func (ep *EventPublisher) PublishJobCompleted(ctx context.Context, jobID string, status engine.JobStatus, itemCount int, duration time.Duration) error {
	return ep.Publish(ctx, Event{
		Type:    engine.EventTypeJobCompleted,
		JobID:   jobID,
		Message: fmt.Sprintf("Job %s completed with status: %s", jobID, status),
		Data: map[string]interface{}{
			"status":     string(status),
			"item_count": itemCount,
			"duration":   duration.Seconds(),
		},
	})
}

// PublishJobFailed publishes a job failed event.
func (ep *EventPublisher) PublishJobFailed(ctx context.Context, jobID string, cause error) error {
	data := map[string]interface{}{"reason": cause.Error()}
	var engErr *engine.EngineError
	if errors.As(cause, &engErr) {
		data["class"] = string(engErr.Class)
		if engErr.Code != "" {
			data["code"] = engErr.Code
		}
	}
	return ep.Publish(ctx, Event{
		Type:    engine.EventTypeJobFailed,
		JobID:   jobID,
		Message: fmt.Sprintf("Job %s failed: %s", jobID, cause),
		Level:   EventLevelError,
		Data:    data,
	})
}

// Subscribe adds a new event subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// StoreSubscriber persists events into the job history.
func StoreSubscriber(store stores.Store) EventSubscriber {
	return func(ctx context.Context, event Event) error {
		rec := &stores.Event{
			ID:        event.ID,
			Type:      string(event.Type),
			Level:     stores.EventLevel(event.Level),
			Message:   event.Message,
			Timestamp: event.Timestamp,
		}
		if event.JobID != "" {
			jobID := event.JobID
			rec.JobID = &jobID
		}
		if len(event.Data) > 0 {
			raw, err := json.Marshal(event.Data)
			if err != nil {
				return fmt.Errorf("failed to encode event details: %w", err)
			}
			details := string(raw)
			rec.Details = &details
		}
		return store.AppendEvent(ctx, rec)
	}
}

// LogSubscriber writes events to a logger at their level.
func LogSubscriber(l *Logger) EventSubscriber {
	return func(_ context.Context, event Event) error {
		log := l.z
		ev := log.Info()
		switch event.Level {
		case EventLevelWarning:
			ev = log.Warn()
		case EventLevelError:
			ev = log.Error()
		}
		if event.JobID != "" {
			ev = ev.Str("job_id", event.JobID)
		}
		ev.Str("event", string(event.Type)).Fields(event.Data).Msg(event.Message)
		return nil
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByJobID creates a filter that only allows events for a specific job.
func FilterByJobID(jobID string) EventFilter {
	return func(event Event) bool {
		return event.JobID == jobID
	}
}
