package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/model"
)

const (
	AggregateWindow = "availability_window"

	EventWindowCreated = "availability.window.created.v1"
	EventWindowUpdated = "availability.window.updated.v1"
	EventWindowDeleted = "availability.window.deleted.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type windowPayload struct {
	WindowID   string          `json:"window_id"`
	ProviderID string          `json:"provider_id"`
	DayOfWeek  int             `json:"day_of_week"`
	StartTime  model.TimeOfDay `json:"start_time"`
	EndTime    model.TimeOfDay `json:"end_time"`
	Active     bool            `json:"active"`
	Version    int64           `json:"version"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// WindowEvent builds the envelope for a window change.
func WindowEvent(eventType string, w model.Window, at time.Time) (Event, error) {
	payload, err := json.Marshal(windowPayload{
		WindowID:   w.ID,
		ProviderID: w.ProviderID,
		DayOfWeek:  int(w.DayOfWeek),
		StartTime:  w.StartTime,
		EndTime:    w.EndTime,
		Active:     w.Active,
		Version:    w.Version,
		OccurredAt: at.UTC(),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateWindow,
		AggregateID:   w.ProviderID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
