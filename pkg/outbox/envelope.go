package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lamcatuk/vy-numbers/pkg/enums"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DomainEvent is the producer-side description of an outbox row.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	Actor         *ActorRef
	Data          interface{}
	Version       int
	OccurredAt    time.Time
}

// Encode validates the event and renders its envelope. The returned id is the
// envelope event id, also used as the row id.
func Encode(event DomainEvent) (uuid.UUID, []byte, error) {
	if !event.EventType.IsValid() {
		return uuid.Nil, nil, errors.New("unknown event type " + string(event.EventType))
	}
	if !event.AggregateType.IsValid() {
		return uuid.Nil, nil, errors.New("unknown aggregate type " + string(event.AggregateType))
	}
	if event.AggregateID == "" {
		return uuid.Nil, nil, errors.New("aggregate id is required")
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if event.Version <= 0 {
		event.Version = 1
	}
	id := uuid.New()
	payload, err := json.Marshal(PayloadEnvelope{
		Version:    event.Version,
		EventID:    id.String(),
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	})
	if err != nil {
		return uuid.Nil, nil, err
	}
	return id, payload, nil
}
