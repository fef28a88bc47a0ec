package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
	"github.com/lamcatuk/vy-numbers/pkg/outbox/payloads"
)

func TestEventRegistryResolveSlotSold(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventSlotSold,
		AggregateType: enums.AggregateSlot,
		AggregateID:   "0427",
		Payload: mustEnvelope(t, mustMarshal(t, payloads.SlotSoldEvent{
			Number:   "0427",
			OrderRef: "order-1",
			OwnerRef: "owner-1",
		})),
	}

	resolved, err := reg.Resolve(event)
	require.NoError(t, err)
	assert.Equal(t, "slot-events", resolved.Descriptor.Topic)
	payload, ok := resolved.Payload.(*payloads.SlotSoldEvent)
	require.True(t, ok, "unexpected payload type %T", resolved.Payload)
	assert.Equal(t, "order-1", payload.OrderRef)
	assert.NotEmpty(t, resolved.Envelope.EventID)
	assert.False(t, resolved.Envelope.OccurredAt.IsZero())
}

func TestEventRegistryResolveEncodedEvent(t *testing.T) {
	reg := newTestEventRegistry(t)
	id, payload, err := outbox.Encode(outbox.DomainEvent{
		EventType:     enums.EventSlotReleased,
		AggregateType: enums.AggregateSlot,
		AggregateID:   "0001",
		Data:          payloads.SlotReleasedEvent{Number: "0001", PreviousStatus: "sold", Reason: "admin"},
	})
	require.NoError(t, err)

	resolved, err := reg.Resolve(models.OutboxEvent{
		ID:            id,
		EventType:     enums.EventSlotReleased,
		AggregateType: enums.AggregateSlot,
		AggregateID:   "0001",
		Payload:       payload,
	})
	require.NoError(t, err)
	assert.Equal(t, id.String(), resolved.Envelope.EventID)
	assert.Equal(t, 1, resolved.Envelope.Version)
}

func TestEventRegistryRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("slot.renamed"),
			AggregateType: enums.AggregateSlot,
			AggregateID:   "0001",
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventSlotSold,
			AggregateType: enums.OutboxAggregateType("order"),
			AggregateID:   "0001",
			Payload:       mustEnvelope(t, []byte(`{"number":"0001"}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventSlotSold,
			AggregateType: enums.AggregateSlot,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventSlotSold,
			AggregateType: enums.AggregateSlot,
			AggregateID:   "0001",
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"number mismatch": {
			EventType:     enums.EventSlotSold,
			AggregateType: enums.AggregateSlot,
			AggregateID:   "0001",
			Payload:       mustEnvelope(t, []byte(`{"number":"0002"}`)),
		},
		"broken envelope": {
			EventType:     enums.EventSlotSold,
			AggregateType: enums.AggregateSlot,
			AggregateID:   "0001",
			Payload:       json.RawMessage(`{"version":`),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			require.Error(t, err)
			var nonRetry NonRetryableError
			assert.True(t, errors.As(err, &nonRetry), "expected non-retryable error, got %T", err)
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	assert.Error(t, err)

	reg := newTestEventRegistry(t)
	assert.Equal(t, []string{"slot-events"}, reg.Topics())
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{SlotEventsTopic: "slot-events"})
	require.NoError(t, err)
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	})
	require.NoError(t, err)
	return data
}
