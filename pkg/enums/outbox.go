package enums

import "slices"

type OutboxAggregateType string

const AggregateSlot OutboxAggregateType = "slot"

func (a OutboxAggregateType) IsValid() bool { return a == AggregateSlot }

// OutboxEventType is the routing key of an outbox row.
type OutboxEventType string

const (
	EventSlotSold     OutboxEventType = "slot.sold"
	EventSlotReleased OutboxEventType = "slot.released"
)

var outboxEventTypes = []OutboxEventType{EventSlotSold, EventSlotReleased}

func (e OutboxEventType) IsValid() bool { return slices.Contains(outboxEventTypes, e) }

func ParseOutboxEventType(raw string) (OutboxEventType, error) {
	return parse(raw, "event type", outboxEventTypes)
}

// OutboxDLQErrorReason records why a slot event left the outbox unpublished.
type OutboxDLQErrorReason string

const (
	// row could not be decoded, or its event type has no topic
	OutboxDLQReasonUnroutable OutboxDLQErrorReason = "unroutable"
	// Pub/Sub refused the message permanently
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)

var dlqReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonUnroutable,
	OutboxDLQReasonNonRetryable,
	OutboxDLQReasonMaxAttempts,
}

func (r OutboxDLQErrorReason) IsValid() bool { return slices.Contains(dlqReasons, r) }
