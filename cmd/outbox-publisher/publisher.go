package main

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/outbox/registry"
)

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// keyResumer is implemented by publishers that pause an ordering key after a
// failed publish.
type keyResumer interface {
	ResumePublish(key string)
}

// cachedPublishers opens one ordered publisher per topic.
func cachedPublishers(client pubSubClient) publisherFactory {
	open := map[string]publisher{}
	return func(topic string) publisher {
		if pub, ok := open[topic]; ok {
			return pub
		}
		raw := client.Publisher(topic)
		if raw == nil {
			return nil
		}
		raw.EnableMessageOrdering = true
		pub := &orderedPublisher{p: raw}
		open[topic] = pub
		return pub
	}
}

// slotMessage keys every message by its number so that a sold followed by a
// released for the same slot reaches subscribers in that order.
func slotMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"number":         event.AggregateID,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

type orderedPublisher struct {
	p *gcppubsub.Publisher
}

func (o *orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return pendingPublish{res: o.p.Publish(ctx, msg)}
}

func (o *orderedPublisher) ResumePublish(key string) {
	o.p.ResumePublish(key)
}

type pendingPublish struct {
	res *gcppubsub.PublishResult
}

func (p pendingPublish) Get(ctx context.Context) (string, error) {
	if p.res == nil {
		return "", errors.New("publish result is nil")
	}
	id, err := p.res.Get(ctx)
	return id, classifyPublishError(err)
}

// classifyPublishError marks Pub/Sub refusals that a retry cannot fix.
func classifyPublishError(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition:
		return registry.NewNonRetryableError(err)
	}
	return err
}
