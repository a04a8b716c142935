package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/bazario/commerce-core/internal/services"
)

// PubSubPublisher broadcasts domain events on a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed domain event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type eventEnvelope struct {
	Type       string         `json:"type"`
	OccurredAt string         `json:"occurredAt"`
	ActorID    string         `json:"actorId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Publish serialises the event and enqueues it on the configured topic.
// The event type rides along as a message attribute so subscribers can filter
// without decoding the payload.
func (p *PubSubPublisher) Publish(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(eventEnvelope{
		Type:       event.Type,
		OccurredAt: event.OccurredAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ActorID:    strings.TrimSpace(event.ActorID),
		Payload:    event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal domain event: %w", err)
	}

	attrs := map[string]string{"eventType": event.Type}
	if actor := strings.TrimSpace(event.ActorID); actor != "" {
		attrs["actorId"] = actor
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish domain event %s: %w", event.Type, err)
	}
	return nil
}
