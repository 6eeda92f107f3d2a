package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Publisher defines an interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// PubSubPublisher is an implementation of Publisher using Google Pub/Sub.
type PubSubPublisher struct {
	client *pubsub.Client
}

// NewPublisher creates a new PubSubPublisher for the given GCP project.
func NewPublisher(ctx context.Context, projectID string, opts ...option.ClientOption) (*PubSubPublisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("failed to create Pub/Sub client: project id is empty")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &PubSubPublisher{client: client}, nil
}

// Publish sends the payload to the given Pub/Sub topic and returns the message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	t := p.client.Topic(topic)
	result := t.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"content_type": "application/json"},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}
	return id, nil
}

func (p *PubSubPublisher) Close() error {
	return p.client.Close()
}

// PlanApplied is emitted after a plan transition commits.
type PlanApplied struct {
	UID          string    `json:"uid"`
	PlanID       string    `json:"plan_id"`
	IsPremium    bool      `json:"is_premium"`
	CreditsTotal int       `json:"credits_total"`
	Source       string    `json:"source"`
	AppliedAt    time.Time `json:"applied_at"`
}

// PlanPublisher announces plan transitions to downstream consumers.
type PlanPublisher interface {
	PublishPlanApplied(ctx context.Context, evt PlanApplied) error
}

type planPublisher struct {
	pub   Publisher
	topic string
}

// NewPlanPublisher encodes plan events as JSON and sends them to topic.
func NewPlanPublisher(pub Publisher, topic string) PlanPublisher {
	return &planPublisher{pub: pub, topic: topic}
}

func (p *planPublisher) PublishPlanApplied(ctx context.Context, evt PlanApplied) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding plan event for user %s: %w", evt.UID, err)
	}
	if _, err := p.pub.Publish(ctx, p.topic, payload); err != nil {
		return err
	}
	return nil
}

// NoopPlanPublisher drops every event. Used when Pub/Sub is not configured.
type NoopPlanPublisher struct{}

func (NoopPlanPublisher) PublishPlanApplied(context.Context, PlanApplied) error { return nil }
