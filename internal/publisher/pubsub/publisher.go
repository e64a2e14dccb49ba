// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/api/option"
)

// Publisher publishes raw payloads to Pub/Sub topics, caching one topic
// handle per name.
type Publisher struct {
	client *pubsub.Client
	// propagator overrides the global one; nil means otel's global.
	propagator propagation.TextMapPropagator

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewClient opens a Pub/Sub client for projectID.
func NewClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return client, nil
}

// New creates a Publisher on top of client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Publish sends payload to topic and waits for the server-assigned ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}

	msg := &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"content-type": "application/json"},
	}
	p.propagation().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Topic(name)
	p.topics[name] = t
	return t
}

func (p *Publisher) propagation() propagation.TextMapPropagator {
	if p.propagator != nil {
		return p.propagator
	}
	return otel.GetTextMapPropagator()
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
