// Package events publishes newly created domain mappings to Kafka so other
// proxy instances and offline tooling can follow the registry.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/die-net/samehost/internal/registry"
)

// DomainAdded is the JSON payload of one event.
type DomainAdded struct {
	Name    string    `json:"name"`
	Code    string    `json:"code"`
	AddedAt time.Time `json:"added_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes DomainAdded events keyed by hostname.
type Publisher struct {
	w   messageWriter
	log zerolog.Logger
	now func() time.Time
}

// NewPublisher returns a Publisher writing asynchronously to topic on
// brokers. Delivery failures are logged and never reach the request path.
func NewPublisher(brokers []string, topic string, log zerolog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Int("messages", len(msgs)).Msg("domain events not delivered")
			}
		},
	}
	return newPublisher(w, log)
}

func newPublisher(w messageWriter, log zerolog.Logger) *Publisher {
	return &Publisher{w: w, log: log, now: time.Now}
}

// Publish sends one event for m.
func (p *Publisher) Publish(ctx context.Context, m registry.Mapping) error {
	v, err := json.Marshal(DomainAdded{Name: m.Name, Code: m.Code, AddedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode domain event: %w", err)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(m.Name), Value: v}); err != nil {
		return fmt.Errorf("write domain event: %w", err)
	}
	return nil
}

// Hook adapts Publish to registry.WithInsertHook.
func (p *Publisher) Hook() registry.InsertHook {
	return func(ctx context.Context, m registry.Mapping) {
		if err := p.Publish(ctx, m); err != nil {
			p.log.Warn().Err(err).Str("name", m.Name).Msg("publish domain event")
		}
	}
}

// Close flushes pending events and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
