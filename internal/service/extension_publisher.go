package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/pkg/kafka"
	"github.com/mortendir/ticketreserve/pkg/retry"
)

// ExtensionPublisher notifies external extensions and webhooks about
// reservation lifecycle transitions. Delivery is best-effort: callers log
// failures and move on, they never roll back the transition.
type ExtensionPublisher interface {
	PublishReservationConfirmed(ctx context.Context, r *domain.Reservation) error
	PublishReservationCancelled(ctx context.Context, r *domain.Reservation) error
	PublishReservationExpired(ctx context.Context, r *domain.Reservation) error
	PublishReservationStuck(ctx context.Context, r *domain.Reservation) error
	PublishCreditNoteIssued(ctx context.Context, r *domain.Reservation) error

	// Close closes the publisher
	Close() error
}

// KafkaExtensionPublisher implements ExtensionPublisher using Kafka
type KafkaExtensionPublisher struct {
	producer    *kafka.Producer
	topic       string
	serviceName string
	retryCfg    *retry.Config
}

// ExtensionPublisherConfig contains configuration for the publisher
type ExtensionPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// NewKafkaExtensionPublisher creates a new Kafka extension publisher
func NewKafkaExtensionPublisher(ctx context.Context, cfg *ExtensionPublisherConfig) (*KafkaExtensionPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("extension publisher config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "reservation-events"
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "ticketreserve"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      cfg.ClientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaExtensionPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
		retryCfg: &retry.Config{
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	}, nil
}

// PublishReservationConfirmed publishes a confirmation event
func (p *KafkaExtensionPublisher) PublishReservationConfirmed(ctx context.Context, r *domain.Reservation) error {
	return p.publish(ctx, domain.ReservationEventConfirmed, r)
}

// PublishReservationCancelled publishes a cancellation event
func (p *KafkaExtensionPublisher) PublishReservationCancelled(ctx context.Context, r *domain.Reservation) error {
	return p.publish(ctx, domain.ReservationEventCancelled, r)
}

// PublishReservationExpired publishes an expiration event
func (p *KafkaExtensionPublisher) PublishReservationExpired(ctx context.Context, r *domain.Reservation) error {
	return p.publish(ctx, domain.ReservationEventExpired, r)
}

// PublishReservationStuck publishes a stuck-detection event
func (p *KafkaExtensionPublisher) PublishReservationStuck(ctx context.Context, r *domain.Reservation) error {
	return p.publish(ctx, domain.ReservationEventStuck, r)
}

// PublishCreditNoteIssued publishes a credit-note event
func (p *KafkaExtensionPublisher) PublishCreditNoteIssued(ctx context.Context, r *domain.Reservation) error {
	return p.publish(ctx, domain.ReservationEventCreditNote, r)
}

// Close closes the publisher
func (p *KafkaExtensionPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

func (p *KafkaExtensionPublisher) publish(ctx context.Context, eventType domain.ReservationEventType, r *domain.Reservation) error {
	event := &domain.ReservationEvent{
		EventID:       uuid.New().String(),
		Type:          eventType,
		ReservationID: r.ID,
		TicketEventID: r.EventID,
		Status:        r.Status,
		OccurredAt:    time.Now(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.Key()),
		Value: value,
		Headers: map[string]string{
			"event_type":   string(eventType),
			"event_id":     event.EventID,
			"source":       p.serviceName,
			"content_type": "application/json",
		},
		Timestamp: time.Now(),
	}

	if err := retry.Do(ctx, p.retryCfg, func(ctx context.Context) error {
		return p.producer.Produce(ctx, msg)
	}); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	return nil
}

// NoOpExtensionPublisher is a no-op implementation for tests and setups
// without a broker.
type NoOpExtensionPublisher struct{}

// NewNoOpExtensionPublisher creates a new no-op publisher
func NewNoOpExtensionPublisher() *NoOpExtensionPublisher {
	return &NoOpExtensionPublisher{}
}

func (p *NoOpExtensionPublisher) PublishReservationConfirmed(ctx context.Context, r *domain.Reservation) error {
	return nil
}

func (p *NoOpExtensionPublisher) PublishReservationCancelled(ctx context.Context, r *domain.Reservation) error {
	return nil
}

func (p *NoOpExtensionPublisher) PublishReservationExpired(ctx context.Context, r *domain.Reservation) error {
	return nil
}

func (p *NoOpExtensionPublisher) PublishReservationStuck(ctx context.Context, r *domain.Reservation) error {
	return nil
}

func (p *NoOpExtensionPublisher) PublishCreditNoteIssued(ctx context.Context, r *domain.Reservation) error {
	return nil
}

func (p *NoOpExtensionPublisher) Close() error {
	return nil
}

// Ensure both implementations satisfy ExtensionPublisher
var (
	_ ExtensionPublisher = (*KafkaExtensionPublisher)(nil)
	_ ExtensionPublisher = (*NoOpExtensionPublisher)(nil)
)
