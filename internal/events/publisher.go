package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/fosten-shop/fosten-orders-service/internal/config"
	"github.com/fosten-shop/fosten-orders-service/internal/interfaces"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/middleware"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

// Ensure KafkaPublisher implements interfaces.OrderEventPublisher
var _ interfaces.OrderEventPublisher = (*KafkaPublisher)(nil)

// EventType represents the type of order event.
type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderApproved      EventType = "order.approved"
)

// OrderEvent is the envelope consumed by notification and delivery services.
type OrderEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	OrderID       string            `json:"order_id"`
	UserID        string            `json:"user_id"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// StatusChange is the payload of order.status_changed.
type StatusChange struct {
	Order          *models.Order      `json:"order"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	NewStatus      models.OrderStatus `json:"new_status"`
	Source         string             `json:"source"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes order events to Kafka.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logging.Logger
}

// NewKafkaPublisher creates a new Kafka-based event publisher.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *logging.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.OrdersTopic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return newPublisher(writer, cfg.OrdersTopic, logger)
}

func newPublisher(writer messageWriter, topic string, logger *logging.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		logger: logger.Named("event-publisher"),
	}
}

// PublishOrderCreated publishes an order created event.
func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}

	return p.publish(ctx, p.createEvent(ctx, EventTypeOrderCreated, order, data))
}

// PublishOrderStatusChanged publishes an order status change event.
func (p *KafkaPublisher) PublishOrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus, source string) error {
	data, err := json.Marshal(StatusChange{
		Order:          order,
		PreviousStatus: from,
		NewStatus:      order.Status,
		Source:         source,
	})
	if err != nil {
		return err
	}

	event := p.createEvent(ctx, EventTypeOrderStatusChanged, order, data)
	event.Metadata["source"] = source
	return p.publish(ctx, event)
}

// PublishOrderApproved publishes an admin approval event.
func (p *KafkaPublisher) PublishOrderApproved(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}

	return p.publish(ctx, p.createEvent(ctx, EventTypeOrderApproved, order, data))
}

func (p *KafkaPublisher) createEvent(ctx context.Context, eventType EventType, order *models.Order, data []byte) *OrderEvent {
	return &OrderEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Data:          data,
		Metadata:      map[string]string{"status": string(order.Status)},
		Timestamp:     time.Now().UTC(),
		CorrelationID: middleware.RequestIDFromContext(ctx),
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, event *OrderEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: eventData,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event", logging.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"error":      err.Error(),
		})
		return err
	}

	p.logger.Info("Event published", logging.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
		"topic":      p.topic,
	})

	return nil
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	return p.writer.Close()
}
