package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"tradehub/internal/models"
	"tradehub/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes transaction events keyed by entity id so that
// events of one entity stay ordered within a partition
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Publish publishes a TransactionEvent
func (ep *EventPublisher) Publish(ctx context.Context, event *models.TransactionEvent) error {
	key := fmt.Sprintf("%s-%s", event.EntityType, event.EntityID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler decodes transaction events and routes them to a callback
type EventHandler struct {
	onTransaction func(context.Context, *models.TransactionEvent) error
	logger        *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnTransaction registers the handler for every transaction event
func (eh *EventHandler) OnTransaction(handler func(context.Context, *models.TransactionEvent) error) {
	eh.onTransaction = handler
}

// HandleMessage decodes msg and passes it to the registered handler. Payloads
// that cannot be decoded are logged and dropped so they do not block the
// partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.TransactionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		eh.logger.Warn("Dropping undecodable event", zap.Error(err), zap.Int64("offset", msg.Offset))
		return nil
	}
	if event.EventID == "" || event.EventType == "" {
		eh.logger.Warn("Dropping event without id or type", zap.Int64("offset", msg.Offset))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID))

	if eh.onTransaction == nil {
		return nil
	}
	return eh.onTransaction(ctx, &event)
}

// LocalPublisher delivers events straight to a handler in-process. It stands
// in for Kafka when no brokers are configured.
type LocalPublisher struct {
	handle func(context.Context, *models.TransactionEvent) error
}

// NewLocalPublisher creates a publisher calling handle for every event
func NewLocalPublisher(handle func(context.Context, *models.TransactionEvent) error) *LocalPublisher {
	return &LocalPublisher{handle: handle}
}

// Publish hands event to the handler
func (lp *LocalPublisher) Publish(ctx context.Context, event *models.TransactionEvent) error {
	if err := lp.handle(ctx, event); err != nil {
		return fmt.Errorf("failed to handle event locally: %w", err)
	}
	return nil
}
