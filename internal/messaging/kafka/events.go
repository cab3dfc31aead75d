package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Saga события
	EventTypeSagaStarted   EventType = "saga.started"
	EventTypeSagaCompleted EventType = "saga.completed"
	EventTypeSagaFailed    EventType = "saga.failed"
	EventTypeSagaCanceled  EventType = "saga.canceled"

	// Order события
	EventTypeOrderCreated  EventType = "order.created"
	EventTypeOrderFailed   EventType = "order.failed"
	EventTypeOrderCanceled EventType = "order.canceled"

	// Step события
	EventTypeStepReserved EventType = "step.reserved"
	EventTypeStepPromoted EventType = "step.promoted"
	EventTypeStepShipped  EventType = "step.shipped"
)

// Topics для Kafka
const (
	TopicSagaEvents      = "retail.saga.events"
	TopicOrderEvents     = "retail.order.events"
	TopicDeadLetterQueue = "retail.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// SagaEvent представляет событие саги
type SagaEvent struct {
	EventType   EventType              `json:"event_type"`
	OrderNumber string                 `json:"order_number"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType   EventType              `json:"event_type"`
	OrderNumber string                 `json:"order_number"`
	CustomerID  string                 `json:"customer_id"`
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewSagaEvent создает новое событие саги
func NewSagaEvent(eventType EventType, orderNumber string, metadata map[string]interface{}) *SagaEvent {
	return &SagaEvent{
		EventType:   eventType,
		OrderNumber: orderNumber,
		Timestamp:   time.Now(),
		Metadata:    metadata,
	}
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderNumber, customerID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:   eventType,
		OrderNumber: orderNumber,
		CustomerID:  customerID,
		Status:      status,
		Timestamp:   time.Now(),
		Metadata:    metadata,
	}
}
