package kafka

import "time"

// EventType определяет тип публикуемого события.
type EventType string

const (
	// Lifecycle события заказа
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"

	// Action события
	EventTypeOrderAborted         EventType = "order.aborted"
	EventTypeOrderCancelRequested EventType = "order.cancel_requested"
	EventTypeOrderRetried         EventType = "order.retried"
	EventTypeReturnRequested      EventType = "order.return_requested"

	// Webhook события
	EventTypeWebhookReceived EventType = "webhook.received"
)

// TopicOrderEvents — единственный топик сервиса: все события жизненного
// цикла заказов публикуются в него с ключом по ID заказа.
const TopicOrderEvents = "fulfillment.order.events"

// OrderEvent представляет событие жизненного цикла заказа.
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	RequestID string                 `json:"request_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа.
func NewOrderEvent(eventType EventType, orderID, requestID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		RequestID: requestID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
