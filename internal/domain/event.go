package domain

import "time"

// EventType классифицирует входящий вебхук провайдера.
type EventType string

const (
	// EventTypeRequestSucceeded — провайдер подтвердил успешное размещение заказа.
	EventTypeRequestSucceeded EventType = "request_succeeded"
	// EventTypeRequestFailed — провайдер сообщил об ошибке запроса.
	EventTypeRequestFailed EventType = "request_failed"
	// EventTypeTrackingUpdated — успешный ответ с хотя бы одним трекингом.
	EventTypeTrackingUpdated EventType = "tracking_updated"
	// EventTypeStatusUpdated — вебхук неизвестной формы (catch-all).
	EventTypeStatusUpdated EventType = "status_updated"
	// EventTypeCaseUpdated — обновление кейса (тикета) по заказу.
	EventTypeCaseUpdated EventType = "case_updated"
)

// Valid проверяет, что тип события относится к поддерживаемым значениям.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeRequestSucceeded, EventTypeRequestFailed, EventTypeTrackingUpdated,
		EventTypeStatusUpdated, EventTypeCaseUpdated:
		return true
	default:
		return false
	}
}

// OrderEvent — append-only запись о каждом принятом вебхуке.
// События никогда не изменяются и не удаляются.
type OrderEvent struct {
	ID      int64
	OrderID string
	Type    EventType
	// RawBody — тело вебхука как получено, для аудита и replay.
	RawBody    []byte
	ReceivedAt time.Time
}
