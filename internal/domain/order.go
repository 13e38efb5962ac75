package domain

import "time"

// OrderStatus описывает жизненный цикл заказа у внешнего провайдера.
type OrderStatus string

const (
	// OrderStatusProcessing — заказ отправлен провайдеру, подтверждение ещё не получено.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusPlaced — провайдер подтвердил размещение заказа у ритейлера.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusDelivered — все трекинги заказа сообщили о доставке.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusFailed — провайдер вернул ошибку размещения.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusAborted — заказ прерван до размещения по запросу пользователя.
	OrderStatusAborted OrderStatus = "aborted"
	// OrderStatusAttemptingToCancel — провайдер пытается отменить уже размещённый заказ.
	OrderStatusAttemptingToCancel OrderStatus = "attempting_to_cancel"
	// OrderStatusCancelled — отмена подтверждена провайдером.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusPlaced, OrderStatusDelivered,
		OrderStatusFailed, OrderStatusAborted, OrderStatusAttemptingToCancel,
		OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Order агрегирует состояние заказа, размещённого через провайдера.
type Order struct {
	ID string
	// RequestID — идентификатор, выданный провайдером; ключ для всех входящих вебхуков.
	RequestID string
	UserID    string
	// ASINList — идентификаторы товаров, попавших в заказ.
	ASINList []string
	Status   OrderStatus
	// Payload — последний полный снапшот состояния от провайдера (jsonb).
	Payload map[string]interface{}
	// IdempotencyKey защищает от дублирования create-запроса к провайдеру.
	IdempotencyKey string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanAbort — abort допустим, пока заказ не достиг терминального состояния.
func (o *Order) CanAbort() bool {
	switch o.Status {
	case OrderStatusDelivered, OrderStatusFailed, OrderStatusAborted, OrderStatusCancelled:
		return false
	default:
		return true
	}
}

// CanCancel — отмена возможна только для размещённого заказа
// (повторный запрос при attempting_to_cancel разрешён).
func (o *Order) CanCancel() bool {
	return o.Status == OrderStatusPlaced || o.Status == OrderStatusAttemptingToCancel
}

// CanRetry — повторить можно только заказ, завершившийся ошибкой.
func (o *Order) CanRetry() bool {
	return o.Status == OrderStatusFailed
}

// CanReturn — возврат оформляется для размещённого или доставленного заказа.
func (o *Order) CanReturn() bool {
	return o.Status == OrderStatusPlaced || o.Status == OrderStatusDelivered
}

// ProviderOrderID возвращает внутренний идентификатор заказа на стороне
// провайдера из последнего снапшота. Case-операции адресуются именно им;
// до первого успешного вебхука используется RequestID.
func (o *Order) ProviderOrderID() string {
	if o.Payload != nil {
		if id, ok := o.Payload["order_id"].(string); ok && id != "" {
			return id
		}
	}
	return o.RequestID
}
