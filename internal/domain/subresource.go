package domain

import "time"

// SubresourceStatus — статус провайдерского под-запроса (отмена, возврат).
// Провайдер отчитывается своими терминальными значениями, мы храним их как есть.
const (
	SubresourceStatusPending = "pending"
	CaseStatusOpen           = "open"
)

// Cancellation отслеживает запрос на отмену merchant-заказа у провайдера.
type Cancellation struct {
	ID      int64
	OrderID string
	// RequestID — собственный идентификатор под-запроса у провайдера.
	RequestID       string
	MerchantOrderID string
	Status          string
	Payload         map[string]interface{}
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Return отслеживает запрос на возврат товара.
type Return struct {
	ID        int64
	OrderID   string
	RequestID string
	Status    string
	Payload   map[string]interface{}
	// LabelURLs — ссылки на возвратные этикетки, когда провайдер их выдаёт.
	LabelURLs []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Case — тикет поддержки провайдера, привязанный к заказу.
// На заказ существует не более одного кейса, сообщения накапливаются внутри него.
type Case struct {
	ID        int64
	OrderID   string
	CaseID    string
	Status    string
	Payload   map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}
