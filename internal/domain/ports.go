package domain

import "context"

// ShippingAddress — адрес доставки в формате провайдера.
type ShippingAddress struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	ZipCode      string `json:"zip_code"`
	City         string `json:"city"`
	State        string `json:"state"`
	Country      string `json:"country"`
	PhoneNumber  string `json:"phone_number,omitempty"`
}

// ProviderProduct — позиция заказа в формате провайдера.
type ProviderProduct struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderRequest — параметры размещения заказа у провайдера.
type CreateOrderRequest struct {
	Products        []ProviderProduct
	ShippingAddress ShippingAddress
	// MaxPriceMinor — верхняя граница цены в минимальных денежных единицах.
	MaxPriceMinor  int64
	ShippingMethod string
	IsGift         bool
	GiftMessage    string
	// IdempotencyKey передаётся провайдеру для дедупликации create-запроса.
	IdempotencyKey string
	// Webhooks — карта "тип события → URL приёмника".
	Webhooks map[string]string
}

// ReturnRequest — параметры запроса на возврат.
type ReturnRequest struct {
	Products      []ProviderProduct
	ReasonCode    string
	MethodCode    string
	Explanation   string
	CancelPending bool
	ReturnAddress *ShippingAddress
	Webhooks      map[string]string
}

// CaseRequest — сообщение в кейс провайдера.
type CaseRequest struct {
	Reason  string
	Message string
}

// ProviderResponse — структурированный ответ провайдера на RPC-вызов.
type ProviderResponse struct {
	// RequestID — идентификатор запроса/под-запроса, выданный провайдером.
	RequestID string
	// CaseID и CaseState заполняются для case-операций.
	CaseID    string
	CaseState string
	// Raw — ответ провайдера как есть, сохраняется в payload под-ресурсов.
	Raw map[string]interface{}
}

// FulfillmentProvider описывает взаимодействие с внешним провайдером исполнения.
// Каждый метод либо возвращает ответ, либо типизированную ошибку провайдера
// с кодом, HTTP-статусом и диагностическими данными.
type FulfillmentProvider interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (ProviderResponse, error)
	Abort(ctx context.Context, requestID string) (ProviderResponse, error)
	Cancel(ctx context.Context, requestID, merchantOrderID string, webhooks map[string]string) (ProviderResponse, error)
	Retry(ctx context.Context, requestID string) (ProviderResponse, error)
	Return(ctx context.Context, requestID string, req ReturnRequest) (ProviderResponse, error)
	CaseGet(ctx context.Context, providerOrderID string) (ProviderResponse, error)
	CaseCreateOrUpdate(ctx context.Context, providerOrderID string, req CaseRequest) (ProviderResponse, error)
	ProductDetails(ctx context.Context, productID string) (ProviderResponse, error)
}
