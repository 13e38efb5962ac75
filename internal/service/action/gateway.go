package action

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/zinc"
)

// Имена действий для ошибок, логов и метрик.
const (
	ActionCreate  = "create"
	ActionAbort   = "abort"
	ActionCancel  = "cancel"
	ActionRetry   = "retry"
	ActionReturn  = "return"
	ActionCase    = "case"
	ActionProduct = "product"
)

const (
	saveRetries   = 3
	saveRetryBase = 10 * time.Millisecond
)

const (
	resultOK            = "ok"
	resultRejected      = "rejected"
	resultProviderError = "provider_error"
)

// Gateway выполняет действия пользователя над заказами: проверяет, что
// текущий статус допускает действие, вызывает провайдера и фиксирует
// результат. Состояние заказа мутируется только после успешного ответа
// провайдера, поэтому частичного применения не бывает.
type Gateway struct {
	orders        domain.OrderRepository
	cancellations domain.CancellationRepository
	returns       domain.ReturnRepository
	cases         domain.CaseRepository
	provider      domain.FulfillmentProvider

	// webhookURL — адрес intake-эндпоинта, передаётся провайдеру
	// во всех webhooks-блоках.
	webhookURL string

	logger        *log.Entry
	metrics       *metrics.FulfillmentMetrics
	kafkaProducer *kafka.Producer
}

// Config собирает зависимости Gateway.
type Config struct {
	Orders        domain.OrderRepository
	Cancellations domain.CancellationRepository
	Returns       domain.ReturnRepository
	Cases         domain.CaseRepository
	Provider      domain.FulfillmentProvider
	WebhookURL    string
	Logger        *log.Entry
	// KafkaProducer опционален; nil отключает публикацию событий.
	KafkaProducer *kafka.Producer
	// DisableMetrics отключает регистрацию метрик (для тестов).
	DisableMetrics bool
}

// NewGateway создаёт Gateway.
func NewGateway(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New().WithField("component", "action-gateway")
	}
	g := &Gateway{
		orders:        cfg.Orders,
		cancellations: cfg.Cancellations,
		returns:       cfg.Returns,
		cases:         cfg.Cases,
		provider:      cfg.Provider,
		webhookURL:    cfg.WebhookURL,
		logger:        logger,
		kafkaProducer: cfg.KafkaProducer,
	}
	if !cfg.DisableMetrics {
		g.metrics = metrics.NewFulfillmentMetrics()
	}
	return g
}

// CreateResult — результат размещения заказа.
type CreateResult struct {
	Order domain.Order
}

// Create размещает заказ у провайдера и сохраняет его в статусе processing.
// Дальше заказ живёт только за счёт вебхуков и действий пользователя.
func (g *Gateway) Create(ctx context.Context, userID string, req domain.CreateOrderRequest) (CreateResult, error) {
	if len(req.Products) == 0 {
		return CreateResult{}, domain.ErrProductsRequired
	}
	if req.MaxPriceMinor <= 0 {
		return CreateResult{}, domain.ErrMaxPriceInvalid
	}
	if req.ShippingMethod == "" {
		req.ShippingMethod = "cheapest"
	}
	req.IdempotencyKey = uuid.NewString()
	req.Webhooks = g.webhookTargets()

	resp, err := g.callProvider(ctx, ActionCreate, func(ctx context.Context) (domain.ProviderResponse, error) {
		return g.provider.CreateOrder(ctx, req)
	})
	if err != nil {
		return CreateResult{}, err
	}

	now := time.Now().UTC()
	asins := make([]string, 0, len(req.Products))
	for _, product := range req.Products {
		asins = append(asins, product.ProductID)
	}
	order := domain.Order{
		ID:        uuid.NewString(),
		RequestID: resp.RequestID,
		UserID:    userID,
		ASINList:  asins,
		Status:    domain.OrderStatusProcessing,
		Payload: map[string]interface{}{
			"retailer":        "amazon",
			"products":        req.Products,
			"shipping_method": req.ShippingMethod,
			"max_price":       req.MaxPriceMinor,
			"idempotency_key": req.IdempotencyKey,
		},
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := g.orders.Create(order); err != nil {
		g.logger.WithError(err).WithField("request_id", resp.RequestID).Error("failed to persist created order")
		return CreateResult{}, err
	}

	g.recordAction(ActionCreate, resultOK)
	g.publishEvent(kafka.EventTypeOrderCreated, order, nil)
	g.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"request_id": order.RequestID,
	}).Info("order created")

	return CreateResult{Order: order}, nil
}

// Abort прерывает заказ, который ещё не достиг терминального состояния.
func (g *Gateway) Abort(ctx context.Context, requestID string) (domain.Order, error) {
	order, err := g.orders.GetByRequestID(requestID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.CanAbort() {
		g.recordAction(ActionAbort, resultRejected)
		return domain.Order{}, &domain.PreconditionError{Action: ActionAbort, Current: order.Status}
	}

	if _, err := g.callProvider(ctx, ActionAbort, func(ctx context.Context) (domain.ProviderResponse, error) {
		return g.provider.Abort(ctx, requestID)
	}); err != nil {
		// Провайдер сам знает, что заказ уже исполнен: переводим его отказ
		// в precondition-семантику вместо сырого кода.
		switch zinc.ErrorCode(err) {
		case zinc.CodeOrderAlreadyCompleted, zinc.CodeOrderCannotBeAborted:
			g.recordAction(ActionAbort, resultRejected)
			return domain.Order{}, &domain.PreconditionError{Action: ActionAbort, Current: order.Status}
		}
		return domain.Order{}, err
	}

	order, err = g.applyTransition(ActionAbort, order, domain.OrderStatusAborted, func(o domain.Order) bool {
		return o.CanAbort()
	})
	if err != nil {
		return domain.Order{}, err
	}

	g.recordAction(ActionAbort, resultOK)
	g.recordTransition(order.Status)
	g.publishEvent(kafka.EventTypeOrderAborted, order, nil)
	return order, nil
}

// CancelResult — результат запроса отмены.
type CancelResult struct {
	Order        domain.Order
	Cancellation domain.Cancellation
}

// Cancel запрашивает отмену merchant-заказа у провайдера. Заказ переходит
// в attempting_to_cancel; подтверждение отмены придёт вебхуком.
func (g *Gateway) Cancel(ctx context.Context, requestID, merchantOrderID string) (CancelResult, error) {
	if merchantOrderID == "" {
		return CancelResult{}, domain.ErrMerchantOrderIDRequired
	}
	order, err := g.orders.GetByRequestID(requestID)
	if err != nil {
		return CancelResult{}, err
	}
	if !order.CanCancel() {
		g.recordAction(ActionCancel, resultRejected)
		return CancelResult{}, &domain.PreconditionError{Action: ActionCancel, Current: order.Status}
	}

	resp, err := g.callProvider(ctx, ActionCancel, func(ctx context.Context) (domain.ProviderResponse, error) {
		return g.provider.Cancel(ctx, requestID, merchantOrderID, g.webhookTargets())
	})
	if err != nil {
		return CancelResult{}, err
	}

	// Переход заказа и запись об отмене фиксируются одной атомарной
	// операцией: гонка с вебхуком не оставляет осиротевшей отмены.
	var cancellation domain.Cancellation
	for attempt := 0; ; attempt++ {
		now := time.Now().UTC()
		updated := order
		updated.Status = domain.OrderStatusAttemptingToCancel
		updated.UpdatedAt = now

		cancellation, err = g.orders.SaveWithCancellation(updated, domain.Cancellation{
			OrderID:         order.ID,
			RequestID:       resp.RequestID,
			MerchantOrderID: merchantOrderID,
			Status:          domain.SubresourceStatusPending,
			Payload:         map[string]interface{}{"response": resp.Raw},
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err == nil {
			updated.Version++
			order = updated
			break
		}

		order, err = g.reloadOnConflict(ActionCancel, order, err, attempt, func(o domain.Order) bool {
			return o.CanCancel()
		})
		if err != nil {
			return CancelResult{}, err
		}
	}

	g.recordAction(ActionCancel, resultOK)
	g.recordTransition(order.Status)
	g.publishEvent(kafka.EventTypeOrderCancelRequested, order, map[string]interface{}{
		"cancellation_request_id": resp.RequestID,
	})
	return CancelResult{Order: order, Cancellation: cancellation}, nil
}

// Retry повторяет заказ, завершившийся ошибкой, и возвращает его в processing.
func (g *Gateway) Retry(ctx context.Context, requestID string) (domain.Order, error) {
	order, err := g.orders.GetByRequestID(requestID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.CanRetry() {
		g.recordAction(ActionRetry, resultRejected)
		return domain.Order{}, &domain.PreconditionError{Action: ActionRetry, Current: order.Status}
	}

	if _, err := g.callProvider(ctx, ActionRetry, func(ctx context.Context) (domain.ProviderResponse, error) {
		return g.provider.Retry(ctx, requestID)
	}); err != nil {
		return domain.Order{}, err
	}

	order, err = g.applyTransition(ActionRetry, order, domain.OrderStatusProcessing, func(o domain.Order) bool {
		return o.CanRetry()
	})
	if err != nil {
		return domain.Order{}, err
	}

	g.recordAction(ActionRetry, resultOK)
	g.recordTransition(order.Status)
	g.publishEvent(kafka.EventTypeOrderRetried, order, nil)
	return order, nil
}

// ReturnResult — результат запроса возврата.
type ReturnResult struct {
	Return domain.Return
}

// Return оформляет возврат. Статус заказа не меняется: возврат живёт как
// отдельный под-ресурс со своим request_id.
func (g *Gateway) Return(ctx context.Context, requestID string, req domain.ReturnRequest) (ReturnResult, error) {
	if len(req.Products) == 0 {
		return ReturnResult{}, domain.ErrProductsRequired
	}
	order, err := g.orders.GetByRequestID(requestID)
	if err != nil {
		return ReturnResult{}, err
	}
	if !order.CanReturn() {
		g.recordAction(ActionReturn, resultRejected)
		return ReturnResult{}, &domain.PreconditionError{Action: ActionReturn, Current: order.Status}
	}

	req.Webhooks = g.webhookTargets()
	resp, err := g.callProvider(ctx, ActionReturn, func(ctx context.Context) (domain.ProviderResponse, error) {
		return g.provider.Return(ctx, requestID, req)
	})
	if err != nil {
		if zinc.ErrorCode(err) == zinc.CodeReturnInProgress {
			g.recordAction(ActionReturn, resultRejected)
			return ReturnResult{}, errors.Join(domain.ErrReturnInProgress, err)
		}
		return ReturnResult{}, err
	}

	now := time.Now().UTC()
	ret, err := g.returns.Create(domain.Return{
		OrderID:   order.ID,
		RequestID: resp.RequestID,
		Status:    domain.SubresourceStatusPending,
		Payload:   map[string]interface{}{"response": resp.Raw},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return ReturnResult{}, err
	}

	g.recordAction(ActionReturn, resultOK)
	g.publishEvent(kafka.EventTypeReturnRequested, order, map[string]interface{}{
		"return_request_id": resp.RequestID,
	})
	return ReturnResult{Return: ret}, nil
}

// CaseResult — состояние кейса после операции.
type CaseResult struct {
	Case     domain.Case
	Response domain.ProviderResponse
}

// CaseGet опрашивает провайдера о состоянии кейса и синхронизирует
// локальную запись.
func (g *Gateway) CaseGet(ctx context.Context, requestID string) (CaseResult, error) {
	order, err := g.orders.GetByRequestID(requestID)
	if err != nil {
		return CaseResult{}, err
	}

	resp, err := g.callProvider(ctx, ActionCase, func(ctx context.Context) (domain.ProviderResponse, error) {
		return g.provider.CaseGet(ctx, order.ProviderOrderID())
	})
	if err != nil {
		return CaseResult{}, err
	}

	c, err := g.syncCase(order, resp)
	if err != nil {
		return CaseResult{}, err
	}
	g.recordAction(ActionCase, resultOK)
	return CaseResult{Case: c, Response: resp}, nil
}

// CaseCreateOrUpdate создаёт кейс или добавляет сообщение в существующий.
// Кейс допустим в любом статусе заказа.
func (g *Gateway) CaseCreateOrUpdate(ctx context.Context, requestID string, req domain.CaseRequest) (CaseResult, error) {
	if req.Message == "" {
		return CaseResult{}, domain.ErrMessageRequired
	}
	order, err := g.orders.GetByRequestID(requestID)
	if err != nil {
		return CaseResult{}, err
	}

	resp, err := g.callProvider(ctx, ActionCase, func(ctx context.Context) (domain.ProviderResponse, error) {
		return g.provider.CaseCreateOrUpdate(ctx, order.ProviderOrderID(), req)
	})
	if err != nil {
		return CaseResult{}, err
	}

	c, err := g.syncCase(order, resp)
	if err != nil {
		return CaseResult{}, err
	}
	g.recordAction(ActionCase, resultOK)
	return CaseResult{Case: c, Response: resp}, nil
}

// ProductDetails запрашивает у провайдера карточку товара как есть.
func (g *Gateway) ProductDetails(ctx context.Context, productID string) (domain.ProviderResponse, error) {
	if productID == "" {
		return domain.ProviderResponse{}, domain.ErrProductIDRequired
	}

	resp, err := g.callProvider(ctx, ActionProduct, func(ctx context.Context) (domain.ProviderResponse, error) {
		return g.provider.ProductDetails(ctx, productID)
	})
	if err != nil {
		return domain.ProviderResponse{}, err
	}

	g.recordAction(ActionProduct, resultOK)
	return resp, nil
}

// applyTransition сохраняет смену статуса с повтором при гонке с вебхуком.
func (g *Gateway) applyTransition(action string, order domain.Order, target domain.OrderStatus, gate func(domain.Order) bool) (domain.Order, error) {
	for attempt := 0; ; attempt++ {
		updated := order
		updated.Status = target
		updated.UpdatedAt = time.Now().UTC()

		err := g.orders.Save(updated)
		if err == nil {
			updated.Version++
			return updated, nil
		}

		order, err = g.reloadOnConflict(action, order, err, attempt, gate)
		if err != nil {
			return domain.Order{}, err
		}
	}
}

// reloadOnConflict перечитывает заказ после конфликта версий и заново
// проверяет гейт: выигравший гонку вебхук мог перевести заказ в статус,
// где действие уже недопустимо.
func (g *Gateway) reloadOnConflict(action string, order domain.Order, saveErr error, attempt int, gate func(domain.Order) bool) (domain.Order, error) {
	if !domain.IsVersionConflict(saveErr) || attempt >= saveRetries-1 {
		return domain.Order{}, saveErr
	}

	g.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"action":   action,
		"attempt":  attempt + 1,
	}).Warn("version conflict detected, retrying")

	fresh, err := g.orders.Get(order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if !gate(fresh) {
		g.recordAction(action, resultRejected)
		return domain.Order{}, &domain.PreconditionError{Action: action, Current: fresh.Status}
	}

	time.Sleep(saveRetryBase * time.Duration(1<<uint(attempt)))
	return fresh, nil
}

// syncCase приводит локальную запись кейса к ответу провайдера.
func (g *Gateway) syncCase(order domain.Order, resp domain.ProviderResponse) (domain.Case, error) {
	status := resp.CaseState
	if status == "" {
		status = domain.CaseStatusOpen
	}
	now := time.Now().UTC()
	return g.cases.Upsert(domain.Case{
		OrderID:   order.ID,
		CaseID:    resp.CaseID,
		Status:    status,
		Payload:   resp.Raw,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// callProvider оборачивает RPC-вызов метриками и единым логированием.
func (g *Gateway) callProvider(
	ctx context.Context,
	action string,
	call func(ctx context.Context) (domain.ProviderResponse, error),
) (domain.ProviderResponse, error) {
	start := time.Now()
	resp, err := call(ctx)
	if g.metrics != nil {
		g.metrics.RecordProviderDuration(action, time.Since(start))
	}
	if err != nil {
		g.recordAction(action, resultProviderError)
		g.logger.WithError(err).WithField("action", action).Warn("provider call failed")
		return domain.ProviderResponse{}, err
	}
	return resp, nil
}

// webhookTargets строит webhooks-блок провайдера: все типы событий
// направляются в один intake-эндпоинт.
func (g *Gateway) webhookTargets() map[string]string {
	if g.webhookURL == "" {
		return nil
	}
	return map[string]string{
		"request_succeeded": g.webhookURL,
		"request_failed":    g.webhookURL,
		"tracking_updated":  g.webhookURL,
		"tracking_obtained": g.webhookURL,
		"status_updated":    g.webhookURL,
		"case_updated":      g.webhookURL,
	}
}

func (g *Gateway) recordAction(action, result string) {
	if g.metrics != nil {
		g.metrics.RecordAction(action, result)
	}
}

func (g *Gateway) recordTransition(status domain.OrderStatus) {
	if g.metrics != nil {
		g.metrics.RecordStatusTransition(string(status))
	}
}

func (g *Gateway) publishEvent(eventType kafka.EventType, order domain.Order, metadata map[string]interface{}) {
	if g.kafkaProducer == nil {
		return
	}
	event := kafka.NewOrderEvent(eventType, order.ID, order.RequestID, string(order.Status), metadata)
	if err := g.kafkaProducer.PublishOrderEvent(event); err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"order_id":   order.ID,
			"event_type": eventType,
		}).Warn("failed to publish order event to kafka")
	}
}
