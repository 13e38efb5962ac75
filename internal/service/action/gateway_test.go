package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/zinc"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.ErrorLevel)
	return logger.WithField("component", "test")
}

type fixture struct {
	gateway       *Gateway
	orders        domain.OrderRepository
	cancellations domain.CancellationRepository
	returns       domain.ReturnRepository
	cases         domain.CaseRepository
	provider      *zinc.MockClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cancellations := memory.NewCancellationRepository()
	return newFixtureWith(t, memory.NewOrderRepositoryWithCancellations(cancellations), cancellations)
}

func newFixtureWith(t *testing.T, orders domain.OrderRepository, cancellations domain.CancellationRepository) *fixture {
	t.Helper()

	returns := memory.NewReturnRepository()
	cases := memory.NewCaseRepository()
	provider := zinc.NewMockClient()

	gateway := NewGateway(Config{
		Orders:         orders,
		Cancellations:  cancellations,
		Returns:        returns,
		Cases:          cases,
		Provider:       provider,
		WebhookURL:     "https://fulfillment.example.com/api/webhooks/zinc",
		Logger:         loggerForTests(),
		DisableMetrics: true,
	})

	return &fixture{
		gateway:       gateway,
		orders:        orders,
		cancellations: cancellations,
		returns:       returns,
		cases:         cases,
		provider:      provider,
	}
}

// racingOrderRepository вклинивает конкурентную запись перед сохранением,
// имитируя вебхук, обгоняющий действие пользователя.
type racingOrderRepository struct {
	domain.OrderRepository

	t      *testing.T
	races  int
	mutate func(order domain.Order) domain.Order
}

func (r *racingOrderRepository) race(id string) {
	if r.races <= 0 {
		return
	}
	r.races--

	fresh, err := r.OrderRepository.Get(id)
	if err != nil {
		r.t.Fatalf("race: get order: %v", err)
	}
	if err := r.OrderRepository.Save(r.mutate(fresh)); err != nil {
		r.t.Fatalf("race: save order: %v", err)
	}
}

func (r *racingOrderRepository) Save(order domain.Order) error {
	r.race(order.ID)
	return r.OrderRepository.Save(order)
}

func (r *racingOrderRepository) SaveWithCancellation(order domain.Order, c domain.Cancellation) (domain.Cancellation, error) {
	r.race(order.ID)
	return r.OrderRepository.SaveWithCancellation(order, c)
}

func newRacingFixture(t *testing.T, races int, mutate func(order domain.Order) domain.Order) *fixture {
	t.Helper()

	cancellations := memory.NewCancellationRepository()
	orders := &racingOrderRepository{
		OrderRepository: memory.NewOrderRepositoryWithCancellations(cancellations),
		t:               t,
		races:           races,
		mutate:          mutate,
	}
	return newFixtureWith(t, orders, cancellations)
}

func (f *fixture) seedOrder(t *testing.T, status domain.OrderStatus) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:        "order-1",
		RequestID: "req-1",
		UserID:    "user-1",
		ASINList:  []string{"B000000001"},
		Status:    status,
		Payload:   map[string]interface{}{"retailer": "amazon"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.orders.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestGateway_Create(t *testing.T) {
	f := newFixture(t)
	f.provider.CreateResp = domain.ProviderResponse{RequestID: "req-new"}

	result, err := f.gateway.Create(context.Background(), "user-1", domain.CreateOrderRequest{
		Products:      []domain.ProviderProduct{{ProductID: "B000000001", Quantity: 1}},
		MaxPriceMinor: 12500,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	order := result.Order
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("status = %s, want processing", order.Status)
	}
	if order.RequestID != "req-new" {
		t.Errorf("request_id = %s, want req-new", order.RequestID)
	}
	if order.IdempotencyKey == "" {
		t.Error("idempotency key must be generated")
	}
	if len(order.ASINList) != 1 || order.ASINList[0] != "B000000001" {
		t.Errorf("asin list = %v", order.ASINList)
	}

	stored, err := f.orders.GetByRequestID("req-new")
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if stored.ID != order.ID {
		t.Errorf("stored order mismatch: %s vs %s", stored.ID, order.ID)
	}
}

func TestGateway_Create_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  domain.CreateOrderRequest
		want error
	}{
		{
			name: "no products",
			req:  domain.CreateOrderRequest{MaxPriceMinor: 100},
			want: domain.ErrProductsRequired,
		},
		{
			name: "zero max price",
			req: domain.CreateOrderRequest{
				Products: []domain.ProviderProduct{{ProductID: "B000000001", Quantity: 1}},
			},
			want: domain.ErrMaxPriceInvalid,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.gateway.Create(context.Background(), "user-1", tc.req)
			if !errors.Is(err, tc.want) {
				t.Errorf("Create() error = %v, want %v", err, tc.want)
			}
		})
	}

	if f.provider.CreateCalls != 0 {
		t.Errorf("provider called %d times on invalid input", f.provider.CreateCalls)
	}
}

func TestGateway_Abort_Gating(t *testing.T) {
	tests := []struct {
		status  domain.OrderStatus
		allowed bool
	}{
		{domain.OrderStatusProcessing, true},
		{domain.OrderStatusPlaced, true},
		{domain.OrderStatusAttemptingToCancel, true},
		{domain.OrderStatusDelivered, false},
		{domain.OrderStatusFailed, false},
		{domain.OrderStatusAborted, false},
		{domain.OrderStatusCancelled, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			f := newFixture(t)
			f.seedOrder(t, tc.status)

			order, err := f.gateway.Abort(context.Background(), "req-1")
			if tc.allowed {
				if err != nil {
					t.Fatalf("Abort: %v", err)
				}
				if order.Status != domain.OrderStatusAborted {
					t.Errorf("status = %s, want aborted", order.Status)
				}
				return
			}

			if !domain.IsPrecondition(err) {
				t.Fatalf("Abort() error = %v, want precondition error", err)
			}
			// Гейт срабатывает до похода к провайдеру.
			if f.provider.AbortCalls != 0 {
				t.Errorf("provider called for %s order", tc.status)
			}
			// Заказ не изменился.
			stored, _ := f.orders.GetByRequestID("req-1")
			if stored.Status != tc.status {
				t.Errorf("rejected abort mutated the order: %s", stored.Status)
			}
		})
	}
}

func TestGateway_Abort_ProviderRemapsToPrecondition(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusPlaced)
	f.provider.AbortErr = &zinc.APIError{
		Message: "order already completed",
		Code:    zinc.CodeOrderAlreadyCompleted,
		Status:  400,
	}

	_, err := f.gateway.Abort(context.Background(), "req-1")
	if !domain.IsPrecondition(err) {
		t.Fatalf("Abort() error = %v, want precondition error", err)
	}

	// Отказ провайдера не мутирует заказ.
	stored, _ := f.orders.GetByRequestID("req-1")
	if stored.Status != domain.OrderStatusPlaced {
		t.Errorf("status = %s, want placed", stored.Status)
	}
}

func TestGateway_Cancel(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusPlaced)
	f.provider.CancelResp = domain.ProviderResponse{RequestID: "cancel-req-1"}

	result, err := f.gateway.Cancel(context.Background(), "req-1", "merchant-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if result.Order.Status != domain.OrderStatusAttemptingToCancel {
		t.Errorf("status = %s, want attempting_to_cancel", result.Order.Status)
	}
	if result.Cancellation.Status != domain.SubresourceStatusPending {
		t.Errorf("cancellation status = %s, want pending", result.Cancellation.Status)
	}
	if result.Cancellation.RequestID != "cancel-req-1" {
		t.Errorf("cancellation request_id = %s", result.Cancellation.RequestID)
	}
	if f.provider.LastCancelMerchantOrderID != "merchant-1" {
		t.Errorf("merchant_order_id = %s", f.provider.LastCancelMerchantOrderID)
	}
}

func TestGateway_Cancel_Rejections(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusProcessing)

	if _, err := f.gateway.Cancel(context.Background(), "req-1", ""); !errors.Is(err, domain.ErrMerchantOrderIDRequired) {
		t.Errorf("empty merchant_order_id: error = %v", err)
	}

	_, err := f.gateway.Cancel(context.Background(), "req-1", "merchant-1")
	if !domain.IsPrecondition(err) {
		t.Errorf("cancel on processing order: error = %v, want precondition", err)
	}
	if f.provider.CancelCalls != 0 {
		t.Error("provider must not be called for rejected cancel")
	}
}

func TestGateway_Cancel_RetriesAfterConcurrentWebhook(t *testing.T) {
	// Вебхук обновляет снапшот между чтением заказа и записью отмены.
	// Статус остаётся placed, поэтому отмена после перечитывания проходит.
	f := newRacingFixture(t, 1, func(order domain.Order) domain.Order {
		order.Payload = map[string]interface{}{"tracking": "t-1"}
		return order
	})
	f.seedOrder(t, domain.OrderStatusPlaced)
	f.provider.CancelResp = domain.ProviderResponse{RequestID: "cancel-req-1"}

	result, err := f.gateway.Cancel(context.Background(), "req-1", "merchant-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if result.Order.Status != domain.OrderStatusAttemptingToCancel {
		t.Errorf("status = %s, want attempting_to_cancel", result.Order.Status)
	}
	if f.provider.CancelCalls != 1 {
		t.Errorf("provider called %d times, want 1", f.provider.CancelCalls)
	}

	rows, err := f.cancellations.ListByOrder("order-1")
	if err != nil {
		t.Fatalf("list cancellations: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("len(cancellations) = %d, want 1", len(rows))
	}
}

func TestGateway_Cancel_ConcurrentDeliveryRejects(t *testing.T) {
	// Вебхук успевает перевести заказ в delivered: после перечитывания
	// гейт отказывает, отмена не записывается.
	f := newRacingFixture(t, 1, func(order domain.Order) domain.Order {
		order.Status = domain.OrderStatusDelivered
		return order
	})
	f.seedOrder(t, domain.OrderStatusPlaced)
	f.provider.CancelResp = domain.ProviderResponse{RequestID: "cancel-req-1"}

	_, err := f.gateway.Cancel(context.Background(), "req-1", "merchant-1")
	var precondition *domain.PreconditionError
	if !errors.As(err, &precondition) {
		t.Fatalf("Cancel() error = %v, want precondition error", err)
	}
	if precondition.Current != domain.OrderStatusDelivered {
		t.Errorf("precondition current = %s, want delivered", precondition.Current)
	}

	rows, err := f.cancellations.ListByOrder("order-1")
	if err != nil {
		t.Fatalf("list cancellations: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("len(cancellations) = %d, want 0", len(rows))
	}

	stored, _ := f.orders.GetByRequestID("req-1")
	if stored.Status != domain.OrderStatusDelivered {
		t.Errorf("status = %s, want delivered", stored.Status)
	}
}

func TestGateway_Cancel_NoOrphanCancellationOnConflict(t *testing.T) {
	// Каждая попытка записи проигрывает гонку: Cancel сдаётся после
	// исчерпания повторов и не оставляет осиротевшей отмены.
	f := newRacingFixture(t, 10, func(order domain.Order) domain.Order {
		order.Payload = map[string]interface{}{"tracking": "t-1"}
		return order
	})
	f.seedOrder(t, domain.OrderStatusPlaced)
	f.provider.CancelResp = domain.ProviderResponse{RequestID: "cancel-req-1"}

	_, err := f.gateway.Cancel(context.Background(), "req-1", "merchant-1")
	if !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("Cancel() error = %v, want version conflict", err)
	}

	rows, err := f.cancellations.ListByOrder("order-1")
	if err != nil {
		t.Fatalf("list cancellations: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("len(cancellations) = %d, want 0", len(rows))
	}
}

func TestGateway_Abort_RetriesAfterConcurrentWebhook(t *testing.T) {
	f := newRacingFixture(t, 1, func(order domain.Order) domain.Order {
		order.Payload = map[string]interface{}{"tracking": "t-1"}
		return order
	})
	f.seedOrder(t, domain.OrderStatusPlaced)

	order, err := f.gateway.Abort(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if order.Status != domain.OrderStatusAborted {
		t.Errorf("status = %s, want aborted", order.Status)
	}
	if f.provider.AbortCalls != 1 {
		t.Errorf("provider called %d times, want 1", f.provider.AbortCalls)
	}

	stored, _ := f.orders.GetByRequestID("req-1")
	if stored.Status != domain.OrderStatusAborted {
		t.Errorf("persisted status = %s, want aborted", stored.Status)
	}
}

func TestGateway_Retry(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusFailed)

	order, err := f.gateway.Retry(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("status = %s, want processing", order.Status)
	}

	// Повторный retry уже невозможен: заказ больше не failed.
	_, err = f.gateway.Retry(context.Background(), "req-1")
	if !domain.IsPrecondition(err) {
		t.Errorf("second retry: error = %v, want precondition", err)
	}
}

func TestGateway_Retry_ProviderFailureLeavesOrderIntact(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusFailed)
	f.provider.RetryErr = &zinc.APIError{Message: "boom", Status: 500}

	if _, err := f.gateway.Retry(context.Background(), "req-1"); err == nil {
		t.Fatal("expected provider error")
	}

	stored, _ := f.orders.GetByRequestID("req-1")
	if stored.Status != domain.OrderStatusFailed {
		t.Errorf("status = %s, want failed (untouched)", stored.Status)
	}
}

func TestGateway_Return(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, domain.OrderStatusDelivered)
	f.provider.ReturnResp = domain.ProviderResponse{RequestID: "return-req-1"}

	result, err := f.gateway.Return(context.Background(), "req-1", domain.ReturnRequest{
		Products:   []domain.ProviderProduct{{ProductID: "B000000001", Quantity: 1}},
		ReasonCode: "defective",
	})
	if err != nil {
		t.Fatalf("Return: %v", err)
	}

	if result.Return.RequestID != "return-req-1" {
		t.Errorf("return request_id = %s", result.Return.RequestID)
	}
	if result.Return.Status != domain.SubresourceStatusPending {
		t.Errorf("return status = %s, want pending", result.Return.Status)
	}

	// Статус заказа возврат не меняет.
	stored, _ := f.orders.GetByRequestID("req-1")
	if stored.Status != domain.OrderStatusDelivered {
		t.Errorf("status = %s, want delivered", stored.Status)
	}

	returns, err := f.returns.ListByOrder(order.ID)
	if err != nil {
		t.Fatalf("list returns: %v", err)
	}
	if len(returns) != 1 {
		t.Errorf("len(returns) = %d, want 1", len(returns))
	}
}

func TestGateway_Return_InProgressConflict(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusDelivered)
	f.provider.ReturnErr = &zinc.APIError{
		Message: "return already in progress",
		Code:    zinc.CodeReturnInProgress,
		Status:  400,
	}

	_, err := f.gateway.Return(context.Background(), "req-1", domain.ReturnRequest{
		Products: []domain.ProviderProduct{{ProductID: "B000000001", Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrReturnInProgress) {
		t.Fatalf("Return() error = %v, want ErrReturnInProgress", err)
	}
}

func TestGateway_Return_Gating(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusProcessing)

	_, err := f.gateway.Return(context.Background(), "req-1", domain.ReturnRequest{
		Products: []domain.ProviderProduct{{ProductID: "B000000001", Quantity: 1}},
	})
	if !domain.IsPrecondition(err) {
		t.Errorf("return on processing order: error = %v, want precondition", err)
	}
	if f.provider.ReturnCalls != 0 {
		t.Error("provider must not be called for rejected return")
	}
}

func TestGateway_Case_AnyStatus(t *testing.T) {
	// Кейс допустим в любом статусе заказа, включая терминальные.
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusFailed,
		domain.OrderStatusCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.seedOrder(t, status)
			f.provider.CaseResp = domain.ProviderResponse{
				CaseID:    "case-1",
				CaseState: "open",
				Raw:       map[string]interface{}{"case_id": "case-1"},
			}

			result, err := f.gateway.CaseCreateOrUpdate(context.Background(), "req-1", domain.CaseRequest{
				Reason:  "order.not_delivered",
				Message: "where is my package",
			})
			if err != nil {
				t.Fatalf("CaseCreateOrUpdate: %v", err)
			}
			if result.Case.CaseID != "case-1" {
				t.Errorf("case_id = %s, want case-1", result.Case.CaseID)
			}
			if result.Case.Status != "open" {
				t.Errorf("case status = %s, want open", result.Case.Status)
			}
		})
	}
}

func TestGateway_Case_RequiresMessage(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, domain.OrderStatusPlaced)

	_, err := f.gateway.CaseCreateOrUpdate(context.Background(), "req-1", domain.CaseRequest{Reason: "x"})
	if !errors.Is(err, domain.ErrMessageRequired) {
		t.Errorf("error = %v, want ErrMessageRequired", err)
	}
}

func TestGateway_Case_AddressedByProviderOrderID(t *testing.T) {
	f := newFixture(t)

	now := time.Now().UTC()
	order := domain.Order{
		ID:        "order-1",
		RequestID: "req-1",
		Status:    domain.OrderStatusPlaced,
		Payload:   map[string]interface{}{"order_id": "zinc-internal-1"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.orders.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	f.provider.CaseResp = domain.ProviderResponse{CaseID: "case-1", CaseState: "open"}

	if _, err := f.gateway.CaseGet(context.Background(), "req-1"); err != nil {
		t.Fatalf("CaseGet: %v", err)
	}
	if f.provider.LastRequestID != "zinc-internal-1" {
		t.Errorf("case addressed by %s, want provider order_id from snapshot", f.provider.LastRequestID)
	}
}

func TestGateway_ProductDetails(t *testing.T) {
	f := newFixture(t)
	f.provider.ProductResp = domain.ProviderResponse{
		Raw: map[string]interface{}{"title": "Widget", "asin": "B000000001"},
	}

	resp, err := f.gateway.ProductDetails(context.Background(), "B000000001")
	if err != nil {
		t.Fatalf("ProductDetails: %v", err)
	}
	if resp.Raw["title"] != "Widget" {
		t.Errorf("title = %v, want Widget", resp.Raw["title"])
	}
	if f.provider.LastProductID != "B000000001" {
		t.Errorf("product id = %s", f.provider.LastProductID)
	}

	if _, err := f.gateway.ProductDetails(context.Background(), ""); !errors.Is(err, domain.ErrProductIDRequired) {
		t.Errorf("empty product id: error = %v", err)
	}
}

func TestGateway_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	if _, err := f.gateway.Abort(context.Background(), "req-missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("Abort unknown order: error = %v", err)
	}
	if _, err := f.gateway.Retry(context.Background(), "req-missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("Retry unknown order: error = %v", err)
	}
}
