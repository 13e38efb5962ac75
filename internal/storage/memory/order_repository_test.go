package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func testOrder(id, requestID, userID string) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:        id,
		RequestID: requestID,
		UserID:    userID,
		ASINList:  []string{"B000000001"},
		Status:    domain.OrderStatusProcessing,
		Payload:   map[string]interface{}{"retailer": "amazon"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	repo := NewOrderRepository()
	order := testOrder("order-1", "req-1", "user-1")

	if err := repo.Create(order); err != nil {
		t.Fatalf("create: %v", err)
	}

	byID, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if byID.RequestID != "req-1" {
		t.Errorf("request_id = %s", byID.RequestID)
	}

	byRequest, err := repo.GetByRequestID("req-1")
	if err != nil {
		t.Fatalf("get by request id: %v", err)
	}
	if byRequest.ID != "order-1" {
		t.Errorf("id = %s", byRequest.ID)
	}

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("get missing: error = %v", err)
	}
	if _, err := repo.GetByRequestID("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("get by missing request id: error = %v", err)
	}
}

func TestOrderRepository_CreateDuplicates(t *testing.T) {
	repo := NewOrderRepository()
	if err := repo.Create(testOrder("order-1", "req-1", "user-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.Create(testOrder("order-1", "req-2", "user-1")); !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Errorf("duplicate id: error = %v", err)
	}
	if err := repo.Create(testOrder("order-2", "req-1", "user-1")); !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Errorf("duplicate request_id: error = %v", err)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	repo := NewOrderRepository()
	if err := repo.Create(testOrder("order-1", "req-1", "user-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := repo.Get("order-1")
	second, _ := repo.Get("order-1")

	first.Status = domain.OrderStatusPlaced
	if err := repo.Save(first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// Вторая копия несёт устаревшую версию.
	second.Status = domain.OrderStatusFailed
	if err := repo.Save(second); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Errorf("stale save: error = %v, want version conflict", err)
	}

	stored, _ := repo.Get("order-1")
	if stored.Status != domain.OrderStatusPlaced {
		t.Errorf("status = %s, want placed", stored.Status)
	}
}

func TestOrderRepository_SaveWithEvent(t *testing.T) {
	repo := NewOrderRepository()
	if err := repo.Create(testOrder("order-1", "req-1", "user-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	order, _ := repo.Get("order-1")
	order.Status = domain.OrderStatusPlaced
	event := domain.OrderEvent{
		OrderID:    "order-1",
		Type:       domain.EventTypeRequestSucceeded,
		RawBody:    []byte(`{"_type":"order_response"}`),
		ReceivedAt: time.Now().UTC(),
	}
	if err := repo.SaveWithEvent(order, event); err != nil {
		t.Fatalf("save with event: %v", err)
	}

	stored, _ := repo.Get("order-1")
	if stored.Status != domain.OrderStatusPlaced {
		t.Errorf("status = %s, want placed", stored.Status)
	}
	events, err := repo.ListEvents("order-1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventTypeRequestSucceeded {
		t.Errorf("events = %+v", events)
	}

	// При конфликте версии событие тоже не записывается.
	stale := order
	stale.Status = domain.OrderStatusFailed
	if err := repo.SaveWithEvent(stale, event); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("stale save with event: error = %v", err)
	}
	events, _ = repo.ListEvents("order-1")
	if len(events) != 1 {
		t.Errorf("len(events) = %d, want 1 (atomic rollback)", len(events))
	}
}

func TestOrderRepository_SaveWithCancellation(t *testing.T) {
	cancellations := NewCancellationRepository()
	repo := NewOrderRepositoryWithCancellations(cancellations)
	if err := repo.Create(testOrder("order-1", "req-1", "user-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	order, _ := repo.Get("order-1")
	order.Status = domain.OrderStatusAttemptingToCancel
	c, err := repo.SaveWithCancellation(order, domain.Cancellation{
		OrderID:         "order-1",
		RequestID:       "cancel-1",
		MerchantOrderID: "merchant-1",
		Status:          domain.SubresourceStatusPending,
	})
	if err != nil {
		t.Fatalf("save with cancellation: %v", err)
	}
	if c.ID == 0 {
		t.Error("cancellation must get an id")
	}

	stored, _ := repo.Get("order-1")
	if stored.Status != domain.OrderStatusAttemptingToCancel {
		t.Errorf("status = %s, want attempting_to_cancel", stored.Status)
	}
	rows, err := cancellations.ListByOrder("order-1")
	if err != nil {
		t.Fatalf("list cancellations: %v", err)
	}
	if len(rows) != 1 || rows[0].RequestID != "cancel-1" {
		t.Errorf("cancellations = %+v", rows)
	}

	// Конфликт версии не оставляет осиротевшей отмены.
	stale := order
	if _, err := repo.SaveWithCancellation(stale, domain.Cancellation{
		OrderID:   "order-1",
		RequestID: "cancel-2",
		Status:    domain.SubresourceStatusPending,
	}); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("stale save with cancellation: error = %v", err)
	}
	rows, _ = cancellations.ListByOrder("order-1")
	if len(rows) != 1 {
		t.Errorf("len(cancellations) = %d, want 1 (atomic rollback)", len(rows))
	}
}

func TestOrderRepository_ListEventsNewestFirst(t *testing.T) {
	repo := NewOrderRepository()
	if err := repo.Create(testOrder("order-1", "req-1", "user-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	base := time.Now().UTC()
	for i, eventType := range []domain.EventType{
		domain.EventTypeRequestSucceeded,
		domain.EventTypeTrackingUpdated,
		domain.EventTypeStatusUpdated,
	} {
		err := repo.AppendEvent(domain.OrderEvent{
			OrderID:    "order-1",
			Type:       eventType,
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	events, err := repo.ListEvents("order-1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].Type != domain.EventTypeStatusUpdated {
		t.Errorf("newest event = %s, want status_updated", events[0].Type)
	}
	if events[2].Type != domain.EventTypeRequestSucceeded {
		t.Errorf("oldest event = %s, want request_succeeded", events[2].Type)
	}
}

func TestOrderRepository_ListByUser(t *testing.T) {
	repo := NewOrderRepository()

	base := time.Now().UTC()
	for i, id := range []string{"order-1", "order-2", "order-3"} {
		order := testOrder(id, "req-"+id, "user-1")
		order.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if id == "order-3" {
			order.UserID = "user-2"
		}
		if err := repo.Create(order); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	mine, err := repo.ListByUser("user-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("len = %d, want 2", len(mine))
	}
	if mine[0].ID != "order-2" {
		t.Errorf("newest first violated: %s", mine[0].ID)
	}

	all, err := repo.ListByUser("", 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}

	limited, err := repo.ListByUser("user-1", 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}

func TestOrderRepository_CloneIsolation(t *testing.T) {
	repo := NewOrderRepository()
	if err := repo.Create(testOrder("order-1", "req-1", "user-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	order, _ := repo.Get("order-1")
	order.Payload["retailer"] = "mutated"
	order.ASINList[0] = "mutated"

	fresh, _ := repo.Get("order-1")
	if fresh.Payload["retailer"] != "amazon" {
		t.Error("payload leaked through repository boundary")
	}
	if fresh.ASINList[0] != "B000000001" {
		t.Error("asin list leaked through repository boundary")
	}
}
