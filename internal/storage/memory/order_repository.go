package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
// Заказы и события живут под одним мьютексом, поэтому SaveWithEvent
// атомарен по построению.
type orderRepositoryInMemory struct {
	mu          sync.RWMutex
	items       map[string]domain.Order
	byRequestID map[string]string
	events      map[string][]domain.OrderEvent
	nextEventID int64

	cancellations domain.CancellationRepository
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return NewOrderRepositoryWithCancellations(NewCancellationRepository())
}

// NewOrderRepositoryWithCancellations связывает репозиторий заказов с
// репозиторием отмен: SaveWithCancellation пишет пару в переданный репозиторий.
func NewOrderRepositoryWithCancellations(cancellations domain.CancellationRepository) domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:         make(map[string]domain.Order),
		byRequestID:   make(map[string]string),
		events:        make(map[string][]domain.OrderEvent),
		cancellations: cancellations,
	}
}

// Create сохраняет новый заказ, если ID и request_id ещё не заняты.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrDuplicateOrder
	}
	if order.RequestID != "" {
		if _, exists := r.byRequestID[order.RequestID]; exists {
			return domain.ErrDuplicateOrder
		}
		r.byRequestID[order.RequestID] = order.ID
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetByRequestID ищет заказ по идентификатору провайдера.
func (r *orderRepositoryInMemory) GetByRequestID(requestID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byRequestID[requestID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.items[id]), nil
}

// ListByUser возвращает заказы пользователя, новые первыми.
func (r *orderRepositoryInMemory) ListByUser(userID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if userID != "" && order.UserID != userID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(order)
}

// SaveWithEvent атомарно добавляет событие и сохраняет заказ.
func (r *orderRepositoryInMemory) SaveWithEvent(order domain.Order, event domain.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.saveLocked(order); err != nil {
		return err
	}
	r.appendLocked(event)
	return nil
}

// SaveWithCancellation сохраняет заказ и запись об отмене согласованной парой.
// Create у in-memory репозитория отмен не падает, поэтому отмена появляется
// только после успешного сохранения заказа.
func (r *orderRepositoryInMemory) SaveWithCancellation(order domain.Order, c domain.Cancellation) (domain.Cancellation, error) {
	r.mu.Lock()
	err := r.saveLocked(order)
	r.mu.Unlock()
	if err != nil {
		return domain.Cancellation{}, err
	}
	return r.cancellations.Create(c)
}

// AppendEvent добавляет событие без мутации заказа.
func (r *orderRepositoryInMemory) AppendEvent(event domain.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[event.OrderID]; !ok {
		return domain.ErrOrderNotFound
	}
	r.appendLocked(event)
	return nil
}

// ListEvents возвращает события заказа, новые первыми.
func (r *orderRepositoryInMemory) ListEvents(orderID string) ([]domain.OrderEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[orderID]
	result := make([]domain.OrderEvent, len(events))
	copy(result, events)

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.After(result[j].ReceivedAt)
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

func (r *orderRepositoryInMemory) saveLocked(order domain.Order) error {
	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

func (r *orderRepositoryInMemory) appendLocked(event domain.OrderEvent) {
	r.nextEventID++
	event.ID = r.nextEventID
	r.events[event.OrderID] = append(r.events[event.OrderID], event)
}

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	if order.ASINList != nil {
		clone.ASINList = append([]string(nil), order.ASINList...)
	}
	if order.Payload != nil {
		payload := make(map[string]interface{}, len(order.Payload))
		for k, v := range order.Payload {
			payload[k] = v
		}
		clone.Payload = payload
	}
	return clone
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
