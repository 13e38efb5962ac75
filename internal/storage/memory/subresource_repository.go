package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// cancellationRepositoryInMemory хранит под-запросы на отмену.
type cancellationRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[int64]domain.Cancellation
	nextID int64
}

// NewCancellationRepository создаёт in-memory реализацию CancellationRepository.
func NewCancellationRepository() domain.CancellationRepository {
	return &cancellationRepositoryInMemory{items: make(map[int64]domain.Cancellation)}
}

func (r *cancellationRepositoryInMemory) Create(c domain.Cancellation) (domain.Cancellation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	c.ID = r.nextID
	r.items[c.ID] = c
	return c, nil
}

func (r *cancellationRepositoryInMemory) ListByOrder(orderID string) ([]domain.Cancellation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Cancellation, 0)
	for _, c := range r.items {
		if c.OrderID == orderID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *cancellationRepositoryInMemory) Update(c domain.Cancellation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[c.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	r.items[c.ID] = c
	return nil
}

// returnRepositoryInMemory хранит под-запросы на возврат.
type returnRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[int64]domain.Return
	nextID int64
}

// NewReturnRepository создаёт in-memory реализацию ReturnRepository.
func NewReturnRepository() domain.ReturnRepository {
	return &returnRepositoryInMemory{items: make(map[int64]domain.Return)}
}

func (r *returnRepositoryInMemory) Create(ret domain.Return) (domain.Return, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	ret.ID = r.nextID
	r.items[ret.ID] = ret
	return ret, nil
}

func (r *returnRepositoryInMemory) ListByOrder(orderID string) ([]domain.Return, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Return, 0)
	for _, ret := range r.items {
		if ret.OrderID == orderID {
			result = append(result, ret)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *returnRepositoryInMemory) Update(ret domain.Return) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[ret.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	r.items[ret.ID] = ret
	return nil
}

// caseRepositoryInMemory хранит кейсы; ключ — orderID, кейс один на заказ.
type caseRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string]domain.Case
	nextID  int64
}

// NewCaseRepository создаёт in-memory реализацию CaseRepository.
func NewCaseRepository() domain.CaseRepository {
	return &caseRepositoryInMemory{byOrder: make(map[string]domain.Case)}
}

func (r *caseRepositoryInMemory) Upsert(c domain.Case) (domain.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byOrder[c.OrderID]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		if c.CaseID == "" {
			c.CaseID = existing.CaseID
		}
	} else {
		r.nextID++
		c.ID = r.nextID
	}
	r.byOrder[c.OrderID] = c
	return c, nil
}

func (r *caseRepositoryInMemory) GetByOrder(orderID string) (domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byOrder[orderID]
	if !ok {
		return domain.Case{}, domain.ErrCaseNotFound
	}
	return c, nil
}

var (
	_ domain.CancellationRepository = (*cancellationRepositoryInMemory)(nil)
	_ domain.ReturnRepository       = (*returnRepositoryInMemory)(nil)
	_ domain.CaseRepository         = (*caseRepositoryInMemory)(nil)
)
