package domain

// OrderRepository описывает требования к хранилищу заказов и их событий.
// События хранятся вместе с заказами, потому что применение вебхука
// (insert события + мутация заказа) обязано быть одной атомарной операцией.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrDuplicateOrder,
	// если ID или request_id уже заняты.
	Create(order Order) error
	// Get возвращает заказ по внутреннему идентификатору.
	Get(id string) (Order, error)
	// GetByRequestID возвращает заказ по идентификатору провайдера.
	GetByRequestID(requestID string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	// Пустой userID означает "все заказы".
	ListByUser(userID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// SaveWithEvent атомарно добавляет событие и сохраняет заказ.
	// Событие записывается даже когда мутация заказа — no-op по статусу.
	SaveWithEvent(order Order, event OrderEvent) error
	// SaveWithCancellation атомарно сохраняет заказ и запись об отмене.
	// Конфликт версий не оставляет осиротевшей отмены.
	SaveWithCancellation(order Order, c Cancellation) (Cancellation, error)
	// AppendEvent добавляет событие без мутации заказа.
	AppendEvent(event OrderEvent) error
	// ListEvents возвращает события заказа, новые первыми.
	ListEvents(orderID string) ([]OrderEvent, error)
}

// CancellationRepository хранит под-запросы на отмену.
type CancellationRepository interface {
	Create(c Cancellation) (Cancellation, error)
	ListByOrder(orderID string) ([]Cancellation, error)
	Update(c Cancellation) error
}

// ReturnRepository хранит под-запросы на возврат.
type ReturnRepository interface {
	Create(r Return) (Return, error)
	ListByOrder(orderID string) ([]Return, error)
	Update(r Return) error
}

// CaseRepository хранит кейсы провайдера; не более одного кейса на заказ.
type CaseRepository interface {
	// Upsert создаёт кейс заказа или обновляет существующий.
	Upsert(c Case) (Case, error)
	// GetByOrder возвращает кейс заказа или ErrCaseNotFound.
	GetByOrder(orderID string) (Case, error)
}
