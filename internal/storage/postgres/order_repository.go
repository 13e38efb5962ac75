package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	asins, err := json.Marshal(order.ASINList)
	if err != nil {
		return fmt.Errorf("marshal asin list: %w", err)
	}
	payload, err := marshalPayload(order.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, request_id, user_id, asin_list, status, payload,
			idempotency_key, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		order.ID, order.RequestID, order.UserID, asins, string(order.Status),
		payload, order.IdempotencyKey, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getBy(ctx, "id", id)
}

func (r *orderRepository) GetByRequestID(requestID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getBy(ctx, "request_id", requestID)
}

func (r *orderRepository) getBy(ctx context.Context, column, value string) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, request_id, user_id, asin_list, status, payload,
		       idempotency_key, version, created_at, updated_at
		FROM orders
		WHERE %s = $1
	`, column), value)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) ListByUser(userID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, request_id, user_id, asin_list, status, payload,
		       idempotency_key, version, created_at, updated_at
		FROM orders
	`
	args := make([]interface{}, 0, 2)
	if userID != "" {
		query += " WHERE user_id = $1"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = r.saveTx(ctx, tx, order); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}

	return nil
}

func (r *orderRepository) SaveWithEvent(order domain.Order, event domain.OrderEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = r.insertEventTx(ctx, tx, event); err != nil {
		return err
	}
	if err = r.saveTx(ctx, tx, order); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order with event: %w", err)
	}

	return nil
}

// SaveWithCancellation сохраняет заказ и вставляет отмену одной транзакцией:
// конфликт версий откатывает обе записи.
func (r *orderRepository) SaveWithCancellation(order domain.Order, c domain.Cancellation) (domain.Cancellation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Cancellation{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = r.saveTx(ctx, tx, order); err != nil {
		return domain.Cancellation{}, err
	}
	c, err = insertCancellation(ctx, tx, c)
	if err != nil {
		return domain.Cancellation{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Cancellation{}, fmt.Errorf("commit save order with cancellation: %w", err)
	}

	return c, nil
}

func (r *orderRepository) AppendEvent(event domain.OrderEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = r.insertEventTx(ctx, tx, event); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit append event: %w", err)
	}

	return nil
}

func (r *orderRepository) ListEvents(orderID string) ([]domain.OrderEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, event_type, raw_body, received_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY received_at DESC, id DESC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.OrderEvent, 0)
	for rows.Next() {
		var (
			event     domain.OrderEvent
			eventType string
			rawBody   []byte
		)
		if err := rows.Scan(&event.ID, &event.OrderID, &eventType, &rawBody, &event.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		event.Type = domain.EventType(eventType)
		event.RawBody = rawBody
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order events: %w", err)
	}

	return events, nil
}

func (r *orderRepository) saveTx(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	asins, err := json.Marshal(order.ASINList)
	if err != nil {
		return fmt.Errorf("marshal asin list: %w", err)
	}
	payload, err := marshalPayload(order.Payload)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET user_id = $1,
		    asin_list = $2,
		    status = $3,
		    payload = $4,
		    version = version + 1,
		    updated_at = $5
		WHERE id = $6
		  AND version = $7
	`,
		order.UserID,
		asins,
		string(order.Status),
		payload,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExistsTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (r *orderRepository) insertEventTx(ctx context.Context, tx *sql.Tx, event domain.OrderEvent) error {
	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	rawBody := event.RawBody
	if len(rawBody) == 0 || !json.Valid(rawBody) {
		encoded, err := json.Marshal(string(rawBody))
		if err != nil {
			return fmt.Errorf("encode raw body: %w", err)
		}
		rawBody = encoded
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (order_id, event_type, raw_body, received_at)
		VALUES ($1,$2,$3,$4)
	`, event.OrderID, string(event.Type), rawBody, receivedAt)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}

	return nil
}

func (r *orderRepository) orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order   domain.Order
		status  string
		asins   []byte
		payload []byte
	)
	if err := row.Scan(
		&order.ID, &order.RequestID, &order.UserID, &asins, &status, &payload,
		&order.IdempotencyKey, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	if len(asins) > 0 {
		if err := json.Unmarshal(asins, &order.ASINList); err != nil {
			return domain.Order{}, fmt.Errorf("unmarshal asin list: %w", err)
		}
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &order.Payload); err != nil {
			return domain.Order{}, fmt.Errorf("unmarshal order payload: %w", err)
		}
	}
	return order, nil
}

func marshalPayload(payload map[string]interface{}) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order payload: %w", err)
	}
	return encoded, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
