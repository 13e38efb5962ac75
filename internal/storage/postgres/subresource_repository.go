package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type cancellationRepository struct {
	db *sql.DB
}

// NewCancellationRepository создаёт PostgreSQL-реализацию CancellationRepository.
func NewCancellationRepository(store *Store) domain.CancellationRepository {
	return &cancellationRepository{db: store.DB()}
}

func (r *cancellationRepository) Create(c domain.Cancellation) (domain.Cancellation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return insertCancellation(ctx, r.db, c)
}

// queryRower покрывает *sql.DB и *sql.Tx: вставка отмены используется и сама
// по себе, и внутри транзакции SaveWithCancellation.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertCancellation(ctx context.Context, q queryRower, c domain.Cancellation) (domain.Cancellation, error) {
	payload, err := marshalPayload(c.Payload)
	if err != nil {
		return domain.Cancellation{}, err
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	err = q.QueryRowContext(ctx, `
		INSERT INTO cancellations (order_id, request_id, merchant_order_id, status, payload, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, c.OrderID, c.RequestID, c.MerchantOrderID, c.Status, payload, c.CreatedAt, c.UpdatedAt).Scan(&c.ID)
	if err != nil {
		return domain.Cancellation{}, fmt.Errorf("insert cancellation: %w", err)
	}

	return c, nil
}

func (r *cancellationRepository) ListByOrder(orderID string) ([]domain.Cancellation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, request_id, merchant_order_id, status, payload, created_at, updated_at
		FROM cancellations
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list cancellations: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Cancellation, 0)
	for rows.Next() {
		var (
			c       domain.Cancellation
			payload []byte
		)
		if err := rows.Scan(&c.ID, &c.OrderID, &c.RequestID, &c.MerchantOrderID, &c.Status, &payload, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cancellation: %w", err)
		}
		if err := unmarshalPayload(payload, &c.Payload); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cancellations: %w", err)
	}

	return items, nil
}

func (r *cancellationRepository) Update(c domain.Cancellation) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payload, err := marshalPayload(c.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE cancellations
		SET request_id = $1, merchant_order_id = $2, status = $3, payload = $4, updated_at = $5
		WHERE id = $6
	`, c.RequestID, c.MerchantOrderID, c.Status, payload, time.Now().UTC(), c.ID)
	if err != nil {
		return fmt.Errorf("update cancellation: %w", err)
	}

	return nil
}

type returnRepository struct {
	db *sql.DB
}

// NewReturnRepository создаёт PostgreSQL-реализацию ReturnRepository.
func NewReturnRepository(store *Store) domain.ReturnRepository {
	return &returnRepository{db: store.DB()}
}

func (r *returnRepository) Create(ret domain.Return) (domain.Return, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payload, err := marshalPayload(ret.Payload)
	if err != nil {
		return domain.Return{}, err
	}
	labels, err := json.Marshal(ret.LabelURLs)
	if err != nil {
		return domain.Return{}, fmt.Errorf("marshal label urls: %w", err)
	}
	now := time.Now().UTC()
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = now
	}
	if ret.UpdatedAt.IsZero() {
		ret.UpdatedAt = now
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO returns (order_id, request_id, status, payload, label_urls, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, ret.OrderID, ret.RequestID, ret.Status, payload, labels, ret.CreatedAt, ret.UpdatedAt).Scan(&ret.ID)
	if err != nil {
		return domain.Return{}, fmt.Errorf("insert return: %w", err)
	}

	return ret, nil
}

func (r *returnRepository) ListByOrder(orderID string) ([]domain.Return, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, request_id, status, payload, label_urls, created_at, updated_at
		FROM returns
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list returns: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Return, 0)
	for rows.Next() {
		var (
			ret     domain.Return
			payload []byte
			labels  []byte
		)
		if err := rows.Scan(&ret.ID, &ret.OrderID, &ret.RequestID, &ret.Status, &payload, &labels, &ret.CreatedAt, &ret.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan return: %w", err)
		}
		if err := unmarshalPayload(payload, &ret.Payload); err != nil {
			return nil, err
		}
		if len(labels) > 0 {
			if err := json.Unmarshal(labels, &ret.LabelURLs); err != nil {
				return nil, fmt.Errorf("unmarshal label urls: %w", err)
			}
		}
		items = append(items, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate returns: %w", err)
	}

	return items, nil
}

func (r *returnRepository) Update(ret domain.Return) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payload, err := marshalPayload(ret.Payload)
	if err != nil {
		return err
	}
	labels, err := json.Marshal(ret.LabelURLs)
	if err != nil {
		return fmt.Errorf("marshal label urls: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE returns
		SET request_id = $1, status = $2, payload = $3, label_urls = $4, updated_at = $5
		WHERE id = $6
	`, ret.RequestID, ret.Status, payload, labels, time.Now().UTC(), ret.ID)
	if err != nil {
		return fmt.Errorf("update return: %w", err)
	}

	return nil
}

type caseRepository struct {
	db *sql.DB
}

// NewCaseRepository создаёт PostgreSQL-реализацию CaseRepository.
func NewCaseRepository(store *Store) domain.CaseRepository {
	return &caseRepository{db: store.DB()}
}

func (r *caseRepository) Upsert(c domain.Case) (domain.Case, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payload, err := marshalPayload(c.Payload)
	if err != nil {
		return domain.Case{}, err
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO cases (order_id, case_id, status, payload, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (order_id) DO UPDATE
		SET case_id = COALESCE(NULLIF(EXCLUDED.case_id, ''), cases.case_id),
		    status = EXCLUDED.status,
		    payload = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, case_id, created_at
	`, c.OrderID, c.CaseID, c.Status, payload, c.CreatedAt, c.UpdatedAt).Scan(&c.ID, &c.CaseID, &c.CreatedAt)
	if err != nil {
		return domain.Case{}, fmt.Errorf("upsert case: %w", err)
	}

	return c, nil
}

func (r *caseRepository) GetByOrder(orderID string) (domain.Case, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		c       domain.Case
		payload []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, case_id, status, payload, created_at, updated_at
		FROM cases
		WHERE order_id = $1
	`, orderID).Scan(&c.ID, &c.OrderID, &c.CaseID, &c.Status, &payload, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Case{}, domain.ErrCaseNotFound
		}
		return domain.Case{}, fmt.Errorf("select case: %w", err)
	}
	if err := unmarshalPayload(payload, &c.Payload); err != nil {
		return domain.Case{}, err
	}

	return c, nil
}

func unmarshalPayload(raw []byte, dst *map[string]interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

var (
	_ domain.CancellationRepository = (*cancellationRepository)(nil)
	_ domain.ReturnRepository       = (*returnRepository)(nil)
	_ domain.CaseRepository         = (*caseRepository)(nil)
)
