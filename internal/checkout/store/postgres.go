package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ticketeer/internal/checkout/models"
	"ticketeer/internal/platform/postgres"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/platform/tx"
)

// PostgresStore persists orders. Items are kept as JSONB since they are
// always read and written with their order.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, reference, event_id, buyer_id, buyer_name, buyer_email, buyer_document, items,
	subtotal_cents, discount_cents, fee_cents, total_cents, currency, coupon_id, coupon_code,
	provider, method, provider_payment_id, payment_url, pix_payload, pix_qr_code_image,
	status, idempotency_key, expires_at, paid_at, cancelled_at, refunded_at, failure_reason,
	created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var o models.Order
	var items []byte
	err := row.Scan(&o.ID, &o.Reference, &o.EventID, &o.BuyerID, &o.Buyer.Name, &o.Buyer.Email, &o.Buyer.Document, &items,
		&o.SubtotalCents, &o.DiscountCents, &o.FeeCents, &o.TotalCents, &o.Currency, &o.CouponID, &o.CouponCode,
		&o.Provider, &o.Method, &o.ProviderPaymentID, &o.PaymentURL, &o.PixPayload, &o.PixQRCodeImage,
		&o.Status, &o.IdempotencyKey, &o.ExpiresAt, &o.PaidAt, &o.CancelledAt, &o.RefundedAt, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) Create(ctx context.Context, o *models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	_, err = tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`,
		o.ID, o.Reference, o.EventID, o.BuyerID, o.Buyer.Name, o.Buyer.Email, o.Buyer.Document, string(items),
		o.SubtotalCents, o.DiscountCents, o.FeeCents, o.TotalCents, o.Currency, o.CouponID, o.CouponCode,
		o.Provider, o.Method, o.ProviderPaymentID, o.PaymentURL, o.PixPayload, o.PixQRCodeImage,
		o.Status, o.IdempotencyKey, o.ExpiresAt, o.PaidAt, o.CancelledAt, o.RefundedAt, o.FailureReason,
		o.CreatedAt, o.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, orderID id.OrderID) (*models.Order, error) {
	return s.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
}

func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, buyer id.UserID, key string) (*models.Order, error) {
	return s.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 AND idempotency_key = $2`, buyer, key)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*models.Order, error) {
	o, err := scanOrder(tx.Exec(ctx, s.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return o, nil
}

// Execute locks the row with FOR UPDATE for the duration of validate and
// mutate, joining the caller's transaction when there is one.
func (s *PostgresStore) Execute(ctx context.Context, orderID id.OrderID, validate func(*models.Order) error, mutate func(*models.Order)) (*models.Order, error) {
	var out *models.Order
	err := tx.SQLRunner{DB: s.db}.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
		if err != nil {
			return err
		}
		if err := validate(o); err != nil {
			return err
		}
		mutate(o)
		if err := s.update(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (s *PostgresStore) update(ctx context.Context, o *models.Order) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE orders SET
			provider = $2, method = $3, provider_payment_id = $4, payment_url = $5, pix_payload = $6,
			pix_qr_code_image = $7, status = $8, paid_at = $9, cancelled_at = $10, refunded_at = $11,
			failure_reason = $12, updated_at = $13
		WHERE id = $1`,
		o.ID, o.Provider, o.Method, o.ProviderPaymentID, o.PaymentURL, o.PixPayload,
		o.PixQRCodeImage, o.Status, o.PaidAt, o.CancelledAt, o.RefundedAt,
		o.FailureReason, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return postgres.RequireOne(res)
}

func (s *PostgresStore) ListByBuyer(ctx context.Context, buyer id.UserID) ([]*models.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`, buyer)
}

func (s *PostgresStore) ListByEvent(ctx context.Context, eventID id.EventID) ([]*models.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE event_id = $1 ORDER BY created_at DESC`, eventID)
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ('pending', 'awaiting_payment') AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
