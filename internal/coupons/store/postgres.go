package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticketeer/internal/coupons/models"
	"ticketeer/internal/platform/postgres"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const columns = `id, event_id, code, kind, value, max_redemptions, redemptions,
	valid_from, valid_until, min_subtotal_cents, active, created_at`

func scan(row interface{ Scan(...any) error }) (*models.Coupon, error) {
	var c models.Coupon
	if err := row.Scan(&c.ID, &c.EventID, &c.Code, &c.Kind, &c.Value, &c.MaxRedemptions, &c.Redemptions,
		&c.ValidFrom, &c.ValidUntil, &c.MinSubtotalCents, &c.Active, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Coupon) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO coupons (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.EventID, c.Code, c.Kind, c.Value, c.MaxRedemptions, c.Redemptions,
		c.ValidFrom, c.ValidUntil, c.MinSubtotalCents, c.Active, c.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if postgres.IsForeignKeyViolation(err) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, couponID id.CouponID) (*models.Coupon, error) {
	return s.findOne(ctx, `SELECT `+columns+` FROM coupons WHERE id = $1`, couponID)
}

func (s *PostgresStore) FindByCode(ctx context.Context, eventID id.EventID, code string) (*models.Coupon, error) {
	return s.findOne(ctx, `SELECT `+columns+` FROM coupons WHERE event_id = $1 AND code = $2`, eventID, code)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*models.Coupon, error) {
	c, err := scan(tx.Exec(ctx, s.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListByEvent(ctx context.Context, eventID id.EventID) ([]*models.Coupon, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+columns+` FROM coupons WHERE event_id = $1 ORDER BY code`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Coupon, 0)
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Deactivate(ctx context.Context, couponID id.CouponID) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `UPDATE coupons SET active = FALSE WHERE id = $1`, couponID)
	if err != nil {
		return fmt.Errorf("deactivate coupon: %w", err)
	}
	return postgres.RequireOne(res)
}

func (s *PostgresStore) Redeem(ctx context.Context, couponID id.CouponID) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE coupons SET redemptions = redemptions + 1
		WHERE id = $1 AND (max_redemptions = 0 OR redemptions < max_redemptions)`, couponID)
	if err != nil {
		return fmt.Errorf("redeem coupon: %w", err)
	}
	if err := postgres.RequireOne(res); err != nil {
		if _, findErr := s.FindByID(ctx, couponID); findErr != nil {
			return findErr
		}
		return sentinel.ErrSoldOut
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, couponID id.CouponID) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx,
		`UPDATE coupons SET redemptions = GREATEST(redemptions - 1, 0) WHERE id = $1`, couponID)
	if err != nil {
		return fmt.Errorf("release coupon: %w", err)
	}
	return postgres.RequireOne(res)
}
