package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"ticketeer/internal/platform/postgres"
	"ticketeer/internal/venues/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/platform/tx"
)

// PostgresStore persists spaces and bookings. The venue_bookings_no_overlap
// exclusion constraint rejects double bookings.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const spaceColumns = `id, name, description, capacity, hourly_rate_cents, active, created_at, updated_at`

func scanSpace(row interface{ Scan(...any) error }) (*models.Space, error) {
	var sp models.Space
	if err := row.Scan(&sp.ID, &sp.Name, &sp.Description, &sp.Capacity, &sp.HourlyRateCents, &sp.Active,
		&sp.CreatedAt, &sp.UpdatedAt); err != nil {
		return nil, err
	}
	return &sp, nil
}

func (s *PostgresStore) CreateSpace(ctx context.Context, sp *models.Space) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO venue_spaces (`+spaceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sp.ID, sp.Name, sp.Description, sp.Capacity, sp.HourlyRateCents, sp.Active, sp.CreatedAt, sp.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert space: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindSpace(ctx context.Context, spaceID id.SpaceID) (*models.Space, error) {
	return s.findSpace(ctx, `SELECT `+spaceColumns+` FROM venue_spaces WHERE id = $1`, spaceID)
}

func (s *PostgresStore) findSpace(ctx context.Context, query string, args ...any) (*models.Space, error) {
	sp, err := scanSpace(tx.Exec(ctx, s.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find space: %w", err)
	}
	return sp, nil
}

func (s *PostgresStore) UpdateSpace(ctx context.Context, spaceID id.SpaceID, mutate func(*models.Space)) (*models.Space, error) {
	var out *models.Space
	err := tx.SQLRunner{DB: s.db}.RunInTx(ctx, func(ctx context.Context) error {
		sp, err := s.findSpace(ctx, `SELECT `+spaceColumns+` FROM venue_spaces WHERE id = $1 FOR UPDATE`, spaceID)
		if err != nil {
			return err
		}
		mutate(sp)
		res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
			UPDATE venue_spaces SET name = $2, description = $3, capacity = $4, hourly_rate_cents = $5,
				active = $6, updated_at = $7
			WHERE id = $1`,
			sp.ID, sp.Name, sp.Description, sp.Capacity, sp.HourlyRateCents, sp.Active, sp.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update space: %w", err)
		}
		out = sp
		return postgres.RequireOne(res)
	})
	return out, err
}

func (s *PostgresStore) ListSpaces(ctx context.Context, includeInactive bool) ([]*models.Space, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT `+spaceColumns+` FROM venue_spaces
		WHERE active OR $1
		ORDER BY lower(name)`, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Space, 0)
	for rows.Next() {
		sp, err := scanSpace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

const bookingColumns = `id, space_id, space_name, customer_id, customer_name, customer_email, customer_document,
	starts_at, ends_at, headcount, services, coffee_break, quote, total_cents, currency, status,
	provider, method, provider_payment_id, payment_url, pix_payload, notes, failure_reason,
	expires_at, confirmed_at, cancelled_at, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var b models.Booking
	var coffee, quote []byte
	err := row.Scan(&b.ID, &b.SpaceID, &b.SpaceName, &b.CustomerID, &b.Customer.Name, &b.Customer.Email, &b.Customer.Document,
		&b.StartsAt, &b.EndsAt, &b.Headcount, pq.Array(&b.Services), &coffee, &quote, &b.TotalCents, &b.Currency, &b.Status,
		&b.Provider, &b.Method, &b.ProviderPaymentID, &b.PaymentURL, &b.PixPayload, &b.Notes, &b.FailureReason,
		&b.ExpiresAt, &b.ConfirmedAt, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(coffee) > 0 {
		b.CoffeeBreak = &models.CoffeeBreak{}
		if err := json.Unmarshal(coffee, b.CoffeeBreak); err != nil {
			return nil, fmt.Errorf("decode coffee break: %w", err)
		}
	}
	if err := json.Unmarshal(quote, &b.Quote); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	quote, err := json.Marshal(b.Quote)
	if err != nil {
		return fmt.Errorf("encode quote: %w", err)
	}
	var coffee any
	if b.CoffeeBreak != nil {
		raw, err := json.Marshal(b.CoffeeBreak)
		if err != nil {
			return fmt.Errorf("encode coffee break: %w", err)
		}
		coffee = string(raw)
	}
	_, err = tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO venue_bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`,
		b.ID, b.SpaceID, b.SpaceName, b.CustomerID, b.Customer.Name, b.Customer.Email, b.Customer.Document,
		b.StartsAt, b.EndsAt, b.Headcount, pq.Array(b.Services), coffee, string(quote), b.TotalCents, b.Currency, b.Status,
		b.Provider, b.Method, b.ProviderPaymentID, b.PaymentURL, b.PixPayload, b.Notes, b.FailureReason,
		b.ExpiresAt, b.ConfirmedAt, b.CancelledAt, b.CreatedAt, b.UpdatedAt)
	switch {
	case postgres.IsExclusionViolation(err):
		return sentinel.ErrConflict
	case postgres.IsForeignKeyViolation(err):
		return sentinel.ErrNotFound
	case postgres.IsUniqueViolation(err):
		return sentinel.ErrAlreadyUsed
	case err != nil:
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindBooking(ctx context.Context, bookingID id.BookingID) (*models.Booking, error) {
	return s.findBooking(ctx, `SELECT `+bookingColumns+` FROM venue_bookings WHERE id = $1`, bookingID)
}

func (s *PostgresStore) findBooking(ctx context.Context, query string, args ...any) (*models.Booking, error) {
	b, err := scanBooking(tx.Exec(ctx, s.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) Execute(ctx context.Context, bookingID id.BookingID, validate func(*models.Booking) error, mutate func(*models.Booking)) (*models.Booking, error) {
	var out *models.Booking
	err := tx.SQLRunner{DB: s.db}.RunInTx(ctx, func(ctx context.Context) error {
		b, err := s.findBooking(ctx, `SELECT `+bookingColumns+` FROM venue_bookings WHERE id = $1 FOR UPDATE`, bookingID)
		if err != nil {
			return err
		}
		if err := validate(b); err != nil {
			return err
		}
		mutate(b)
		res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
			UPDATE venue_bookings SET
				status = $2, provider = $3, method = $4, provider_payment_id = $5, payment_url = $6,
				pix_payload = $7, failure_reason = $8, confirmed_at = $9, cancelled_at = $10, updated_at = $11
			WHERE id = $1`,
			b.ID, b.Status, b.Provider, b.Method, b.ProviderPaymentID, b.PaymentURL,
			b.PixPayload, b.FailureReason, b.ConfirmedAt, b.CancelledAt, b.UpdatedAt)
		if postgres.IsExclusionViolation(err) {
			return sentinel.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		out = b
		return postgres.RequireOne(res)
	})
	return out, err
}

func (s *PostgresStore) ListBySpace(ctx context.Context, spaceID id.SpaceID, from, to time.Time) ([]*models.Booking, error) {
	return s.list(ctx, `
		SELECT `+bookingColumns+` FROM venue_bookings
		WHERE space_id = $1 AND status IN ('pending', 'awaiting_payment', 'confirmed')
		  AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at`, spaceID, from, to)
}

func (s *PostgresStore) ListByCustomer(ctx context.Context, customerID id.UserID) ([]*models.Booking, error) {
	return s.list(ctx, `SELECT `+bookingColumns+` FROM venue_bookings WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error) {
	return s.list(ctx, `
		SELECT `+bookingColumns+` FROM venue_bookings
		WHERE status IN ('pending', 'awaiting_payment') AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
