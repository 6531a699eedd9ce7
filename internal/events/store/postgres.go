package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticketeer/internal/events/models"
	"ticketeer/internal/platform/postgres"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/platform/tx"
)

// PostgresStore persists events and ticket types. Inventory changes are single
// conditional UPDATEs so concurrent checkouts never oversell.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const eventColumns = `id, organizer_id, title, slug, description, venue_name, venue_address,
	starts_at, ends_at, capacity, currency, status, certificate_hours, cover_image_url,
	created_at, updated_at, published_at`

func scanEvent(row interface{ Scan(...any) error }) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.OrganizerID, &e.Title, &e.Slug, &e.Description, &e.VenueName, &e.VenueAddress,
		&e.StartsAt, &e.EndsAt, &e.Capacity, &e.Currency, &e.Status, &e.CertificateHours, &e.CoverImageURL,
		&e.CreatedAt, &e.UpdatedAt, &e.PublishedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) CreateEvent(ctx context.Context, e *models.Event) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, e.OrganizerID, e.Title, e.Slug, e.Description, e.VenueName, e.VenueAddress,
		e.StartsAt, e.EndsAt, e.Capacity, e.Currency, e.Status, e.CertificateHours, e.CoverImageURL,
		e.CreatedAt, e.UpdatedAt, e.PublishedAt)
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindEvent(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	e, err := scanEvent(tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) FindEventBySlug(ctx context.Context, slug string) (*models.Event, error) {
	e, err := scanEvent(tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE slug = $1`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event by slug: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, e *models.Event) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE events SET title = $2, description = $3, venue_name = $4, venue_address = $5,
			starts_at = $6, ends_at = $7, capacity = $8, currency = $9, status = $10,
			certificate_hours = $11, cover_image_url = $12, updated_at = $13, published_at = $14
		WHERE id = $1`,
		e.ID, e.Title, e.Description, e.VenueName, e.VenueAddress,
		e.StartsAt, e.EndsAt, e.Capacity, e.Currency, e.Status,
		e.CertificateHours, e.CoverImageURL, e.UpdatedAt, e.PublishedAt)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return postgres.RequireOne(res)
}

func (s *PostgresStore) ListPublished(ctx context.Context, f models.ListFilter) ([]*models.Event, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE status = 'published' AND starts_at >= $1
			AND ($2 = '' OR title ILIKE '%' || $2 || '%')
		ORDER BY starts_at, id
		LIMIT $3 OFFSET $4`, f.From, f.Query, f.PageSize(), f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list published events: %w", err)
	}
	return collectEvents(rows)
}

func (s *PostgresStore) ListByOrganizer(ctx context.Context, organizer id.UserID) ([]*models.Event, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE organizer_id = $1 ORDER BY starts_at, id`, organizer)
	if err != nil {
		return nil, fmt.Errorf("list organizer events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*models.Event, error) {
	defer rows.Close()
	out := make([]*models.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const ticketTypeColumns = `id, event_id, name, description, price_cents, total_quantity, sold_quantity,
	max_per_order, sales_start_at, sales_end_at, active, created_at, updated_at`

func scanTicketType(row interface{ Scan(...any) error }) (*models.TicketType, error) {
	var t models.TicketType
	err := row.Scan(&t.ID, &t.EventID, &t.Name, &t.Description, &t.PriceCents, &t.TotalQuantity, &t.SoldQuantity,
		&t.MaxPerOrder, &t.SalesStartAt, &t.SalesEndAt, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTicketType(ctx context.Context, t *models.TicketType) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO ticket_types (`+ticketTypeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.EventID, t.Name, t.Description, t.PriceCents, t.TotalQuantity, t.SoldQuantity,
		t.MaxPerOrder, t.SalesStartAt, t.SalesEndAt, t.Active, t.CreatedAt, t.UpdatedAt)
	if postgres.IsForeignKeyViolation(err) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert ticket type: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindTicketType(ctx context.Context, typeID id.TicketTypeID) (*models.TicketType, error) {
	t, err := scanTicketType(tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = $1`, typeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket type: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTicketType(ctx context.Context, t *models.TicketType) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE ticket_types SET name = $2, description = $3, price_cents = $4, total_quantity = $5,
			max_per_order = $6, sales_start_at = $7, sales_end_at = $8, active = $9, updated_at = $10
		WHERE id = $1 AND sold_quantity <= $5`,
		t.ID, t.Name, t.Description, t.PriceCents, t.TotalQuantity,
		t.MaxPerOrder, t.SalesStartAt, t.SalesEndAt, t.Active, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update ticket type: %w", err)
	}
	return s.explainMiss(ctx, res, t.ID, sentinel.ErrConflict)
}

func (s *PostgresStore) DeleteTicketType(ctx context.Context, typeID id.TicketTypeID) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx,
		`DELETE FROM ticket_types WHERE id = $1 AND sold_quantity = 0`, typeID)
	if err != nil {
		return fmt.Errorf("delete ticket type: %w", err)
	}
	return s.explainMiss(ctx, res, typeID, sentinel.ErrConflict)
}

func (s *PostgresStore) ListTicketTypes(ctx context.Context, eventID id.EventID) ([]*models.TicketType, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE event_id = $1 ORDER BY price_cents, created_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list ticket types: %w", err)
	}
	defer rows.Close()
	out := make([]*models.TicketType, 0)
	for rows.Next() {
		t, err := scanTicketType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Reserve(ctx context.Context, typeID id.TicketTypeID, qty int) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE ticket_types SET sold_quantity = sold_quantity + $2
		WHERE id = $1 AND sold_quantity + $2 <= total_quantity`, typeID, qty)
	if err != nil {
		return fmt.Errorf("reserve inventory: %w", err)
	}
	return s.explainMiss(ctx, res, typeID, sentinel.ErrSoldOut)
}

func (s *PostgresStore) Release(ctx context.Context, typeID id.TicketTypeID, qty int) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE ticket_types SET sold_quantity = GREATEST(sold_quantity - $2, 0) WHERE id = $1`, typeID, qty)
	if err != nil {
		return fmt.Errorf("release inventory: %w", err)
	}
	return postgres.RequireOne(res)
}

// explainMiss turns a zero-row conditional update into ErrNotFound when the
// row is absent and into guardErr when the guard rejected it.
func (s *PostgresStore) explainMiss(ctx context.Context, res sql.Result, typeID id.TicketTypeID, guardErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ticket_types WHERE id = $1)`, typeID).Scan(&exists); err != nil {
		return fmt.Errorf("check ticket type: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return guardErr
}
