package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticketeer/internal/platform/postgres"
	"ticketeer/internal/tickets/models"
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

const ticketColumns = `id, order_id, event_id, ticket_type_id, ticket_type_name, holder_id, holder_name,
	holder_email, seq, code, status, checked_in_at, checked_in_by, check_in_method, created_at, updated_at`

func scanTicket(row interface{ Scan(...any) error }) (*models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.ID, &t.OrderID, &t.EventID, &t.TicketTypeID, &t.TicketTypeName, &t.HolderID, &t.HolderName,
		&t.HolderEmail, &t.Seq, &t.Code, &t.Status, &t.CheckedInAt, &t.CheckedInBy, &t.CheckInMethod, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateBatch relies on the (order_id, seq) key: a second issuance for the
// same order collides on seq 0 and yields ErrAlreadyUsed.
func (s *PostgresStore) CreateBatch(ctx context.Context, tickets []*models.Ticket) error {
	return tx.SQLRunner{DB: s.db}.RunInTx(ctx, func(ctx context.Context) error {
		for _, t := range tickets {
			_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
				INSERT INTO tickets (`+ticketColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
				t.ID, t.OrderID, t.EventID, t.TicketTypeID, t.TicketTypeName, t.HolderID, t.HolderName,
				t.HolderEmail, t.Seq, t.Code, t.Status, t.CheckedInAt, t.CheckedInBy, t.CheckInMethod, t.CreatedAt, t.UpdatedAt)
			switch {
			case postgres.IsUniqueViolation(err, "tickets_order_seq"):
				return sentinel.ErrAlreadyUsed
			case postgres.IsUniqueViolation(err):
				return sentinel.ErrConflict
			case err != nil:
				return fmt.Errorf("insert ticket: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, ticketID id.TicketID) (*models.Ticket, error) {
	return s.findOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, ticketID)
}

func (s *PostgresStore) FindByCode(ctx context.Context, code string) (*models.Ticket, error) {
	return s.findOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE code = $1`, code)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*models.Ticket, error) {
	t, err := scanTicket(tx.Exec(ctx, s.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Execute(ctx context.Context, ticketID id.TicketID, validate func(*models.Ticket) error, mutate func(*models.Ticket)) (*models.Ticket, error) {
	var out *models.Ticket
	err := tx.SQLRunner{DB: s.db}.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.findOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, ticketID)
		if err != nil {
			return err
		}
		if err := validate(t); err != nil {
			return err
		}
		mutate(t)
		res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
			UPDATE tickets SET status = $2, checked_in_at = $3, checked_in_by = $4, check_in_method = $5, updated_at = $6
			WHERE id = $1`,
			t.ID, t.Status, t.CheckedInAt, t.CheckedInBy, t.CheckInMethod, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		if err := postgres.RequireOne(res); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (s *PostgresStore) VoidByOrder(ctx context.Context, orderID id.OrderID, now time.Time) (int, error) {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE tickets SET status = 'void', updated_at = $2
		WHERE order_id = $1 AND status <> 'void'`, orderID, now)
	if err != nil {
		return 0, fmt.Errorf("void tickets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) ListByOrder(ctx context.Context, orderID id.OrderID) ([]*models.Ticket, error) {
	return s.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE order_id = $1 ORDER BY seq`, orderID)
}

func (s *PostgresStore) ListByHolder(ctx context.Context, holder id.UserID) ([]*models.Ticket, error) {
	return s.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE holder_id = $1 ORDER BY created_at DESC, order_id, seq`, holder)
}

func (s *PostgresStore) ListByEvent(ctx context.Context, eventID id.EventID, f models.Filter) ([]*models.Ticket, error) {
	where := []string{"event_id = $1"}
	args := []any{eventID}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		args = append(args, "%"+escapeLike(q)+"%", escapeLike(q)+"%")
		where = append(where, fmt.Sprintf("(lower(holder_name) LIKE $%d OR lower(holder_email) LIKE $%d OR lower(code) LIKE $%d)",
			len(args)-1, len(args)-1, len(args)))
	}
	args = append(args, f.PageSize(), f.Offset)
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY created_at DESC, order_id, seq LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return s.list(ctx, query, args...)
}

func (s *PostgresStore) CountByEvent(ctx context.Context, eventID id.EventID) (models.Counts, error) {
	var c models.Counts
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'used'),
		       count(*) FILTER (WHERE status = 'void')
		FROM tickets WHERE event_id = $1`, eventID).Scan(&c.Issued, &c.CheckedIn, &c.Void)
	if err != nil {
		return models.Counts{}, fmt.Errorf("count tickets: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Ticket, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
