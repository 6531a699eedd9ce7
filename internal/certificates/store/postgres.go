package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticketeer/internal/certificates/models"
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

const certificateColumns = `id, event_id, ticket_id, holder_id, holder_name, holder_email, verification_code, hours, issued_at`

func scanCertificate(row interface{ Scan(...any) error }) (*models.Certificate, error) {
	var c models.Certificate
	err := row.Scan(&c.ID, &c.EventID, &c.TicketID, &c.HolderID, &c.HolderName, &c.HolderEmail, &c.VerificationCode, &c.Hours, &c.IssuedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateMissing skips tickets that already hold a certificate via
// ON CONFLICT on the ticket key.
func (s *PostgresStore) CreateMissing(ctx context.Context, certs []*models.Certificate) ([]*models.Certificate, error) {
	out := make([]*models.Certificate, 0, len(certs))
	err := tx.SQLRunner{DB: s.db}.RunInTx(ctx, func(ctx context.Context) error {
		for _, c := range certs {
			res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
				INSERT INTO certificates (`+certificateColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (ticket_id) DO NOTHING`,
				c.ID, c.EventID, c.TicketID, c.HolderID, c.HolderName, c.HolderEmail, c.VerificationCode, c.Hours, c.IssuedAt)
			if postgres.IsUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			if err != nil {
				return fmt.Errorf("insert certificate: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) FindByCode(ctx context.Context, code string) (*models.Certificate, error) {
	c, err := scanCertificate(tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE verification_code = $1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListByHolder(ctx context.Context, holder id.UserID) ([]*models.Certificate, error) {
	return s.list(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE holder_id = $1 ORDER BY issued_at DESC, holder_name`, holder)
}

func (s *PostgresStore) ListByEvent(ctx context.Context, eventID id.EventID) ([]*models.Certificate, error) {
	return s.list(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE event_id = $1 ORDER BY issued_at DESC, holder_name`, eventID)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Certificate, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Certificate, 0)
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
