package service

import (
	"context"
	"encoding/csv"
	"io"
	"time"

	ticketmodels "ticketeer/internal/tickets/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

var attendeeHeader = []string{"name", "email", "ticket_type", "code", "status", "checked_in_at"}

const exportPage = 500

// ExportAttendees writes the event's tickets as CSV, paging through the
// store so large events are never held in memory at once.
func (s *Service) ExportAttendees(ctx context.Context, eventID id.EventID, w io.Writer) error {
	if _, err := s.events.ManagedEvent(ctx, eventID); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(attendeeHeader); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write export")
	}
	for offset := 0; ; offset += exportPage {
		page, err := s.tickets.ListByEvent(ctx, eventID, ticketmodels.Filter{Limit: exportPage, Offset: offset})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attendees")
		}
		for _, t := range page {
			checkedIn := ""
			if t.CheckedInAt != nil {
				checkedIn = t.CheckedInAt.UTC().Format(time.RFC3339)
			}
			row := []string{cell(t.HolderName), cell(t.HolderEmail), cell(t.TicketTypeName), t.Code, string(t.Status), checkedIn}
			if err := cw.Write(row); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write export")
			}
		}
		if len(page) < exportPage {
			break
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write export")
	}
	return nil
}

// cell neutralizes values a spreadsheet would evaluate as a formula.
func cell(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + v
	}
	return v
}
