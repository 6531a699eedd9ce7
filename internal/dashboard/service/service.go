package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	checkoutmodels "ticketeer/internal/checkout/models"
	"ticketeer/internal/dashboard/models"
	eventmodels "ticketeer/internal/events/models"
	ticketmodels "ticketeer/internal/tickets/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/requestcontext"
)

// Events authorizes organizer access; the events service satisfies it.
type Events interface {
	ManagedEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error)
	ListMine(ctx context.Context) ([]*eventmodels.Event, error)
}

type Catalog interface {
	ListTicketTypes(ctx context.Context, eventID id.EventID) ([]*eventmodels.TicketType, error)
}

type Orders interface {
	ListByEvent(ctx context.Context, eventID id.EventID) ([]*checkoutmodels.Order, error)
}

type Tickets interface {
	CountByEvent(ctx context.Context, eventID id.EventID) (ticketmodels.Counts, error)
	ListByEvent(ctx context.Context, eventID id.EventID, f ticketmodels.Filter) ([]*ticketmodels.Ticket, error)
}

// Cache holds computed stats for a short while. The Redis JSONCache
// satisfies it; Get reports a miss with sentinel.ErrNotFound.
type Cache interface {
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, v any) error
}

const fanOut = 4

type Service struct {
	events  Events
	catalog Catalog
	orders  Orders
	tickets Tickets
	cache   Cache
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func New(events Events, catalog Catalog, orders Orders, tickets Tickets, opts ...Option) *Service {
	s := &Service{events: events, catalog: catalog, orders: orders, tickets: tickets, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EventStats is served from cache when fresh.
func (s *Service) EventStats(ctx context.Context, eventID id.EventID) (*models.EventStats, error) {
	e, err := s.events.ManagedEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	key := "stats:" + eventID.String()
	if s.cache != nil {
		var cached models.EventStats
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "stats cache read failed", "event_id", eventID, "error", err)
		}
	}
	stats, err := s.computeStats(ctx, e)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats); err != nil {
			s.logger.WarnContext(ctx, "stats cache write failed", "event_id", eventID, "error", err)
		}
	}
	return stats, nil
}

func (s *Service) computeStats(ctx context.Context, e *eventmodels.Event) (*models.EventStats, error) {
	var (
		types  []*eventmodels.TicketType
		orders []*checkoutmodels.Order
		counts ticketmodels.Counts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		types, err = s.catalog.ListTicketTypes(gctx, e.ID)
		return err
	})
	g.Go(func() error {
		var err error
		orders, err = s.orders.ListByEvent(gctx, e.ID)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = s.tickets.CountByEvent(gctx, e.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to gather event stats")
	}
	return buildStats(e, types, orders, counts, requestcontext.Now(ctx)), nil
}

func buildStats(e *eventmodels.Event, types []*eventmodels.TicketType, orders []*checkoutmodels.Order, counts ticketmodels.Counts, now time.Time) *models.EventStats {
	stats := &models.EventStats{
		EventID:        e.ID,
		Title:          e.Title,
		Status:         string(e.Status),
		StartsAt:       e.StartsAt,
		Currency:       e.Currency,
		TicketsIssued:  counts.Issued - counts.Void,
		CheckedIn:      counts.CheckedIn,
		CheckInRate:    counts.CheckInRate(),
		OrdersByStatus: make(map[string]int),
		GeneratedAt:    now,
	}

	byType := make(map[id.TicketTypeID]*models.TypeSales, len(types))
	for _, t := range types {
		row := &models.TypeSales{TicketTypeID: t.ID, Name: t.Name, Total: t.TotalQuantity}
		byType[t.ID] = row
	}
	byDay := make(map[string]*models.DaySales)

	for _, o := range orders {
		stats.OrdersByStatus[string(o.Status)]++
		switch o.Status {
		case checkoutmodels.StatusRefunded:
			stats.RefundedCents += o.TotalCents
			continue
		case checkoutmodels.StatusPaid, checkoutmodels.StatusFulfilled:
		default:
			continue
		}
		stats.PaidOrders++
		stats.TicketsSold += o.TicketCount()
		stats.GrossCents += o.SubtotalCents
		stats.DiscountCents += o.DiscountCents
		stats.FeeCents += o.FeeCents
		stats.NetRevenueCents += o.NetRevenueCents()

		for _, it := range o.Items {
			row, ok := byType[it.TicketTypeID]
			if !ok {
				row = &models.TypeSales{TicketTypeID: it.TicketTypeID, Name: it.Name}
				byType[it.TicketTypeID] = row
			}
			row.Sold += it.Quantity
			row.RevenueCents += it.LineTotal()
		}

		paidAt := o.CreatedAt
		if o.PaidAt != nil {
			paidAt = *o.PaidAt
		}
		day := paidAt.UTC().Format(time.DateOnly)
		d, ok := byDay[day]
		if !ok {
			d = &models.DaySales{Date: day}
			byDay[day] = d
		}
		d.Orders++
		d.Tickets += o.TicketCount()
		d.RevenueCents += o.NetRevenueCents()
	}

	for _, t := range types {
		stats.ByTicketType = append(stats.ByTicketType, *byType[t.ID])
		delete(byType, t.ID)
	}
	// Types deleted after selling still show up, after the live ones.
	for _, row := range byType {
		stats.ByTicketType = append(stats.ByTicketType, *row)
	}
	stats.ByDay = make([]models.DaySales, 0, len(byDay))
	for _, d := range byDay {
		stats.ByDay = append(stats.ByDay, *d)
	}
	sort.Slice(stats.ByDay, func(i, j int) bool { return stats.ByDay[i].Date < stats.ByDay[j].Date })
	return stats
}

// OrganizerOverview fans one stats computation out per event, fanOut at a
// time. Stats are always fresh here.
func (s *Service) OrganizerOverview(ctx context.Context) (*models.Overview, error) {
	events, err := s.events.ListMine(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	results := make([]*models.EventStats, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, e := range events {
		g.Go(func() error {
			st, err := s.computeStats(gctx, e)
			if err != nil {
				return err
			}
			results[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ov := &models.Overview{
		EventsByStatus:   make(map[string]int),
		Upcoming:         make([]models.EventSummary, 0),
		TotalsByCurrency: make(map[id.Currency]models.Revenue),
		GeneratedAt:      now,
	}
	for i, e := range events {
		st := results[i]
		ov.EventsByStatus[string(e.Status)]++
		ov.TicketsSold += st.TicketsSold
		ov.CheckedIn += st.CheckedIn
		ov.PaidOrders += st.PaidOrders
		rev := ov.TotalsByCurrency[e.Currency]
		rev.GrossCents += st.GrossCents
		rev.NetRevenueCents += st.NetRevenueCents
		rev.FeeCents += st.FeeCents
		ov.TotalsByCurrency[e.Currency] = rev

		if !e.IsCancelled() && !e.HasStarted(now) {
			ov.Upcoming = append(ov.Upcoming, models.EventSummary{
				EventID:     e.ID,
				Title:       e.Title,
				Status:      string(e.Status),
				StartsAt:    e.StartsAt,
				TicketsSold: st.TicketsSold,
				CheckedIn:   st.CheckedIn,
			})
		}
	}
	sort.Slice(ov.Upcoming, func(i, j int) bool { return ov.Upcoming[i].StartsAt.Before(ov.Upcoming[j].StartsAt) })
	return ov, nil
}

// Customers rolls paid orders up by buyer email across the caller's events,
// or a single event when the filter names one.
func (s *Service) Customers(ctx context.Context, f models.CustomerFilter) ([]*models.Customer, error) {
	var events []*eventmodels.Event
	if f.EventID != nil {
		e, err := s.events.ManagedEvent(ctx, *f.EventID)
		if err != nil {
			return nil, err
		}
		events = []*eventmodels.Event{e}
	} else {
		var err error
		if events, err = s.events.ListMine(ctx); err != nil {
			return nil, err
		}
	}

	perEvent := make([][]*checkoutmodels.Order, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, e := range events {
		g.Go(func() error {
			orders, err := s.orders.ListByEvent(gctx, e.ID)
			perEvent[i] = orders
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load orders")
	}

	type rollup struct {
		c      *models.Customer
		events map[id.EventID]struct{}
	}
	byEmail := make(map[string]*rollup)
	for _, orders := range perEvent {
		for _, o := range orders {
			if o.Status != checkoutmodels.StatusPaid && o.Status != checkoutmodels.StatusFulfilled {
				continue
			}
			email := strings.ToLower(strings.TrimSpace(o.Buyer.Email))
			at := o.CreatedAt
			if o.PaidAt != nil {
				at = *o.PaidAt
			}
			r, ok := byEmail[email]
			if !ok {
				r = &rollup{
					c:      &models.Customer{Email: email, FirstPurchaseAt: at, LastPurchaseAt: at},
					events: make(map[id.EventID]struct{}),
				}
				byEmail[email] = r
			}
			c := r.c
			c.Orders++
			c.Tickets += o.TicketCount()
			c.TotalSpentCents += o.TotalCents
			if at.Before(c.FirstPurchaseAt) {
				c.FirstPurchaseAt = at
			}
			if !at.Before(c.LastPurchaseAt) {
				c.LastPurchaseAt = at
				if o.Buyer.Name != "" {
					c.Name = o.Buyer.Name
				}
			}
			if c.Name == "" {
				c.Name = o.Buyer.Name
			}
			r.events[o.EventID] = struct{}{}
		}
	}

	out := make([]*models.Customer, 0, len(byEmail))
	for _, r := range byEmail {
		r.c.Events = len(r.events)
		if f.Matches(r.c) {
			out = append(out, r.c)
		}
	}
	models.SortCustomers(out, f.Sort)
	return f.Page(out), nil
}
