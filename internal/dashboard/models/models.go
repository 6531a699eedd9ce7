package models

import (
	"sort"
	"strings"
	"time"

	id "ticketeer/pkg/domain"
)

// EventStats is an organizer's view of one event's sales and attendance.
// Money figures count paid and fulfilled orders only; refunds are reported
// separately.
type EventStats struct {
	EventID         id.EventID     `json:"event_id"`
	Title           string         `json:"title"`
	Status          string         `json:"status"`
	StartsAt        time.Time      `json:"starts_at"`
	Currency        id.Currency    `json:"currency"`
	TicketsSold     int            `json:"tickets_sold"`
	TicketsIssued   int            `json:"tickets_issued"`
	CheckedIn       int            `json:"checked_in"`
	CheckInRate     float64        `json:"check_in_rate"`
	GrossCents      int64          `json:"gross_cents"`
	DiscountCents   int64          `json:"discount_cents"`
	FeeCents        int64          `json:"fee_cents"`
	NetRevenueCents int64          `json:"net_revenue_cents"`
	RefundedCents   int64          `json:"refunded_cents"`
	PaidOrders      int            `json:"paid_orders"`
	OrdersByStatus  map[string]int `json:"orders_by_status"`
	ByTicketType    []TypeSales    `json:"by_ticket_type"`
	ByDay           []DaySales     `json:"by_day"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

type TypeSales struct {
	TicketTypeID id.TicketTypeID `json:"ticket_type_id"`
	Name         string          `json:"name"`
	Sold         int             `json:"sold"`
	Total        int             `json:"total"`
	RevenueCents int64           `json:"revenue_cents"`
}

// DaySales buckets paid orders by UTC calendar day.
type DaySales struct {
	Date         string `json:"date"`
	Orders       int    `json:"orders"`
	Tickets      int    `json:"tickets"`
	RevenueCents int64  `json:"revenue_cents"`
}

type EventSummary struct {
	EventID     id.EventID `json:"event_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	StartsAt    time.Time  `json:"starts_at"`
	TicketsSold int        `json:"tickets_sold"`
	CheckedIn   int        `json:"checked_in"`
}

// Overview rolls every event of an organizer into one page. Totals mix
// currencies only when the organizer sells in several; TotalsByCurrency
// keeps them apart.
type Overview struct {
	EventsByStatus   map[string]int          `json:"events_by_status"`
	Upcoming         []EventSummary          `json:"upcoming"`
	TicketsSold      int                     `json:"tickets_sold"`
	CheckedIn        int                     `json:"checked_in"`
	PaidOrders       int                     `json:"paid_orders"`
	TotalsByCurrency map[id.Currency]Revenue `json:"totals_by_currency"`
	GeneratedAt      time.Time               `json:"generated_at"`
}

type Revenue struct {
	GrossCents      int64 `json:"gross_cents"`
	NetRevenueCents int64 `json:"net_revenue_cents"`
	FeeCents        int64 `json:"fee_cents"`
}

// Customer is the CRM rollup of everything bought under one email address.
type Customer struct {
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Orders          int       `json:"orders"`
	Tickets         int       `json:"tickets"`
	TotalSpentCents int64     `json:"total_spent_cents"`
	Events          int       `json:"events"`
	FirstPurchaseAt time.Time `json:"first_purchase_at"`
	LastPurchaseAt  time.Time `json:"last_purchase_at"`
}

type CustomerSort string

const (
	SortBySpent  CustomerSort = "spent"
	SortByRecent CustomerSort = "recent"
	SortByName   CustomerSort = "name"
)

func ParseCustomerSort(s string) (CustomerSort, bool) {
	switch v := CustomerSort(strings.ToLower(s)); v {
	case "":
		return SortBySpent, true
	case SortBySpent, SortByRecent, SortByName:
		return v, true
	}
	return "", false
}

type CustomerFilter struct {
	EventID *id.EventID
	Query   string
	Sort    CustomerSort
	Limit   int
	Offset  int
}

func (f CustomerFilter) Matches(c *Customer) bool {
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	return strings.Contains(strings.ToLower(c.Email), q) || strings.Contains(strings.ToLower(c.Name), q)
}

// SortCustomers orders in place; ties fall back to email so pages are stable.
func SortCustomers(cs []*Customer, by CustomerSort) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		switch by {
		case SortByRecent:
			if !a.LastPurchaseAt.Equal(b.LastPurchaseAt) {
				return a.LastPurchaseAt.After(b.LastPurchaseAt)
			}
		case SortByName:
			if an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name); an != bn {
				return an < bn
			}
		default:
			if a.TotalSpentCents != b.TotalSpentCents {
				return a.TotalSpentCents > b.TotalSpentCents
			}
		}
		return a.Email < b.Email
	})
}

func (f CustomerFilter) Page(cs []*Customer) []*Customer {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if f.Offset >= len(cs) {
		return []*Customer{}
	}
	cs = cs[f.Offset:]
	if len(cs) > limit {
		cs = cs[:limit]
	}
	return cs
}
