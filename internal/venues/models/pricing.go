package models

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	pstrings "ticketeer/pkg/platform/strings"
)

// HourTier discounts the base price of bookings of at least MinHours.
type HourTier struct {
	MinHours        int   `yaml:"min_hours" json:"min_hours"`
	DiscountPercent int64 `yaml:"discount_percent" json:"discount_percent"`
}

// ExtraService is an optional add-on priced as a share of the discounted base.
type ExtraService struct {
	Label            string `yaml:"label" json:"label"`
	SurchargePercent int64  `yaml:"surcharge_percent" json:"surcharge_percent"`
}

// CoffeeBreakPackage is priced per head.
type CoffeeBreakPackage struct {
	Label        string `yaml:"label" json:"label"`
	PerHeadCents int64  `yaml:"per_head_cents" json:"per_head_cents"`
}

// Rules is the venue pricing table, usually loaded from YAML.
type Rules struct {
	Currency                id.Currency                   `yaml:"currency" json:"currency"`
	Timezone                string                        `yaml:"timezone" json:"timezone"`
	MinHours                int                           `yaml:"min_hours" json:"min_hours"`
	MaxHours                int                           `yaml:"max_hours" json:"max_hours"`
	Tiers                   []HourTier                    `yaml:"tiers" json:"tiers"`
	Services                map[string]ExtraService       `yaml:"services" json:"services"`
	WeekendSurchargePercent int64                         `yaml:"weekend_surcharge_percent" json:"weekend_surcharge_percent"`
	CoffeeBreaks            map[string]CoffeeBreakPackage `yaml:"coffee_breaks" json:"coffee_breaks"`

	loc *time.Location
}

// DefaultRules is used when no pricing file is configured.
func DefaultRules() *Rules {
	r := &Rules{
		Currency: id.CurrencyBRL,
		Timezone: "America/Sao_Paulo",
		MinHours: 2,
		MaxHours: 12,
		Tiers: []HourTier{
			{MinHours: 4, DiscountPercent: 5},
			{MinHours: 8, DiscountPercent: 10},
		},
		Services: map[string]ExtraService{
			"projector": {Label: "Projector and screen", SurchargePercent: 5},
			"sound":     {Label: "Sound system", SurchargePercent: 10},
			"streaming": {Label: "Live streaming crew", SurchargePercent: 20},
			"cleaning":  {Label: "Post-event cleaning", SurchargePercent: 8},
			"reception": {Label: "Reception staff", SurchargePercent: 12},
		},
		WeekendSurchargePercent: 15,
		CoffeeBreaks: map[string]CoffeeBreakPackage{
			"basic":   {Label: "Basic", PerHeadCents: 2500},
			"premium": {Label: "Premium", PerHeadCents: 4500},
		},
	}
	if err := r.normalize(); err != nil {
		panic(err)
	}
	return r
}

// LoadRules reads a YAML pricing file. Fields the file leaves out keep
// their default values.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML over the defaults. A services or coffee_breaks
// section replaces the default table instead of merging into it.
func ParseRules(data []byte) (*Rules, error) {
	defaults := DefaultRules()
	r := *defaults
	r.Services, r.CoffeeBreaks = nil, nil
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse pricing rules: %w", err)
	}
	if r.Services == nil {
		r.Services = defaults.Services
	}
	if r.CoffeeBreaks == nil {
		r.CoffeeBreaks = defaults.CoffeeBreaks
	}
	if err := r.normalize(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) normalize() error {
	if r.MinHours < 1 {
		r.MinHours = 1
	}
	if r.MaxHours < r.MinHours {
		return fmt.Errorf("pricing rules: max_hours %d is below min_hours %d", r.MaxHours, r.MinHours)
	}
	c, err := id.ParseCurrency(string(r.Currency))
	if err != nil {
		return fmt.Errorf("pricing rules: %w", err)
	}
	r.Currency = c
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if r.loc, err = time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("pricing rules: timezone: %w", err)
	}
	for _, t := range r.Tiers {
		if t.DiscountPercent < 0 || t.DiscountPercent > 100 {
			return fmt.Errorf("pricing rules: tier discount %d%% out of range", t.DiscountPercent)
		}
	}
	sort.Slice(r.Tiers, func(i, j int) bool { return r.Tiers[i].MinHours < r.Tiers[j].MinHours })
	for key, s := range r.Services {
		if s.SurchargePercent < 0 {
			return fmt.Errorf("pricing rules: service %q has a negative surcharge", key)
		}
	}
	for key, p := range r.CoffeeBreaks {
		if p.PerHeadCents < 0 {
			return fmt.Errorf("pricing rules: coffee break %q has a negative price", key)
		}
	}
	return nil
}

// Location is the venue timezone used for weekend and display rules.
func (r *Rules) Location() *time.Location {
	if r.loc == nil {
		return time.UTC
	}
	return r.loc
}

// BillableHours rounds a duration up to the next whole hour.
func BillableHours(d time.Duration) int {
	return int(math.Ceil(d.Hours()))
}

// tierFor returns the tier with the greatest MinHours not above hours.
func (r *Rules) tierFor(hours int) HourTier {
	var best HourTier
	for _, t := range r.Tiers {
		if t.MinHours <= hours {
			best = t
		}
	}
	return best
}

type CoffeeBreak struct {
	Package   string `json:"package"`
	Headcount int    `json:"headcount"`
}

type QuoteRequest struct {
	SpaceID     id.SpaceID   `json:"space_id"`
	StartsAt    time.Time    `json:"starts_at"`
	EndsAt      time.Time    `json:"ends_at"`
	Headcount   int          `json:"headcount"`
	Services    []string     `json:"services,omitempty"`
	CoffeeBreak *CoffeeBreak `json:"coffee_break,omitempty"`
}

type ServiceLine struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Percent     int64  `json:"percent"`
	AmountCents int64  `json:"amount_cents"`
}

// Quote is the priced breakdown of a venue booking.
//
// TotalCents = DiscountedBaseCents + sum(Services) + WeekendCents + CoffeeBreakCents
type Quote struct {
	Hours               int           `json:"hours"`
	HourlyRateCents     int64         `json:"hourly_rate_cents"`
	BaseCents           int64         `json:"base_cents"`
	DiscountPercent     int64         `json:"discount_percent"`
	DiscountCents       int64         `json:"discount_cents"`
	DiscountedBaseCents int64         `json:"discounted_base_cents"`
	Services            []ServiceLine `json:"services"`
	WeekendCents        int64         `json:"weekend_cents"`
	CoffeeBreakCents    int64         `json:"coffee_break_cents"`
	TotalCents          int64         `json:"total_cents"`
	Currency            id.Currency   `json:"currency"`
}

// Price quotes a booking of space. Percentages are rounded half up per line.
func (r *Rules) Price(space *Space, req QuoteRequest) (*Quote, error) {
	if !req.EndsAt.After(req.StartsAt) {
		return nil, dErrors.New(dErrors.CodeValidation, "booking must end after it starts")
	}
	hours := BillableHours(req.EndsAt.Sub(req.StartsAt))
	if hours < r.MinHours || hours > r.MaxHours {
		return nil, dErrors.Newf(dErrors.CodeValidation, "bookings must last between %d and %d hours", r.MinHours, r.MaxHours)
	}
	if req.Headcount < 0 || (space.Capacity > 0 && req.Headcount > space.Capacity) {
		return nil, dErrors.Newf(dErrors.CodeValidation, "headcount must be between 0 and %d", space.Capacity)
	}

	q := &Quote{
		Hours:           hours,
		HourlyRateCents: space.HourlyRateCents,
		BaseCents:       space.HourlyRateCents * int64(hours),
		Currency:        r.Currency,
		Services:        make([]ServiceLine, 0, len(req.Services)),
	}
	tier := r.tierFor(hours)
	q.DiscountPercent = tier.DiscountPercent
	q.DiscountCents = id.PercentOf(q.BaseCents, tier.DiscountPercent)
	q.DiscountedBaseCents = q.BaseCents - q.DiscountCents
	q.TotalCents = q.DiscountedBaseCents

	for _, key := range pstrings.DedupeAndTrimLower(req.Services) {
		svc, ok := r.Services[key]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown service %q", key)
		}
		line := ServiceLine{
			Key:         key,
			Label:       svc.Label,
			Percent:     svc.SurchargePercent,
			AmountCents: id.PercentOf(q.DiscountedBaseCents, svc.SurchargePercent),
		}
		q.Services = append(q.Services, line)
		q.TotalCents += line.AmountCents
	}

	if wd := req.StartsAt.In(r.Location()).Weekday(); wd == time.Saturday || wd == time.Sunday {
		q.WeekendCents = id.PercentOf(q.DiscountedBaseCents, r.WeekendSurchargePercent)
		q.TotalCents += q.WeekendCents
	}

	if cb := req.CoffeeBreak; cb != nil && cb.Package != "" {
		pkg, ok := r.CoffeeBreaks[strings.ToLower(strings.TrimSpace(cb.Package))]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown coffee break package %q", cb.Package)
		}
		if cb.Headcount < 1 {
			return nil, dErrors.New(dErrors.CodeValidation, "coffee break headcount must be at least 1")
		}
		if space.Capacity > 0 && cb.Headcount > space.Capacity {
			return nil, dErrors.Newf(dErrors.CodeValidation, "coffee break headcount exceeds the space capacity of %d", space.Capacity)
		}
		q.CoffeeBreakCents = pkg.PerHeadCents * int64(cb.Headcount)
		q.TotalCents += q.CoffeeBreakCents
	}
	return q, nil
}
