package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ticketeer/internal/app"
	jwttoken "ticketeer/internal/jwt_token"
	"ticketeer/internal/platform/postgres"
	"ticketeer/internal/venues/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/secrets"
	"ticketeer/pkg/requestcontext"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			ctx := cmd.Context()
			db, err := postgres.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := postgres.Migrate(ctx, db, newLogger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		},
	}
}

func newExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire lapsed order and booking holds once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), cmd, func(a *app.App) error {
				orders, bookings, err := a.ExpireStale(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d orders and %d bookings\n", orders, bookings)
				return err
			})
		},
	}
}

type quoteFlags struct {
	rules       string
	rate        int64
	capacity    int
	start       string
	hours       float64
	headcount   int
	services    []string
	coffeeBreak string
}

func newQuoteCmd() *cobra.Command {
	var f quoteFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a venue booking against a pricing rules file",
		Example: `  ticketctl quote --rate 25000 --capacity 80 --start 2026-07-04T09:00 \
    --hours 5 --headcount 60 --services projector,sound --coffee-break basic`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules := models.DefaultRules()
			if f.rules != "" {
				loaded, err := models.LoadRules(f.rules)
				if err != nil {
					return err
				}
				rules = loaded
			}
			starts, err := time.ParseInLocation("2006-01-02T15:04", f.start, rules.Location())
			if err != nil {
				return fmt.Errorf("--start must look like 2026-07-04T09:00: %w", err)
			}
			space := &models.Space{Name: "quote", Capacity: f.capacity, HourlyRateCents: f.rate, Active: true}
			req := models.QuoteRequest{
				StartsAt:  starts,
				EndsAt:    starts.Add(time.Duration(f.hours * float64(time.Hour))),
				Headcount: f.headcount,
				Services:  f.services,
			}
			if f.coffeeBreak != "" {
				req.CoffeeBreak = &models.CoffeeBreak{Package: f.coffeeBreak, Headcount: f.headcount}
			}
			q, err := rules.Price(space, req)
			if err != nil {
				return err
			}
			printQuote(cmd, q)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.rules, "rules", "", "pricing rules YAML (defaults to built-in rules)")
	cmd.Flags().Int64Var(&f.rate, "rate", 0, "hourly rate in cents")
	cmd.Flags().IntVar(&f.capacity, "capacity", 100, "space capacity")
	cmd.Flags().StringVar(&f.start, "start", "", "start time in the venue timezone")
	cmd.Flags().Float64Var(&f.hours, "hours", 2, "booking length in hours")
	cmd.Flags().IntVar(&f.headcount, "headcount", 1, "expected attendees")
	cmd.Flags().StringSliceVar(&f.services, "services", nil, "extra services")
	cmd.Flags().StringVar(&f.coffeeBreak, "coffee-break", "", "coffee break package")
	_ = cmd.MarkFlagRequired("rate")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func printQuote(cmd *cobra.Command, q *models.Quote) {
	w := cmd.OutOrStdout()
	money := func(c int64) string { return id.FormatCents(c, q.Currency) }
	fmt.Fprintf(w, "%-24s %d h x %s = %s\n", "base", q.Hours, money(q.HourlyRateCents), money(q.BaseCents))
	if q.DiscountCents > 0 {
		fmt.Fprintf(w, "%-24s -%s (%d%%)\n", "hours discount", money(q.DiscountCents), q.DiscountPercent)
	}
	for _, s := range q.Services {
		fmt.Fprintf(w, "%-24s %s (%d%%)\n", s.Label, money(s.AmountCents), s.Percent)
	}
	if q.WeekendCents > 0 {
		fmt.Fprintf(w, "%-24s %s\n", "weekend surcharge", money(q.WeekendCents))
	}
	if q.CoffeeBreakCents > 0 {
		fmt.Fprintf(w, "%-24s %s\n", "coffee break", money(q.CoffeeBreakCents))
	}
	fmt.Fprintf(w, "%-24s %s\n", "total", money(q.TotalCents))
}

func newCertificatesCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "certificates",
		Short: "Manage attendance certificates",
	}
	var eventID string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue certificates to every checked-in attendee of an event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eid, err := id.ParseEventID(eventID)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cmd, func(a *app.App) error {
				ctx := requestcontext.WithActor(cmd.Context(), requestcontext.Actor{Role: id.RoleAdmin, Name: "ticketctl"})
				res, err := a.Certificates.IssueForEvent(ctx, eid)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "issued %d certificates (%d already existed)\n", res.Issued, res.Existing)
				return nil
			})
		},
	}
	issue.Flags().StringVar(&eventID, "event", "", "event ID")
	_ = issue.MarkFlagRequired("event")
	parent.AddCommand(issue)
	return parent
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		email   string
		name    string
		role    string
		ttl     time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token signed with AUTH_JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _ := loadConfig(false)
			if cfg.Server.IsProduction() {
				return fmt.Errorf("refusing to mint tokens in production")
			}
			userID := id.NewUserID()
			if subject != "" {
				parsed, err := id.ParseUserID(subject)
				if err != nil {
					return err
				}
				userID = parsed
			}
			svc := jwttoken.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
			tok, err := svc.Issue(jwttoken.Token{
				UserID:    userID,
				Email:     strings.TrimSpace(email),
				Name:      name,
				Role:      id.ParseRole(role),
				ExpiresIn: ttl,
			})
			if err != nil {
				return err
			}
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), tok)
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]string{"user_id": userID.String(), "role": string(id.ParseRole(role)), "token": tok})
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "user ID (random when empty)")
	cmd.Flags().StringVar(&email, "email", "dev@example.com", "email claim")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "attendee", "attendee, organizer, staff or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print user ID and role with the token")
	return cmd
}

func newAdminTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin-token",
		Short: "Generate an operator token and the bcrypt hash to put in ADMIN_TOKEN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := secrets.Generate()
			if err != nil {
				return err
			}
			hash, err := secrets.Hash(token)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token: %s\n", token)
			fmt.Fprintf(out, "ADMIN_TOKEN=%s\n", hash)
			return nil
		},
	}
}
