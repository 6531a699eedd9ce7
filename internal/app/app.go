// Package app wires stores, services, workers and the HTTP router from
// configuration. Both the API server and the operator CLI build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"ticketeer/internal/audit"
	certhandler "ticketeer/internal/certificates/handler"
	certservice "ticketeer/internal/certificates/service"
	certstore "ticketeer/internal/certificates/store"
	checkouthandler "ticketeer/internal/checkout/handler"
	checkoutservice "ticketeer/internal/checkout/service"
	checkoutstore "ticketeer/internal/checkout/store"
	couponhandler "ticketeer/internal/coupons/handler"
	couponservice "ticketeer/internal/coupons/service"
	couponstore "ticketeer/internal/coupons/store"
	dashboardhandler "ticketeer/internal/dashboard/handler"
	dashboardservice "ticketeer/internal/dashboard/service"
	eventhandler "ticketeer/internal/events/handler"
	eventservice "ticketeer/internal/events/service"
	eventstore "ticketeer/internal/events/store"
	httpapi "ticketeer/internal/http"
	jwttoken "ticketeer/internal/jwt_token"
	"ticketeer/internal/notify"
	"ticketeer/internal/payments"
	"ticketeer/internal/payments/asaas"
	paymenthandler "ticketeer/internal/payments/handler"
	"ticketeer/internal/payments/stripepay"
	"ticketeer/internal/platform/broker"
	"ticketeer/internal/platform/config"
	"ticketeer/internal/platform/httpserver"
	"ticketeer/internal/platform/metrics"
	"ticketeer/internal/platform/postgres"
	"ticketeer/internal/platform/redis"
	"ticketeer/internal/qrcode"
	tickethandler "ticketeer/internal/tickets/handler"
	"ticketeer/internal/tickets/livefeed"
	ticketservice "ticketeer/internal/tickets/service"
	ticketstore "ticketeer/internal/tickets/store"
	venuehandler "ticketeer/internal/venues/handler"
	venuemodels "ticketeer/internal/venues/models"
	venueservice "ticketeer/internal/venues/service"
	venuestore "ticketeer/internal/venues/store"
	"ticketeer/pkg/platform/middleware/ratelimit"
	"ticketeer/pkg/platform/tx"
)

// Stores groups one store per aggregate, backed by Postgres or memory.
type Stores struct {
	Events interface {
		eventservice.Store
		checkoutservice.Catalog
		dashboardservice.Catalog
	}
	Tickets      ticketservice.Store
	Orders       checkoutservice.Store
	Coupons      couponservice.Store
	Certificates certservice.Store
	Venues       venueservice.Store
	Audit        audit.Store
}

// App holds the wired process. Close releases its connections.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	DB     *sql.DB
	Redis  *redis.Client
	Broker broker.Broker
	Stores Stores

	Events       *eventservice.Service
	Tickets      *ticketservice.Service
	Checkout     *checkoutservice.Service
	Coupons      *couponservice.Service
	Dashboard    *dashboardservice.Service
	Certificates *certservice.Service
	Venues       *venueservice.Service
	Dispatcher   *payments.Dispatcher
	Tokens       *jwttoken.JWTService

	auditQueue *audit.Queue
	notifier   *notify.Worker
	router     http.Handler
	registry   *prometheus.Registry
	closers    []func() error
}

// New connects to the configured backends. Without DATABASE_URL every store
// is in memory; without REDIS_URL the cache, live feed and rate limiter stay
// in process.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, registry: prometheus.NewRegistry()}
	a.Metrics = metrics.New(a.registry)

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		if cfg.Database.AutoMigrate {
			if _, err := postgres.Migrate(ctx, db, a.Logger); err != nil {
				return err
			}
		}
		a.Stores = Stores{
			Events:       eventstore.NewPostgres(db),
			Tickets:      ticketstore.NewPostgres(db),
			Orders:       checkoutstore.NewPostgres(db),
			Coupons:      couponstore.NewPostgres(db),
			Certificates: certstore.NewPostgres(db),
			Venues:       venuestore.NewPostgres(db),
			Audit:        audit.NewPostgresStore(db),
		}
	} else {
		a.Logger.Warn("DATABASE_URL not set, using in-memory stores")
		a.Stores = Stores{
			Events:       eventstore.NewInMemory(),
			Tickets:      ticketstore.NewInMemory(),
			Orders:       checkoutstore.NewInMemory(),
			Coupons:      couponstore.NewInMemory(),
			Certificates: certstore.NewInMemory(),
			Venues:       venuestore.NewInMemory(),
			Audit:        audit.NewInMemoryStore(),
		}
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		a.Redis = rc
		a.closers = append(a.closers, rc.Close)
	}

	brk, err := broker.New(cfg.Broker, a.Logger)
	if err != nil {
		return err
	}
	a.Broker = brk
	a.closers = append(a.closers, brk.Close)
	if k, ok := brk.(*broker.Kafka); ok {
		if err := k.EnsureTopic(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) txRunner() tx.Runner {
	if a.DB == nil {
		return tx.NoopRunner{}
	}
	return tx.SQLRunner{DB: a.DB}
}

func (a *App) wire() error {
	cfg, logger, m := a.Config, a.Logger, a.Metrics
	runner := a.txRunner()

	a.auditQueue = audit.NewQueue(1024, logger)
	emitter := a.auditQueue

	qr := qrcode.New(cfg.QRCode.BaseURL, cfg.QRCode.Size)
	var feed livefeed.Feed = livefeed.NewHub()
	if a.Redis != nil {
		feed = livefeed.NewRedisFeed(redis.NewPubSub(a.Redis, "ticketeer:checkins"), logger)
	}

	a.Events = eventservice.New(a.Stores.Events,
		eventservice.WithLogger(logger),
		eventservice.WithTx(runner),
		eventservice.WithAudit(emitter),
		eventservice.WithPublisher(a.Broker),
	)
	a.Tickets = ticketservice.New(a.Stores.Tickets, a.Stores.Events,
		ticketservice.WithLogger(logger),
		ticketservice.WithAudit(emitter),
		ticketservice.WithMetrics(m),
		ticketservice.WithFeed(feed),
		ticketservice.WithQRCode(qr),
	)
	a.Coupons = couponservice.New(a.Stores.Coupons, a.Events, couponservice.WithLogger(logger))

	gateways, stripeGW, asaasGW := a.gateways()

	checkoutSettings := checkoutservice.DefaultSettings()
	checkoutSettings.HoldTTL = cfg.Checkout.HoldTTL
	checkoutSettings.FeeBasisPoints = cfg.Checkout.ServiceFeeBasisPoints
	checkoutSettings.MaxTicketsPerOrder = cfg.Checkout.MaxTicketsPerOrder
	checkoutSettings.SuccessURL = cfg.Server.FrontendURL + "/orders/{order}?status=success"
	checkoutSettings.CancelURL = cfg.Server.FrontendURL + "/orders/{order}?status=cancelled"
	if p, err := payments.ParseProvider(cfg.Checkout.DefaultProvider); err == nil {
		checkoutSettings.DefaultProvider = p
	}
	a.Checkout = checkoutservice.New(a.Stores.Orders, a.Stores.Events, a.Events, gateways,
		checkoutservice.WithLogger(logger),
		checkoutservice.WithTx(runner),
		checkoutservice.WithAudit(emitter),
		checkoutservice.WithPublisher(a.Broker),
		checkoutservice.WithMetrics(m),
		checkoutservice.WithCoupons(a.Coupons),
		checkoutservice.WithTickets(a.Tickets),
		checkoutservice.WithSettings(checkoutSettings),
	)

	dashboardOpts := []dashboardservice.Option{dashboardservice.WithLogger(logger)}
	if a.Redis != nil {
		dashboardOpts = append(dashboardOpts, dashboardservice.WithCache(redis.NewJSONCache(a.Redis, "ticketeer:dashboard", 30*time.Second)))
	}
	a.Dashboard = dashboardservice.New(a.Events, a.Stores.Events, a.Stores.Orders, a.Stores.Tickets, dashboardOpts...)

	a.Certificates = certservice.New(a.Stores.Certificates, a.Events, a.Stores.Events, a.Stores.Tickets,
		certservice.WithLogger(logger),
		certservice.WithAudit(emitter),
		certservice.WithPublisher(a.Broker),
		certservice.WithQRCode(qr),
		certservice.WithBaseURL(cfg.Server.PublicBaseURL+"/api/v1"),
	)

	rules := venuemodels.DefaultRules()
	if cfg.Pricing.RulesPath != "" {
		loaded, err := venuemodels.LoadRules(cfg.Pricing.RulesPath)
		if err != nil {
			return err
		}
		rules = loaded
	}
	venueSettings := venueservice.DefaultSettings()
	venueSettings.SuccessURL = cfg.Server.FrontendURL + "/venues/bookings/{booking}?status=success"
	venueSettings.CancelURL = cfg.Server.FrontendURL + "/venues/bookings/{booking}?status=cancelled"
	venueSettings.DefaultProvider = checkoutSettings.DefaultProvider
	a.Venues = venueservice.New(a.Stores.Venues, gateways,
		venueservice.WithLogger(logger),
		venueservice.WithTx(runner),
		venueservice.WithAudit(emitter),
		venueservice.WithPublisher(a.Broker),
		venueservice.WithMetrics(m),
		venueservice.WithRules(rules),
		venueservice.WithSettings(venueSettings),
	)

	a.Dispatcher = payments.NewDispatcher().
		Register(payments.KindOrder, a.Checkout).
		Register(payments.KindBooking, a.Venues)

	renderer, err := notify.NewRenderer(rules.Location())
	if err != nil {
		return err
	}
	a.notifier = notify.NewWorker(a.Broker, notify.NewMailer(cfg.Email, logger), renderer, logger,
		notify.WithHolders(a.Stores.Tickets),
		notify.WithMetrics(m),
		notify.WithTicketsURL(cfg.Server.FrontendURL+"/me/tickets"),
	)

	a.Tokens = jwttoken.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)

	paymentOpts := []paymenthandler.Option{paymenthandler.WithMetrics(m)}
	if stripeGW != nil {
		paymentOpts = append(paymentOpts, paymenthandler.WithStripe(stripeGW))
	}
	if asaasGW != nil {
		paymentOpts = append(paymentOpts, paymenthandler.WithAsaas(asaasGW))
	}

	a.router = httpapi.NewRouter(httpapi.Deps{
		Logger:    logger,
		Validator: jwttoken.NewJWTServiceAdapter(a.Tokens),
		Limiter:   a.limiter(),
		Limits: httpapi.Limits{
			Public:   cfg.RateLimit.PublicPerMin,
			Checkout: cfg.RateLimit.CheckoutPerMin,
			Checkin:  cfg.RateLimit.CheckinPerMin,
		},
		AdminToken: cfg.Server.AdminToken,
		CORSOrigin: cfg.Server.CORSOrigin,
		Metrics:    m.Handler(),
		Health:     a.healthChecks(),
	}, httpapi.Handlers{
		Events:       eventhandler.New(a.Events, logger),
		Coupons:      couponhandler.New(a.Coupons, logger),
		Checkout:     checkouthandler.New(a.Checkout, logger),
		Tickets:      tickethandler.New(a.Tickets, livefeed.NewStreamer(feed, logger, cfg.Server.CORSOrigin), logger),
		Dashboard:    dashboardhandler.New(a.Dashboard, logger),
		Certificates: certhandler.New(a.Certificates, logger),
		Venues:       venuehandler.New(a.Venues, logger),
		Payments:     paymenthandler.New(a.Dispatcher, logger, paymentOpts...),
		Audit:        audit.NewHandler(a.Stores.Audit, logger),
	})
	return nil
}

// gateways builds the registry from the enabled providers. The concrete
// gateways are also returned for webhook parsing.
func (a *App) gateways() (*payments.Registry, *stripepay.Gateway, *asaas.Gateway) {
	cfg := a.Config
	var enabled []payments.Gateway
	var stripeGW *stripepay.Gateway
	var asaasGW *asaas.Gateway
	if cfg.Stripe.Enabled() {
		stripeGW = stripepay.New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, stripepay.WithLogger(a.Logger))
		enabled = append(enabled, payments.NewTraced(stripeGW, a.Metrics))
	}
	if cfg.Asaas.Enabled() {
		asaasGW = asaas.New(asaas.Config{
			APIKey:       cfg.Asaas.APIKey,
			BaseURL:      cfg.Asaas.BaseURL,
			WebhookToken: cfg.Asaas.WebhookToken,
			DueDays:      cfg.Asaas.PixDueDays,
		}, asaas.WithLogger(a.Logger))
		enabled = append(enabled, payments.NewTraced(asaasGW, a.Metrics))
	}
	if len(enabled) == 0 {
		a.Logger.Warn("no payment provider configured, only free orders and bookings can complete")
	}
	return payments.NewRegistry(enabled...), stripeGW, asaasGW
}

func (a *App) limiter() *ratelimit.Middleware {
	opts := []ratelimit.Option{ratelimit.WithDisabled(a.Config.RateLimit.Disabled)}
	if a.Redis == nil {
		return ratelimit.New(nil, a.Logger, opts...)
	}
	return ratelimit.New(redis.NewLimiterStore(a.Redis), a.Logger, opts...)
}

func (a *App) healthChecks() map[string]httpapi.HealthCheck {
	checks := make(map[string]httpapi.HealthCheck)
	if a.DB != nil {
		checks["postgres"] = a.DB.PingContext
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Health
	}
	return checks
}

// Router is the HTTP handler of the API.
func (a *App) Router() http.Handler { return a.router }

// Run serves HTTP and runs the background workers until ctx ends or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := httpserver.New(a.Config.Server.Addr, a.router)
	g.Go(func() error {
		return httpserver.Run(ctx, srv, a.Logger, a.Config.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return audit.NewWorker(a.Stores.Audit, a.auditQueue.Inbox(), a.Logger).Run(ctx)
	})
	g.Go(func() error {
		return a.notifier.Run(ctx)
	})
	g.Go(func() error {
		return a.sweep(ctx, a.Config.Checkout.SweepInterval)
	})
	return g.Wait()
}

// sweep expires lapsed order and booking holds every interval.
func (a *App) sweep(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := a.ExpireStale(ctx); err != nil {
				a.Logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
			}
		}
	}
}

// ExpireStale runs one sweep over orders and bookings.
func (a *App) ExpireStale(ctx context.Context) (orders, bookings int, err error) {
	orders, orderErr := a.Checkout.ExpireStale(ctx)
	bookings, bookingErr := a.Venues.ExpireStale(ctx)
	if err := errors.Join(orderErr, bookingErr); err != nil {
		return orders, bookings, fmt.Errorf("expire stale holds: %w", err)
	}
	if orders > 0 || bookings > 0 {
		a.Logger.InfoContext(ctx, "expired stale holds", "orders", orders, "bookings", bookings)
	}
	return orders, bookings, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
