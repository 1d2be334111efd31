package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/frahmantamala/ticket-payments/api"
	"github.com/frahmantamala/ticket-payments/internal"
	"github.com/frahmantamala/ticket-payments/internal/auth"
	authpostgres "github.com/frahmantamala/ticket-payments/internal/auth/postgres"
	"github.com/frahmantamala/ticket-payments/internal/core/database"
	"github.com/frahmantamala/ticket-payments/internal/core/events"
	"github.com/frahmantamala/ticket-payments/internal/payment"
	paymentpostgres "github.com/frahmantamala/ticket-payments/internal/payment/postgres"
	paymentredis "github.com/frahmantamala/ticket-payments/internal/payment/redis"
	"github.com/frahmantamala/ticket-payments/internal/paymentgateway"
	ticketpostgres "github.com/frahmantamala/ticket-payments/internal/ticket/postgres"
	"github.com/frahmantamala/ticket-payments/internal/transport/rest"
	"github.com/frahmantamala/ticket-payments/internal/user"
	"github.com/frahmantamala/ticket-payments/pkg/logger"
	"github.com/frahmantamala/ticket-payments/pkg/metrics"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests and gateway webhooks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

// Dependencies is the object graph shared by the server and the CLI jobs.
type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	Gorm           *gorm.DB
	Redis          *goredis.Client
	Registry       *prometheus.Registry
	Metrics        *metrics.PaymentMetrics
	Events         *events.Bus
	Payments       payment.Repository
	PaymentService *payment.Service
	Logger         *slog.Logger
}

func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("redis close error", "error", err)
		}
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("database close error", "error", err)
	}
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	if err := checkAPIDocument(context.Background(), deps.Logger); err != nil {
		deps.Logger.Error("openapi document is invalid", "error", err)
		deps.Close()
		os.Exit(1)
	}

	router := chi.NewRouter()
	setupRoutes(router, deps)

	cfg := deps.Config.Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	deps.Logger.Info("starting http server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("server failed to start", "error", err)
			deps.Close()
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

// checkAPIDocument refuses to serve a docs endpoint that would hand clients
// an unparseable contract.
func checkAPIDocument(ctx context.Context, lg *slog.Logger) error {
	doc, err := api.Load(ctx)
	if err != nil {
		return err
	}
	lg.Debug("openapi document loaded", "version", doc.Info.Version, "paths", doc.Paths.Len())
	return nil
}

func setupRoutes(router *chi.Mux, deps *Dependencies) {
	cfg := deps.Config
	lg := deps.Logger

	tokens := auth.NewJWTTokenGenerator(
		cfg.Security.JWTAccessSecret,
		cfg.Security.JWTRefreshSecret,
		cfg.Security.AccessTokenDuration,
		cfg.Security.RefreshTokenDuration,
	)
	users := authpostgres.NewUserRepository(deps.Gorm)
	authService := auth.NewService(users, tokens, cfg.Security.BCryptCost, lg)

	var guard payment.DeliveryGuard
	if deps.Redis != nil {
		g, err := paymentredis.NewGuard(deps.Redis, cfg.Redis.WebhookTTL)
		if err != nil {
			lg.Warn("webhook delivery guard disabled", "error", err)
		} else {
			guard = g
		}
	}

	components := map[string]rest.Pinger{"postgres": deps.DB}
	if deps.Redis != nil {
		components["redis"] = rest.PingFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}

	routes := rest.Routes{
		Health:         rest.NewHealthHandler(components),
		Auth:           auth.NewHandler(authService, lg),
		User:           user.NewHandler(user.NewService(users), lg),
		Payment:        payment.NewHandler(deps.PaymentService, cfg.Server.BaseURL, lg),
		Webhook:        payment.NewWebhookHandler(deps.PaymentService, cfg.Paystack.SecretKey, guard, deps.Metrics, lg),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestLogging: cfg.Observability.Logging.Level == "debug",
	}
	if cfg.Observability.Metrics.Enabled {
		routes.Metrics = promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Registry: deps.Registry})
		routes.MetricsPath = cfg.Observability.Metrics.Path
	}

	rest.RegisterAllRoutes(router, routes, lg)
}

func initializeDependencies() (*Dependencies, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	initLogger(cfg)
	lg := logger.LoggerWrapper()

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := database.OpenGorm(db.DB)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	var m *metrics.PaymentMetrics
	if cfg.Observability.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewDBStatsCollector(db.DB, "postgres"),
		)
		m = metrics.NewPaymentMetrics(registry)
	}

	bus := events.NewBus(lg)
	payment.NewEventHandler(m, lg).RegisterEventHandlers(bus)

	unitPrice, err := cfg.Paystack.UnitPriceAmount()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logs := paymentpostgres.NewTransactionLogRepository(gormDB)
	gateway := paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:         cfg.Paystack.BaseURL,
		SecretKey:       cfg.Paystack.SecretKey,
		Timeout:         cfg.Paystack.Timeout,
		ReferencePrefix: cfg.Paystack.ReferencePrefix,
	}, logs, m, lg)

	payments := paymentpostgres.NewPaymentRepository(gormDB)
	service := payment.NewService(payment.Dependencies{
		Config: payment.Config{
			UnitPrice:   unitPrice,
			Currency:    cfg.Paystack.Currency,
			CallbackURL: cfg.Paystack.CallbackURL,
		},
		Payments: payments,
		Logs:     logs,
		Stats:    paymentpostgres.NewStatsRepository(db),
		Tickets:  ticketpostgres.NewTicketRepository(gormDB),
		Gateway:  gateway,
		Tx:       database.NewRunner(gormDB),
		Events:   bus,
		Logger:   lg,
	})

	deps := &Dependencies{
		Config:         cfg,
		DB:             db,
		Gorm:           gormDB,
		Registry:       registry,
		Metrics:        m,
		Events:         bus,
		Payments:       payments,
		PaymentService: service,
		Logger:         lg,
	}

	if cfg.Redis.Enabled() {
		deps.Redis = initRedis(cfg.Redis, lg)
	}

	return deps, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initRedis connects the webhook delivery guard's store. An unreachable
// server is logged, not fatal: the guard fails open.
func initRedis(cfg internal.RedisConfig, lg *slog.Logger) *goredis.Client {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		lg.Warn("redis unreachable at startup", "address", cfg.Address, "error", err)
	}
	return client
}
