// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file (hot-reloaded for pricing and
// rate limits) or, when no file is given, from DOCAPI_* environment
// variables.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivek1240/docling-api/adapters/clock"
	apihttp "github.com/vivek1240/docling-api/adapters/http"
	"github.com/vivek1240/docling-api/adapters/idgen"
	"github.com/vivek1240/docling-api/adapters/memory"
	"github.com/vivek1240/docling-api/adapters/metrics"
	"github.com/vivek1240/docling-api/adapters/payment"
	"github.com/vivek1240/docling-api/adapters/sqlite"
	"github.com/vivek1240/docling-api/app"
	"github.com/vivek1240/docling-api/config"
	"github.com/vivek1240/docling-api/domain/pricing"
	"github.com/vivek1240/docling-api/ports"
	"github.com/vivek1240/docling-api/web"
)

// Options configures application startup.
type Options struct {
	// ConfigPath is the YAML config file. When empty, configuration is
	// read from DOCAPI_* environment variables and hot reload is off.
	ConfigPath string
}

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	Gateway    *app.GatewayService
	Keys       *app.KeyService
	Billing    *app.BillingService
	Reconciler *app.ReconcilerService

	// Adapters (for cleanup)
	backend   *apihttp.BackendClient
	rateLimit *memory.ShardedRateLimitStore
	holder    *config.Holder
}

// New creates and initializes the application.
func New(opts Options) (*App, error) {
	a := &App{}

	if err := a.loadConfig(opts.ConfigPath); err != nil {
		return nil, err
	}

	a.Logger = setupLogger(a.Config.Logging)
	a.Logger.Info().Msg("initializing docling-api")

	if a.Config.Metrics.Enabled {
		a.Metrics = metrics.New()
		a.Logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initDatabase(); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if err := a.buildServices(); err != nil {
		a.DB.Close()
		return nil, fmt.Errorf("build services: %w", err)
	}

	a.initHTTPServer()
	a.watchConfig()

	return a, nil
}

func (a *App) loadConfig(path string) error {
	if path == "" {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("load config from env: %w", err)
		}
		a.Config = cfg
		return nil
	}

	// The holder is created before the logger exists, so it gets a
	// plain stdout logger.
	holder, err := config.NewHolder(path, zerolog.New(os.Stdout).With().Timestamp().Logger())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.holder = holder
	a.Config = holder.Get()
	return nil
}

func (a *App) initDatabase() error {
	db, err := sqlite.Open(a.Config.Database.DSN)
	if err != nil {
		return err
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.DB = db
	a.Logger.Info().Str("dsn", a.Config.Database.DSN).Msg("database initialized")
	return nil
}

func (a *App) buildServices() error {
	cfg := a.Config

	accounts := sqlite.NewAccountStore(a.DB)
	ledger := sqlite.NewLedger(a.DB)
	usageStore := sqlite.NewUsageStore(a.DB)
	eventStore := sqlite.NewPaymentEventStore(a.DB)

	a.rateLimit = memory.NewShardedRateLimitStore(memory.ShardedRateLimitConfig{
		NumShards:       32,
		CleanupInterval: 5 * time.Minute,
	})

	backend, err := apihttp.NewBackendClient(apihttp.BackendConfig{
		BaseURL:         cfg.Backend.URL,
		Timeout:         cfg.Backend.Timeout,
		MaxRetries:      cfg.Backend.MaxRetries,
		MaxIdleConns:    cfg.Backend.MaxIdleConns,
		IdleConnTimeout: cfg.Backend.IdleConnTimeout,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("build backend client: %w", err)
	}
	if a.Metrics != nil {
		backend.OnRetry(a.Metrics.BackendRetries.Inc)
	}
	a.backend = backend

	provider, err := payment.NewProvider(cfg.Billing.Provider, payment.StripeConfig{
		SecretKey:     cfg.Billing.StripeSecretKey,
		PublicKey:     cfg.Billing.StripePublicKey,
		WebhookSecret: cfg.Billing.StripeWebhookSecret,
	})
	if err != nil {
		return fmt.Errorf("build payment provider: %w", err)
	}
	a.Logger.Info().Str("provider", cfg.Billing.Provider).Msg("payment provider configured")

	var clk ports.Clock = clock.Real{}
	var ids ports.IDGenerator = idgen.UUID{}

	a.Gateway = app.NewGatewayService(app.GatewayDeps{
		Accounts:  accounts,
		Ledger:    ledger,
		Usage:     usageStore,
		RateLimit: a.rateLimit,
		Backend:   backend,
		Clock:     clk,
		IDGen:     ids,
		Logger:    a.Logger,
	}, gatewayConfig(cfg))

	a.Keys = app.NewKeyService(accounts, usageStore, clk, ids, a.Logger)
	a.Billing = app.NewBillingService(provider, accounts, a.Logger)
	a.Reconciler = app.NewReconcilerService(provider, accounts, eventStore, a.Logger)

	return nil
}

func (a *App) initHTTPServer() {
	handler := web.NewHandler(web.Deps{
		Gateway:    a.Gateway,
		Keys:       a.Keys,
		Billing:    a.Billing,
		Reconciler: a.Reconciler,
		Backend:    a.backend,
		Collector:  a.Metrics,
		AdminToken: a.Config.Admin.Token,
		Logger:     a.Logger,
	})

	addr := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// watchConfig applies pricing and rate limit changes without restart.
// Non-reloadable fields (server address, backend URL, database DSN)
// keep their boot values until the process restarts.
func (a *App) watchConfig() {
	if a.holder == nil {
		return
	}

	a.holder.OnChange(func(cfg *config.Config) {
		a.Gateway.UpdateConfig(gatewayConfig(cfg))
		if a.Metrics != nil {
			a.Metrics.ConfigReloads.Inc()
		}
		a.Logger.Info().Msg("gateway config reloaded")
	})

	a.holder.OnError(func(err error) {
		if a.Metrics != nil {
			a.Metrics.ConfigReloadErrors.Inc()
		}
	})

	if err := a.holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable, SIGHUP reload only")
	}
	a.holder.WatchSignals()
}

func gatewayConfig(cfg *config.Config) app.GatewayConfig {
	return app.GatewayConfig{
		Pricing: pricing.Config{
			CreditsPerPage:        cfg.Pricing.CreditsPerPage,
			MinCreditsPerDocument: cfg.Pricing.MinCreditsPerDocument,
		},
		RateLimit:     cfg.RateLimit.RequestsPerWindow,
		RateWindowSec: cfg.RateLimit.WindowSecs,
		RateBurst:     cfg.RateLimit.BurstTokens,
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.backend != nil {
		a.backend.Close()
	}

	if a.rateLimit != nil {
		a.rateLimit.Close()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
