// Package bootstrap builds the application graph from configuration: logger,
// address store, secret provider, Bot API client, dispatcher and HTTP engine.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/m3rciful/inboxbot/core/address"
	coreconfig "github.com/m3rciful/inboxbot/core/config"
	coredatabase "github.com/m3rciful/inboxbot/core/database"
	"github.com/m3rciful/inboxbot/core/dispatch"
	"github.com/m3rciful/inboxbot/core/logger"
	"github.com/m3rciful/inboxbot/core/metrics"
	"github.com/m3rciful/inboxbot/core/secrets"
	"github.com/m3rciful/inboxbot/core/server"
	"github.com/m3rciful/inboxbot/core/store/memory"
	"github.com/m3rciful/inboxbot/core/store/postgres"
	redisstore "github.com/m3rciful/inboxbot/core/store/redis"
	"github.com/m3rciful/inboxbot/core/telegram"
)

// Options control the bootstrap pipeline. Only Config is required; the rest
// replace production defaults.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	// OpenStore replaces driver selection.
	OpenStore func(ctx context.Context, cfg *coreconfig.Config) (address.Store, func() error, error)
	Secrets   secrets.Provider
	// Registry receives the collectors; nil means a fresh prometheus.Registry.
	Registry *prometheus.Registry
}

// App exposes the wired components.
type App struct {
	Config     *coreconfig.Config
	Store      address.Store
	Addresses  *address.Service
	Client     *telegram.Client
	PollClient *telegram.Client
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Engine     *gin.Engine

	closers []func() error
}

// Run initializes the logger and every dependency named by the config.
func Run(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	openStore := opts.OpenStore
	if openStore == nil {
		openStore = OpenStore
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: store initialization failed: %w", err)
	}
	app := &App{Config: cfg, Store: store}
	if closeStore != nil {
		app.closers = append(app.closers, closeStore)
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	app.Metrics = metrics.New(reg)

	app.Addresses = address.NewService(store, address.Options{
		Domain:        cfg.Address.Domain,
		MaxAttempts:   cfg.Address.MaxAttempts,
		OnCollision:   app.Metrics.ObserveCollision,
		OnDeactivated: func(string) { app.Metrics.AddressesDeactivated.Inc() },
	})

	provider := opts.Secrets
	if provider == nil {
		provider, err = SecretProvider(cfg)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	timeout := time.Duration(cfg.Telegram.TimeoutSeconds) * time.Second
	app.Client = telegram.NewClient(telegram.ClientOptions{
		Secrets:    provider,
		SecretName: cfg.Telegram.SecretName,
		APIURL:     cfg.Telegram.APIURL,
		HTTPClient: telegram.BuildHTTPClient(telegram.HTTPOptions{
			Timeout:       timeout,
			RetryAttempts: cfg.Telegram.RetryAttempts,
		}),
		Observe: app.Metrics.ObserveTelegramCall,
	})
	if cfg.Telegram.RunMode == coreconfig.RunModeLongpoll {
		pollTimeout := time.Duration(cfg.Telegram.LongPollTimeoutSeconds) * time.Second
		app.PollClient = telegram.NewClient(telegram.ClientOptions{
			Secrets:    provider,
			SecretName: cfg.Telegram.SecretName,
			APIURL:     cfg.Telegram.APIURL,
			HTTPClient: telegram.BuildHTTPClient(telegram.HTTPOptions{
				Timeout:       pollTimeout + timeout,
				RetryAttempts: cfg.Telegram.RetryAttempts,
			}),
			Observe: app.Metrics.ObserveTelegramCall,
		})
	}

	app.Dispatcher, err = dispatch.New(dispatch.Options{
		Addresses: app.Addresses,
		Messenger: app.Client,
		Metrics:   app.Metrics,
	})
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	app.Engine = server.New(server.Options{
		Dispatcher:  app.Dispatcher,
		WebhookPath: cfg.Webhook.Path,
		SecretToken: cfg.Webhook.SecretToken,
		Ready:       app.Addresses.Ping,
		Gatherer:    reg,
	})

	logger.L.Info("bootstrap complete",
		slog.String("component", "app"),
		slog.String("event", "bootstrap"),
		slog.String("driver", cfg.Store.Driver),
		slog.String("table", cfg.Store.Table),
		slog.String("mode", cfg.Telegram.RunMode),
	)
	return app, nil
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SecretProvider selects the bot token source.
func SecretProvider(cfg *coreconfig.Config) (secrets.Provider, error) {
	switch cfg.Telegram.SecretBackend {
	case coreconfig.SecretBackendKeyring:
		return secrets.NewKeyring(), nil
	case coreconfig.SecretBackendEnv, "":
		return secrets.Static(cfg.Telegram.Token), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown secret backend %q", cfg.Telegram.SecretBackend)
}

// OpenStore connects the configured address table backend.
func OpenStore(ctx context.Context, cfg *coreconfig.Config) (address.Store, func() error, error) {
	switch cfg.Store.Driver {
	case coreconfig.StoreMemory, "":
		logger.Store.Warn("memory store in use, addresses are lost on restart",
			slog.String("event", "store.open"),
			slog.String("driver", coreconfig.StoreMemory),
		)
		return memory.New(), nil, nil

	case coreconfig.StorePostgres:
		if cfg.Database.Migrate {
			if err := coredatabase.RunMigrations(ctx, cfg.Database, cfg.Store.Table); err != nil {
				return nil, nil, fmt.Errorf("migrations failed: %w", err)
			}
		}
		db, err := coredatabase.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(db, cfg.Store.Table), db.Close, nil

	case coreconfig.StoreRedis:
		rdb, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Store.Info("redis connected",
			slog.String("event", "store.open"),
			slog.String("driver", coreconfig.StoreRedis),
			slog.String("host", cfg.Redis.Addr),
		)
		return redisstore.New(rdb, cfg.Redis.Prefix+cfg.Store.Table), rdb.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
