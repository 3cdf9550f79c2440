package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/inboxbot/core/bootstrap"
	coreconfig "github.com/m3rciful/inboxbot/core/config"
	"github.com/m3rciful/inboxbot/core/logger"
	"github.com/m3rciful/inboxbot/core/server"
	coretelegram "github.com/m3rciful/inboxbot/core/telegram"
)

// Options describe how to load configuration, bootstrap the app, and run it.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (*bootstrap.App, error)

	ShutdownLogger func() error
	// Serve replaces server.Run in webhook mode.
	Serve func(ctx context.Context, addr string, app *bootstrap.App) error
	// Poll replaces coretelegram.RunLongPoll in longpoll mode.
	Poll func(ctx context.Context, opts coretelegram.LongPollOptions) error
}

// Run loads configuration, bootstraps the app and serves updates until SIGINT/SIGTERM.
func Run(opts Options) error {
	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := os.Getenv(env)
	if cfgPath == "" {
		cfgPath = opts.DefaultConfigPath
	}

	load := opts.LoadConfig
	if load == nil {
		load = coreconfig.Load
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := load(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startedAt := time.Now()
	boot := opts.Bootstrap
	if boot == nil {
		boot = func(ctx context.Context, cfg *coreconfig.Config) (*bootstrap.App, error) {
			return bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
		}
	}
	app, err := boot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	defer func() {
		if err := app.Close(); err != nil {
			logger.L.With("component", "app").Error("close failed",
				slog.String("event", "shutdown"),
				slog.String("err", err.Error()),
			)
		}
	}()

	appLog := logger.L.With("component", "app")
	appLog.Info("app ready",
		slog.String("event", "ready"),
		slog.String("mode", cfg.Telegram.RunMode),
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)
	defer appLog.Info("shutting down...", slog.String("event", "shutdown"))

	if cfg.Telegram.RunMode == coreconfig.RunModeLongpoll {
		return runLongPoll(ctx, opts, app)
	}
	return runWebhook(ctx, opts, app)
}

func runWebhook(ctx context.Context, opts Options, app *bootstrap.App) error {
	cfg := app.Config
	if cfg.Webhook.Register {
		err := coretelegram.Register(ctx, app.Client, coretelegram.RegisterOptions{
			Webhook: coretelegram.WebhookOptions{
				URL:         cfg.Webhook.URL,
				Path:        cfg.Webhook.Path,
				SecretToken: cfg.Webhook.SecretToken,
			},
			Registry: app.Dispatcher.Registry(),
		})
		if err != nil {
			return fmt.Errorf("cmd: webhook registration failed: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Webhook.Listen, cfg.Webhook.Port)
	serve := opts.Serve
	if serve == nil {
		serve = func(ctx context.Context, addr string, app *bootstrap.App) error {
			return server.Run(ctx, addr, app.Engine)
		}
	}
	return serve(ctx, addr, app)
}

func runLongPoll(ctx context.Context, opts Options, app *bootstrap.App) error {
	poll := opts.Poll
	if poll == nil {
		poll = coretelegram.RunLongPoll
	}
	client := app.PollClient
	if client == nil {
		client = app.Client
	}
	return poll(ctx, coretelegram.LongPollOptions{
		Client:         client,
		Registry:       app.Dispatcher.Registry(),
		TimeoutSeconds: app.Config.Telegram.LongPollTimeoutSeconds,
		Handler: func(ctx context.Context, u tele.Update) error {
			_, err := app.Dispatcher.HandleUpdate(ctx, u)
			return err
		},
	})
}
