// Package server exposes the webhook endpoint, health probes and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/inboxbot/core/dispatch"
	"github.com/m3rciful/inboxbot/core/logger"
)

const (
	defaultMaxBody        = 1 << 20
	defaultHandlerTimeout = 30 * time.Second
	readyTimeout          = 2 * time.Second
	maxGoroutines         = 2000
)

// Dispatcher handles one webhook invocation.
type Dispatcher interface {
	Handle(ctx context.Context, ev dispatch.Event) (dispatch.Response, error)
}

// Options configures New.
type Options struct {
	Dispatcher  Dispatcher
	WebhookPath string
	SecretToken string
	// Ready is consulted by /ready, typically the store ping.
	Ready    func(ctx context.Context) error
	Gatherer prometheus.Gatherer
	// MaxBodyBytes caps the webhook body; 0 means 1 MiB.
	MaxBodyBytes int64
	// HandlerTimeout bounds one update including outbound calls; 0 means 30s.
	HandlerTimeout time.Duration
}

// New builds the gin engine.
func New(opts Options) *gin.Engine {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(recoverMiddleware(), requestLogger())

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	if opts.Ready != nil {
		health.AddReadinessCheck("store", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
			defer cancel()
			return opts.Ready(ctx)
		})
	}
	r.GET("/live", gin.WrapH(health))
	r.GET("/ready", gin.WrapH(health))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	r.POST(opts.WebhookPath, requireSecretToken(opts.SecretToken), webhookHandler(opts))
	return r
}

func webhookHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, opts.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.String(http.StatusRequestEntityTooLarge, "too large")
				return
			}
			c.String(http.StatusBadRequest, "unreadable body")
			return
		}
		var ev dispatch.Event
		if len(data) > 0 {
			body := string(data)
			ev.Body = &body
		}

		// A dropped connection must not abandon an update halfway through its writes.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), opts.HandlerTimeout)
		defer cancel()

		resp, err := opts.Dispatcher.Handle(ctx, ev)
		if err != nil {
			logger.LogEvent(ctx, logger.HTTP, slog.LevelError, "webhook.handle",
				slog.String("status", "fail"),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
			c.String(http.StatusInternalServerError, "error")
			return
		}
		c.String(resp.StatusCode, resp.Body)
	}
}

// Run serves h on addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.HTTP.Info("http listening",
			slog.String("event", "http.listen"),
			slog.String("listen", addr),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.HTTP.Info("http stopped", slog.String("event", "http.shutdown"))
	return nil
}
