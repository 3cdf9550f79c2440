package server

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/inboxbot/core/logger"
)

// SecretTokenHeader carries the secret_token registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// recoverMiddleware turns a handler panic into a logged 500.
func recoverMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.HTTP.Error("panic recovered",
					slog.String("event", "http.panic"),
					slog.String("path", c.Request.URL.Path),
					slog.String("err", fmt.Sprint(r)),
					slog.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// requestLogger writes one line per request; probes and scrapes only at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		code := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case code >= http.StatusInternalServerError:
			level = slog.LevelError
		case code >= http.StatusBadRequest:
			level = slog.LevelWarn
		case c.Request.Method == http.MethodGet:
			level = slog.LevelDebug
		}
		status := "ok"
		if code >= http.StatusBadRequest {
			status = "fail"
		}
		logger.LogEvent(c.Request.Context(), logger.HTTP, level, "http.request",
			slog.String("status", status),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("http_code", code),
			slog.Duration("duration", logger.Took(start)),
		)
	}
}

// requireSecretToken rejects webhook calls that do not carry the expected token.
// An empty token disables the check.
func requireSecretToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.String(http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}
