package logger

import "strings"

const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

var allowedLevels = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

var allowedStatus = map[string]struct{}{
	"ok":   {},
	"fail": {},
	"skip": {},
}

// Outcomes are handler-level results; anything else is dropped from the line.
var allowedOutcome = map[string]struct{}{
	"ok":           {},
	"fail":         {},
	"cancelled":    {},
	"created":      {},
	"exhausted":    {},
	"listed":       {},
	"empty":        {},
	"prompted":     {},
	"deactivated":  {},
	"denied":       {},
	"not_found":    {},
	"unsupported":  {},
	"unknown_text": {},
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if mapped, ok := allowedLevels[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

func normalizeStatus(status string) (string, bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	_, ok := allowedStatus[status]
	return status, ok
}

func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	_, ok := allowedOutcome[outcome]
	return outcome, ok
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"kind",
	"handler",
	"cb_action",
	"outcome",
	"duration_ms",
	"messages",
	"kb",
	"count",
	"attempts",
	"address",
	"method",
	"http_code",
	"path",
	"mode",
	"listen",
	"public_url",
	"driver",
	"db",
	"host",
	"port",
	"table",
	"err",
	"err_code",
	"cause",
}
