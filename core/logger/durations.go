package logger

import (
	"strings"
	"time"
)

// Status is "fail" for a non-nil err and "ok" otherwise.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return "fail"
}

// RoundMS truncates sub-millisecond noise; negative durations log as zero.
func RoundMS(d time.Duration) time.Duration {
	if d > 0 {
		return d.Round(time.Millisecond)
	}
	return 0
}

// Took is RoundMS(time.Since(start)).
func Took(start time.Time) time.Duration { return RoundMS(time.Since(start)) }

// SummarizeStrings renders at most limit values as a comma list; the bool is
// true when values were dropped.
func SummarizeStrings(values []string, limit int) (string, bool) {
	n := min(max(limit, 0), len(values))
	return strings.Join(values[:n], ", "), n < len(values)
}
