package logger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestHandler(buf *bytes.Buffer, format logFormat) (*structuredHandler, *asyncWriter) {
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	return newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	}), aw
}

func closeWriter(t *testing.T, aw *asyncWriter) {
	t.Helper()
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	ctx := WithRID(context.Background(), "rid-123")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)

	log := slog.New(handler).With("component", "dispatch")
	LogEvent(ctx, log, slog.LevelInfo, "handler.handled",
		slog.String("status", "ok"),
		slog.String("outcome", "created"),
	)
	closeWriter(t, aw)

	line := strings.TrimSpace(buf.String())
	tokens := strings.Split(line, " ")
	expected := []string{"ts=", "level=INFO", "component=dispatch", "event=handler.handled", "status=ok", "rid=rid-123", "update_id=42", "user_id=7", "chat_id=9", "outcome=created"}
	if len(tokens) < len(expected) {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatJSON)
	ctx := WithRID(context.Background(), "rid-json")

	log := slog.New(handler).With("component", "store")
	LogEvent(ctx, log, slog.LevelError, "address.create",
		slog.String("status", "fail"),
		slog.Any("err", errors.New("boom")),
		slog.Duration("duration", 1500*time.Microsecond),
	)
	closeWriter(t, aw)

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "{") {
		t.Fatalf("expected JSON, got %s", line)
	}
	prefixes := []string{`{"ts":`, `"level":"ERROR"`, `"component":"store"`, `"event":"address.create"`, `"status":"fail"`, `"rid":"rid-json"`, `"duration_ms":2`, `"err":"boom"`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("prefix %s not found in order within %s", pref, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	rawRID := BuildRID(123, 456, 789)
	ctx := WithRID(context.Background(), rawRID)
	LogEvent(ctx, slog.New(handler), slog.LevelInfo, "rid.test", slog.String("status", "ok"))
	closeWriter(t, aw)

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, "rid="+CompactRID(rawRID)) {
		t.Fatalf("expected compact rid, got %s", line)
	}
	if strings.Contains(line, "rid_full=") {
		t.Fatalf("rid_full should be omitted in KV output, got %s", line)
	}
	if !strings.Contains(line, "component=app") {
		t.Fatalf("expected default component, got %s", line)
	}
}

func TestStructuredHandlerDropsUnknownOutcome(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	LogEvent(context.Background(), slog.New(handler), slog.LevelInfo, "x",
		slog.String("outcome", "whatever"),
		slog.String("empty", ""),
	)
	closeWriter(t, aw)

	line := buf.String()
	if strings.Contains(line, "outcome=") || strings.Contains(line, "empty=") {
		t.Fatalf("unexpected fields in %s", line)
	}
}

func TestCompactRIDLeavesForeignFormat(t *testing.T) {
	if got := CompactRID("abc"); got != "abc" {
		t.Fatalf("CompactRID(abc) = %q", got)
	}
	if got := CompactRID("35:36:0"); got != "z.10.0" {
		t.Fatalf("CompactRID = %q, want z.10.0", got)
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	got := []bool{s.Allow(), s.Allow(), s.Allow(), s.Allow()}
	want := []bool{true, false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Allow #%d = %v, want %v", i, got[i], want[i])
		}
	}
	if n, d := parseRatioSpec("2/10"); n != 2 || d != 10 {
		t.Fatalf("parseRatioSpec = %d/%d", n, d)
	}
	if n, d := parseRatioSpec("25"); n != 1 || d != 25 {
		t.Fatalf("parseRatioSpec = %d/%d", n, d)
	}
}

func TestSanitizeLimit(t *testing.T) {
	if got := SanitizeLimit("a\x00b\u200bc\nd", 10); got != "abc\nd" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
	if got := SanitizeLimit("hello", 2); got != "he" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
}
