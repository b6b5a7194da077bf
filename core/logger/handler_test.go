package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, format logFormat) (*slog.Logger, func() string) {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	h := newStructuredHandler(handlerConfig{
		level:  slog.LevelDebug,
		writer: aw,
		format: format,
	})
	return slog.New(h), func() string {
		require.NoError(t, aw.Flush())
		require.NoError(t, aw.Close())
		return strings.TrimSpace(buf.String())
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	log, read := newTestLogger(t, formatKV)
	ctx := WithRID(context.Background(), "rid-123")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)
	ctx = WithAction(ctx, "mood")

	LogEvent(ctx, log.With("component", CompDispatch), slog.LevelInfo, "callback.handled",
		slog.String("status", "OK"),
		slog.Duration("duration", 1500*time.Microsecond),
	)

	tokens := strings.Split(read(), " ")
	expected := []string{"ts=", "level=INFO", "component=tg.dispatch", "event=callback.handled", "status=ok", "rid=rid-123", "update_id=42", "user_id=7", "chat_id=9", "action=mood", "duration_ms=2"}
	require.GreaterOrEqual(t, len(tokens), len(expected))
	for i, prefix := range expected {
		assert.True(t, strings.HasPrefix(tokens[i], prefix), "token %d = %s, want prefix %s", i, tokens[i], prefix)
	}
}

func TestStructuredHandlerJSON(t *testing.T) {
	log, read := newTestLogger(t, formatJSON)
	ctx := WithRID(context.Background(), "12:34:56")

	LogEvent(ctx, log, slog.LevelError, "send.failed",
		slog.Any("err", errors.New("boom")),
		slog.String("outcome", "exploded"),
		slog.String("empty", "  "),
		slog.Group("req", slog.Int("attempt", 2)),
	)

	line := read()
	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &fields))
	assert.Equal(t, "ERROR", fields["level"])
	assert.Equal(t, CompApp, fields["component"])
	assert.Equal(t, "send.failed", fields["event"])
	assert.Equal(t, CompactRID("12:34:56"), fields["rid"])
	assert.Equal(t, "12:34:56", fields["rid_full"])
	assert.Equal(t, "boom", fields["err"])
	assert.EqualValues(t, 2, fields["req.attempt"])
	assert.Contains(t, fields, "ts_unix_nano")
	assert.NotContains(t, fields, "outcome")
	assert.NotContains(t, fields, "empty")
	assert.True(t, strings.HasPrefix(line, `{"ts":`))
}

func TestStructuredHandlerCompactRIDKV(t *testing.T) {
	log, read := newTestLogger(t, formatKV)
	ctx := WithRID(context.Background(), "123:456:789")
	LogEvent(ctx, log, slog.LevelInfo, "rid.test")

	line := read()
	assert.Contains(t, line, "rid="+CompactRID("123:456:789"))
	assert.NotContains(t, line, "rid_full=")
}

func TestStructuredHandlerLevelFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	log := slog.New(newStructuredHandler(handlerConfig{level: slog.LevelWarn, writer: aw, format: formatKV}))
	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, aw.Close())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "event=shown")
}

func TestHelpersAreNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		Info(context.Background(), CompDispatch, "noop")
		LogEvent(context.Background(), nil, slog.LevelInfo, "noop")
	})
}

func TestCompactRID(t *testing.T) {
	assert.Equal(t, "z.10.1", CompactRID("35:36:1"))
	assert.Equal(t, "not-a-rid", CompactRID("not-a-rid"))
	assert.Equal(t, "a:b:c", CompactRID("a:b:c"))
}

func TestSanitizeLimit(t *testing.T) {
	assert.Equal(t, "ab\tc", Sanitize("a\x00b\tc\u200b"))
	assert.Equal(t, "héll", SanitizeLimit("héllo", 4))
	assert.Empty(t, SanitizeLimit("x", 0))
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	got := []bool{s.Allow(), s.Allow(), s.Allow(), s.Allow()}
	assert.Equal(t, []bool{true, false, false, true}, got)

	s.Set(0, 0)
	assert.True(t, s.Allow())

	num, den := parseRatioSpec("2/5")
	assert.Equal(t, [2]int{2, 5}, [2]int{num, den})
	num, den = parseRatioSpec("10")
	assert.Equal(t, [2]int{1, 10}, [2]int{num, den})
	num, den = parseRatioSpec("junk")
	assert.Equal(t, [2]int{0, 0}, [2]int{num, den})
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "ok", Status(nil))
	assert.Equal(t, "fail", Status(errors.New("x")))
}
