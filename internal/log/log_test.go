package log

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace":   LevelTrace,
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestRawLogger(t *testing.T) {
	var buf bytes.Buffer
	r := &rawLogger{w: &buf, now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }}

	r.Log(true, []byte{0x00, 0x00, 0x00, 0x01, 0xab})
	r.Log(false, nil)
	r.Log(false, []byte{0xff})

	assert.Equal(t,
		"2026/01/02 03:04:05.000 host->dev    5 bytes: 00 00 00 01 ab\n"+
			"2026/01/02 03:04:05.000 dev->host    1 bytes: ff\n",
		buf.String())
}

func TestRawLogger_NilWriter(t *testing.T) {
	assert.NotPanics(t, func() { NewRaw(nil).Log(true, []byte{1}) })
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace})
	f := LevelFilter{pass: func(l slog.Level) bool { return l < slog.LevelError }, h: inner}

	assert.True(t, f.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, f.Enabled(context.Background(), slog.LevelError))

	logger := slog.New(f)
	logger.Info("kept")
	logger.Error("dropped")
	assert.Contains(t, buf.String(), "kept")
	assert.NotContains(t, buf.String(), "dropped")
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	m := MultiHandler{hs: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}
	logger := slog.New(m).With("device", "1209:b007")
	logger.Debug("only b")
	logger.Info("both")

	assert.NotContains(t, a.String(), "only b")
	assert.Contains(t, a.String(), "both")
	assert.Contains(t, b.String(), "only b")
	assert.Contains(t, b.String(), "device=1209:b007")
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	h := &colorHandler{w: &buf, level: LevelTrace}
	logger := slog.New(h).With("bus", 1).WithGroup("urb")
	logger.Log(context.Background(), LevelTrace, "submit", "seq", 7)

	out := buf.String()
	assert.Contains(t, out, "TRACE")
	assert.Contains(t, out, "submit")
	assert.Contains(t, out, " bus=1")
	assert.Contains(t, out, " urb.seq=7")
	assert.True(t, strings.HasSuffix(out, "\n"))
}
