package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlog(slog.New(handler))

	logger.Debug("debug msg", "k", "v")
	logger.Info("info msg", "step", 3)
	logger.Warn("warn msg")
	logger.Error("error msg", "err", "boom")

	out := buf.String()
	require.Contains(t, out, "debug msg")
	require.Contains(t, out, "info msg")
	require.Contains(t, out, "step=3")
	require.Contains(t, out, "warn msg")
	require.Contains(t, out, "error msg")
	require.Contains(t, out, "err=boom")
}

func TestSlogLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := NewSlog(slog.New(handler))

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")

	out := buf.String()
	require.False(t, strings.Contains(out, "hidden"))
	require.Contains(t, out, "visible")
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()

	// Must not panic, must not exit.
	logger.Debug("a")
	logger.Info("b", "k", 1)
	logger.Warn("c")
	logger.Error("d")
	logger.Fatal("e")
}
