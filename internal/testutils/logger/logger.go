package logger

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/alphabill-org/blockengine/logger"
)

/*
New returns logger for test t on debug level, output goes to the test log.
Colored output can be disabled with env var BE_TEST_LOG_NO_COLORS=true.
*/
func New(t testing.TB) *slog.Logger {
	return NewLvl(t, slog.LevelDebug)
}

// NewLvl returns logger for test t on given level.
func NewLvl(t testing.TB, level slog.Level) *slog.Logger {
	cfg := &logger.LogConfiguration{
		Level:        level.String(),
		Format:       "text",
		TimeFormat:   "15:04:05.0000",
		PeerIDFormat: "short",
	}
	if !noColors() {
		cfg.Format = "console"
	}
	h, err := logger.NewHandler(&testLogWriter{t: t}, cfg)
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	return slog.New(h)
}

// NOP returns logger which discards everything.
func NOP() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// LoggerBuilder returns logger factory which ignores the configuration and returns test logger.
func LoggerBuilder(t testing.TB) func(*logger.LogConfiguration) (*slog.Logger, error) {
	return func(*logger.LogConfiguration) (*slog.Logger, error) { return New(t), nil }
}

func noColors() bool {
	v, err := strconv.ParseBool(os.Getenv("BE_TEST_LOG_NO_COLORS"))
	return err == nil && v
}

type testLogWriter struct {
	t testing.TB
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
