package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	// levelNone disables logging
	levelNone slog.Level = math.MaxInt32
)

/*
LogConfiguration describes the logger to build, it can be loaded from
YAML file.
*/
type LogConfiguration struct {
	// Level is one of ERROR, WARN, INFO, DEBUG, TRACE, NONE. Offsets like "info-1" are supported too.
	Level string `yaml:"defaultLevel"`
	// Format is one of "text", "json", "ecs" or "console"
	Format string `yaml:"format"`
	// OutputPath is the file name or one of the special values "stdout", "stderr", "discard"
	OutputPath string `yaml:"outputPath"`
	// TimeFormat is the Go time layout of the timestamps or "none" to omit them
	TimeFormat string `yaml:"timeFormat"`
	// PeerIDFormat is "short", "none" or empty for the full peer ID
	PeerIDFormat string `yaml:"peerIdFormat"`
	// ShowSource adds the source code location of the logging call
	ShowSource bool `yaml:"showSource"`
}

/*
New builds logger according to the configuration, nil config means
text format INFO level logger writing to stdout.
*/
func New(cfg *LogConfiguration) (*slog.Logger, error) {
	if cfg == nil {
		cfg = &LogConfiguration{}
	}
	h, err := cfg.Handler()
	if err != nil {
		return nil, err
	}
	return slog.New(h), nil
}

func (cfg *LogConfiguration) Handler() (slog.Handler, error) {
	lvl := cfg.logLevel()
	if lvl == levelNone {
		return discardHandler{}, nil
	}
	out, err := cfg.writer()
	if err != nil {
		return nil, fmt.Errorf("creating log writer: %w", err)
	}
	return NewHandler(out, cfg)
}

// NewHandler creates handler which writes to out, OutputPath of the cfg is ignored.
func NewHandler(out io.Writer, cfg *LogConfiguration) (slog.Handler, error) {
	lvl := cfg.logLevel()
	if lvl == levelNone {
		return discardHandler{}, nil
	}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		h = slog.NewTextHandler(out, &slog.HandlerOptions{
			Level:       lvl,
			AddSource:   cfg.ShowSource,
			ReplaceAttr: formatters(formatTimeAttr(cfg.TimeFormat), formatPeerIDAttr(cfg.PeerIDFormat)),
		})
	case "json":
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:       lvl,
			AddSource:   cfg.ShowSource,
			ReplaceAttr: formatters(formatTimeAttr(cfg.TimeFormat), formatPeerIDAttr(cfg.PeerIDFormat)),
		})
	case "ecs":
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:       lvl,
			AddSource:   true,
			ReplaceAttr: formatters(formatPeerIDAttr(cfg.PeerIDFormat), formatAttrECS),
		})
	case "console":
		h = newConsoleHandler(out, lvl, cfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return NewTraceHandler(h), nil
}

func (cfg *LogConfiguration) logLevel() slog.Level {
	if cfg.OutputPath == "discard" || cfg.OutputPath == os.DevNull {
		return levelNone
	}
	switch name := strings.ToUpper(cfg.Level); name {
	case "NONE":
		return levelNone
	case "TRACE":
		return LevelTrace
	case "WARNING":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	default:
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(name)); err != nil {
			return slog.LevelInfo
		}
		return lvl
	}
}

func (cfg *LogConfiguration) writer() (io.Writer, error) {
	switch cfg.OutputPath {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "discard", os.DevNull:
		return io.Discard, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0700); err != nil {
		return nil, fmt.Errorf("creating directory for log file: %w", err)
	}
	f, err := os.OpenFile(filepath.Clean(cfg.OutputPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

/*
NewTraceHandler wraps h so that trace and span IDs of the span in the
context are added to the log records.
*/
func NewTraceHandler(h slog.Handler) slog.Handler {
	return &traceHandler{Handler: h}
}

type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(slog.String(traceID, sc.TraceID().String()), slog.String(spanID, sc.SpanID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
