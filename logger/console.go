package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

/*
consoleHandler is slog handler which writes human friendly colored output
using zerolog ConsoleWriter.
*/
type consoleHandler struct {
	zl      zerolog.Logger
	level   slog.Leveler
	attrs   []slog.Attr
	groups  []string
	replace attrFormatter
}

func newConsoleHandler(out io.Writer, level slog.Leveler, cfg *LogConfiguration) *consoleHandler {
	cw := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    out != os.Stdout && out != os.Stderr,
		TimeFormat: "15:04:05.0000",
	}
	if cfg.TimeFormat != "" && cfg.TimeFormat != "none" {
		cw.TimeFormat = cfg.TimeFormat
	}
	if cfg.TimeFormat == "none" {
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	return &consoleHandler{
		zl:      zerolog.New(cw),
		level:   level,
		replace: formatters(formatPeerIDAttr(cfg.PeerIDFormat)),
	}
}

func (h *consoleHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	ev := h.zl.WithLevel(zerologLevel(r.Level))
	if !r.Time.IsZero() {
		ev = ev.Time(zerolog.TimestampFieldName, r.Time)
	}
	for _, a := range h.attrs {
		h.addAttr(ev, nil, a)
	}
	prefix := h.groups
	r.Attrs(func(a slog.Attr) bool {
		h.addAttr(ev, prefix, a)
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (h *consoleHandler) addAttr(ev *zerolog.Event, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if h.replace != nil && a.Value.Kind() != slog.KindGroup {
		a = h.replace(groups, a)
	}
	if a.Equal(slog.Attr{}) {
		return
	}
	key := strings.Join(append(append([]string{}, groups...), a.Key), ".")
	switch a.Value.Kind() {
	case slog.KindString:
		ev.Str(key, a.Value.String())
	case slog.KindInt64:
		ev.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		ev.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		ev.Dur(key, a.Value.Duration())
	case slog.KindTime:
		ev.Time(key, a.Value.Time())
	case slog.KindGroup:
		sub := groups
		if a.Key != "" {
			sub = append(append([]string{}, groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			h.addAttr(ev, sub, ga)
		}
	default:
		if err, ok := a.Value.Any().(error); ok {
			ev.AnErr(key, err)
		} else {
			ev.Interface(key, a.Value.Any())
		}
	}
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if len(h.groups) > 0 {
			a = slog.Attr{Key: strings.Join(h.groups, "."), Value: slog.GroupValue(a)}
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.groups = append(append([]string{}, h.groups...), name)
	return &c
}

func zerologLevel(lvl slog.Level) zerolog.Level {
	switch {
	case lvl < slog.LevelDebug:
		return zerolog.TraceLevel
	case lvl < slog.LevelInfo:
		return zerolog.DebugLevel
	case lvl < slog.LevelWarn:
		return zerolog.InfoLevel
	case lvl < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
