package logger

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Keys of the attributes shared by the packages, use the constructor functions to create the attributes.
const (
	ErrorKey   = "err"
	PeerIDKey  = "peer_id"
	ModuleKey  = "module"
	HeightKey  = "height"
	SlotKey    = "slot"
	BlockIDKey = "block_id"
	TxIDKey    = "tx_id"
	SyncIDKey  = "sync_id"

	traceID = "TraceId"
	spanID  = "SpanId"
)

/*
Error adds error to the log record

	if err := c.ExecuteValidated(ctx, b, opts); err != nil {
		log.Warn("applying block", logger.Error(err))
	}
*/
func Error(err error) slog.Attr {
	return slog.Any(ErrorKey, err)
}

// PeerID is the remote peer the record is about.
func PeerID(id peer.ID) slog.Attr {
	return slog.Any(PeerIDKey, id)
}

// Module is the name of the state machine module.
func Module(name string) slog.Attr {
	return slog.String(ModuleKey, name)
}

func Height(h uint64) slog.Attr {
	return slog.Uint64(HeightKey, h)
}

func Slot(s uint64) slog.Attr {
	return slog.Uint64(SlotKey, s)
}

func BlockID(id []byte) slog.Attr {
	return slog.String(BlockIDKey, fmt.Sprintf("%X", id))
}

func TxID(id []byte) slog.Attr {
	return slog.String(TxIDKey, fmt.Sprintf("%X", id))
}

// SyncID identifies the records of single synchronization run, use with log.With.
func SyncID(id string) slog.Attr {
	return slog.String(SyncIDKey, id)
}

// attrFormatter is the signature of slog.HandlerOptions.ReplaceAttr.
type attrFormatter func(groups []string, a slog.Attr) slog.Attr

// formatters returns formatter which applies non-nil "fs" in order, nil when there is nothing to apply.
func formatters(fs ...attrFormatter) attrFormatter {
	var active []attrFormatter
	for _, f := range fs {
		if f != nil {
			active = append(active, f)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		for _, f := range active {
			a = f(groups, a)
		}
		return a
	}
}

func formatTimeAttr(layout string) attrFormatter {
	if layout == "" {
		return nil
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.TimeKey {
			return a
		}
		if layout == "none" {
			return slog.Attr{}
		}
		if t := a.Value.Time(); !t.IsZero() {
			a.Value = slog.StringValue(t.Format(layout))
		}
		return a
	}
}

// formatPeerIDAttr drops ("none") or abbreviates ("short") the peer IDs.
func formatPeerIDAttr(format string) attrFormatter {
	if format != "none" && format != "short" {
		return nil
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Value.Kind() != slog.KindAny {
			return a
		}
		id, ok := a.Value.Any().(peer.ID)
		switch {
		case !ok:
			return a
		case format == "none":
			return slog.Attr{}
		}
		a.Value = slog.StringValue(shortPeerID(id))
		return a
	}
}

func shortPeerID(id peer.ID) string {
	s := id.String()
	if len(s) <= 10 {
		return s
	}
	return s[:2] + "*" + s[len(s)-6:]
}

/*
formatAttrECS renames the attributes to the fields of the Elastic Common
Schema, the chain specific attributes end up under "block", "tx" and "peer".
*/
func formatAttrECS(groups []string, a slog.Attr) slog.Attr {
	topLevel := len(groups) == 0
	switch a.Key {
	case slog.TimeKey:
		if topLevel {
			a.Key = "@timestamp"
		}
	case slog.LevelKey:
		if topLevel {
			return slog.String("log.level", a.Value.String())
		}
	case slog.MessageKey:
		a.Key = "message"
	case slog.SourceKey:
		src, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		trimSource(src)
		return slog.Group("log", slog.Group("origin",
			slog.String("function", src.Function),
			slog.Group("file", slog.String("name", src.File), slog.Int("line", src.Line)),
		))
	case ErrorKey:
		return slog.Group("error", slog.Any("message", a.Value.Any()))
	case HeightKey:
		a.Key = "block.height"
	case BlockIDKey:
		a.Key = "block.id"
	case TxIDKey:
		a.Key = "tx.id"
	case PeerIDKey:
		a.Key = "peer.id"
	case traceID:
		return slog.Group("trace", slog.String("id", a.Value.String()))
	case spanID:
		return slog.Group("span", slog.String("id", a.Value.String()))
	}
	return a
}

// trimSource leaves only the type and method name of the function.
func trimSource(src *slog.Source) {
	_, src.Function = filepath.Split(src.Function)
	if _, fn, ok := strings.Cut(src.Function, "."); ok {
		src.Function = fn
	}
}
