package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// newTextHandler returns the console handler. Timestamps are dropped.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	if tz == nil {
		tz = time.Local
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				lvl, ok := a.Value.Any().(slog.Level)
				if !ok {
					return a
				}
				return slog.String(slog.LevelKey, levelName(lvl))
			}
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.String(a.Key, t.In(tz).Format(time.RFC3339))
			}
			return a
		},
	})
}

func levelName(l slog.Level) string {
	if l <= traceLevelValue {
		return "TRACE"
	}
	return l.String()
}

// discardHandler drops every record.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool { return false }

//nolint:gocritic // slog.Handler interface requires record by value
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler { return d }
func (d discardHandler) WithGroup(string) slog.Handler { return d }
