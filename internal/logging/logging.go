package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rickgao/vesselwatch/internal/config"
)

// New returns a slog.Logger writing to w with the configured level and format.
func New(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	return slog.New(NewHandler(NewZerolog(cfg, w)))
}

// NewZerolog builds the zerolog logger backing New.
func NewZerolog(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// ParseLevel maps a config level to zerolog. Unknown values become info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Handler implements slog.Handler on top of a zerolog logger.
type Handler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	groups []string
}

// NewHandler wraps logger.
//
//nolint:gocritic // zerolog.Logger is passed by value
func NewHandler(logger zerolog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Enabled reports whether records at level are written.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= toZerolog(level)
}

// Handle writes the record.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler
func (h *Handler) Handle(_ context.Context, record slog.Record) error {
	event := h.logger.WithLevel(toZerolog(record.Level))
	if event == nil {
		return nil
	}

	for _, attr := range h.attrs {
		event = addAttr(event, attr, h.groups)
	}
	record.Attrs(func(attr slog.Attr) bool {
		event = addAttr(event, attr, h.groups)
		return true
	})

	event.Msg(record.Message)
	return nil
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, qualify(a, h.groups))
	}
	return &Handler{logger: h.logger, attrs: merged, groups: h.groups}
}

// WithGroup returns a handler that prefixes later keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, len(h.groups), len(h.groups)+1)
	copy(groups, h.groups)
	return &Handler{logger: h.logger, attrs: h.attrs, groups: append(groups, name)}
}

// qualify bakes the current groups into an attr added via WithAttrs, so a
// later WithGroup does not re-prefix it.
func qualify(a slog.Attr, groups []string) slog.Attr {
	if len(groups) == 0 {
		return a
	}
	a.Key = strings.Join(groups, ".") + "." + a.Key
	return a
}

func addAttr(event *zerolog.Event, attr slog.Attr, groups []string) *zerolog.Event {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return event
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	switch attr.Value.Kind() {
	case slog.KindString:
		return event.Str(key, attr.Value.String())
	case slog.KindInt64:
		return event.Int64(key, attr.Value.Int64())
	case slog.KindUint64:
		return event.Uint64(key, attr.Value.Uint64())
	case slog.KindFloat64:
		return event.Float64(key, attr.Value.Float64())
	case slog.KindBool:
		return event.Bool(key, attr.Value.Bool())
	case slog.KindDuration:
		return event.Dur(key, attr.Value.Duration())
	case slog.KindTime:
		return event.Time(key, attr.Value.Time())
	case slog.KindGroup:
		sub := groups
		if attr.Key != "" {
			sub = append(append([]string(nil), groups...), attr.Key)
		}
		for _, ga := range attr.Value.Group() {
			event = addAttr(event, ga, sub)
		}
		return event
	default:
		if err, ok := attr.Value.Any().(error); ok {
			return event.AnErr(key, err)
		}
		return event.Interface(key, attr.Value.Any())
	}
}

func toZerolog(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
