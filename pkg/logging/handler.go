// Package logging configures the process logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	console "github.com/phsym/console-slog"
)

const redacted = "[redacted]"

// sensitiveKeys are attribute keys whose values never reach the output.
var sensitiveKeys = map[string]bool{
	"password": true,
	"api_key":  true,
	"tax_id":   true,
	"taxid":    true,
	"ssn":      true,
	"token":    true,
	"ticket":   true,
	"dsn":      true,
}

// New returns a logger writing to w. pretty selects the console format;
// otherwise records are written as text.
func New(w io.Writer, level slog.Level, pretty bool) *slog.Logger {
	var h slog.Handler
	if pretty {
		h = console.NewHandler(w, &console.HandlerOptions{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(NewRedactingHandler(h))
}

type handler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next so that sensitive attributes are replaced
// and byte slices are rendered as text.
func NewRedactingHandler(next slog.Handler) slog.Handler {
	return &handler{next: next}
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	converted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		converted[i] = convert(a)
	}
	return &handler{next: h.next.WithAttrs(converted)}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{next: h.next.WithGroup(name)}
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(convert(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func convert(a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := v.Group()
		converted := make([]any, len(group))
		for i, g := range group {
			converted[i] = convert(g)
		}
		return slog.Group(a.Key, converted...)
	case slog.KindAny:
		if b, ok := v.Any().([]byte); ok {
			return slog.String(a.Key, string(b))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}
