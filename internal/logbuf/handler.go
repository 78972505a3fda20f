package logbuf

import (
	"context"
	"log/slog"
)

// Handler tees slog records into a Buffer before forwarding them to the
// wrapped handler. Install it as the root handler so API log streaming
// sees everything the terminal sees.
type Handler struct {
	inner  slog.Handler
	buf    *Buffer
	attrs  map[string]any
	prefix string
}

// NewHandler wraps inner so every record at Info or above is also captured
// in buf.
func NewHandler(inner slog.Handler, buf *Buffer) *Handler {
	return &Handler{inner: inner, buf: buf}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelInfo {
		entry := Entry{
			Timestamp: r.Time.UnixMilli(),
			Level:     r.Level.String(),
			Message:   r.Message,
		}
		attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
		for k, v := range h.attrs {
			attrs[k] = v
		}
		r.Attrs(func(a slog.Attr) bool {
			attrs[h.prefix+a.Key] = a.Value.Resolve().Any()
			return true
		})
		if len(attrs) > 0 {
			entry.Attrs = attrs
		}
		h.buf.Add(entry)
	}

	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make(map[string]any, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		merged[k] = v
	}
	for _, a := range attrs {
		merged[h.prefix+a.Key] = a.Value.Resolve().Any()
	}
	return &Handler{inner: h.inner.WithAttrs(attrs), buf: h.buf, attrs: merged, prefix: h.prefix}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{inner: h.inner.WithGroup(name), buf: h.buf, attrs: h.attrs, prefix: h.prefix + name + "."}
}
