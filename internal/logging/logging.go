package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Key constants for structured log fields.
const (
	KeyComponent = "component"
	KeyRunID     = "runId"
	KeySession   = "segmentSession"
	KeyGame      = "gameId"
	KeyCamera    = "interface"
	KeyAngle     = "angle"
	KeyError     = "error"
)

type contextKey struct{}

var (
	defaultLogger = slog.New(&ringHandler{base: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})})
	globalRing    *Ring
	ringMu        sync.RWMutex
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init initializes the global logger. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stdout)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	// Wrap with the ring handler so every record is also published to
	// in-process subscribers (the operator UI tails these).
	defaultLogger = slog.New(&ringHandler{base: handler})
	slog.SetDefault(defaultLogger)
}

// InitRing installs the in-memory ring buffer. Records logged before InitRing
// only reach the file/stdout sinks.
func InitRing(capacity int) *Ring {
	ringMu.Lock()
	defer ringMu.Unlock()

	globalRing = NewRing(capacity)
	return globalRing
}

// GetRing returns the installed ring, or nil if InitRing was never called.
func GetRing() *Ring {
	ringMu.RLock()
	defer ringMu.RUnlock()
	return globalRing
}

// ringHandler wraps a base slog.Handler to also append records to the ring.
// Attrs attached via Logger.With land here through WithAttrs, not on the
// record, so the handler carries them itself.
type ringHandler struct {
	base  slog.Handler
	attrs []slog.Attr
}

func (h *ringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *ringHandler) Handle(ctx context.Context, record slog.Record) error {
	ringMu.RLock()
	ring := globalRing
	ringMu.RUnlock()

	if ring != nil {
		fields := make(map[string]any, len(h.attrs)+record.NumAttrs())
		for _, a := range h.attrs {
			fields[a.Key] = a.Value.Any()
		}
		record.Attrs(func(a slog.Attr) bool {
			fields[a.Key] = a.Value.Any()
			return true
		})

		ring.Append(Entry{
			Timestamp: record.Time,
			Level:     record.Level.String(),
			Component: extractComponent(fields),
			Message:   record.Message,
			Fields:    fields,
		})
	}

	return h.base.Handle(ctx, record)
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ringHandler{base: h.base.WithAttrs(attrs), attrs: merged}
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	return &ringHandler{base: h.base.WithGroup(name), attrs: h.attrs}
}

func extractComponent(fields map[string]any) string {
	if c, ok := fields[KeyComponent].(string); ok {
		return c
	}
	return "unknown"
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return slog.Default().With(slog.String(KeyComponent, component))
}

// WithRun returns a child logger with pipeline run correlation attached.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With(slog.String(KeyRunID, runID))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
