// Package observability provides the runtime's structured logging,
// Prometheus metrics, and OpenTelemetry tracing.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/zeroclaw-labs/zeroclaw/internal/config"
)

// redactPatterns cover credentials that must never reach log output.
var redactPatterns = []*regexp.Regexp{
	// Anthropic keys
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{16,}`),
	// OpenAI-style keys
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	// Telegram bot tokens
	regexp.MustCompile(`\d{8,10}:[a-zA-Z0-9_-]{35}`),
	// JWT
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
	// key=value style secrets
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)[\s:=]+["']?[^\s"']{8,}["']?`),
}

// Redact masks credential-shaped substrings.
func Redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// redactingHandler wraps an slog.Handler and redacts string attribute
// values and messages before they are emitted.
type redactingHandler struct {
	inner slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, Redact(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(Redact(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			a.Value = slog.StringValue(Redact(err.Error()))
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, g := range attrs {
			redacted[i] = redactAttr(g)
		}
		a.Value = slog.GroupValue(redacted...)
	}
	return a
}

// NewLogger builds the process logger from the logging configuration.
// Output defaults to stderr; pass a writer for tests.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		inner = slog.NewTextHandler(w, opts)
	} else {
		inner = slog.NewJSONHandler(w, opts)
	}
	return slog.New(&redactingHandler{inner: inner})
}
