// Package logging configures structured logging for the gateway host using
// log/slog. Attributes that carry credentials are masked at the handler so a
// careless log call cannot leak a session token or API key.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Level allows runtime log level changes.
var Level slog.LevelVar

// sensitiveKeys are attribute keys whose values are always masked.
var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"session_token": {},
	"session_id":    {},
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"cookie":        {},
	"password":      {},
}

// Setup initialises the default slog logger from LOG_LEVEL (debug, info,
// warn, error; default info) and LOG_FORMAT (json, text; default json).
// The standard library "log" package is bridged into the same handler.
func Setup() {
	SetupWithConfig(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stderr)
}

// SetupWithConfig configures slog with explicit parameters.
func SetupWithConfig(levelStr, formatStr string, w io.Writer) {
	Level.Set(ParseLevel(levelStr))

	opts := &slog.HandlerOptions{Level: &Level, ReplaceAttr: maskSensitive}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(formatStr)) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	log.SetOutput(&stdlibWriter{logger: logger})
	log.SetFlags(0)
}

// ParseLevel converts a string to slog.Level. Defaults to INFO.
func ParseLevel(s string) slog.Level {
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

// Redact returns a short hint of a secret showing only its last four
// characters. Secrets of eight characters or fewer are fully masked.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "[redacted]"
	}
	return "[redacted ..." + secret[len(secret)-4:] + "]"
}

func maskSensitive(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok && a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, Redact(a.Value.String()))
	}
	return a
}

// stdlibWriter adapts slog.Logger to io.Writer for the stdlib log bridge.
type stdlibWriter struct {
	logger *slog.Logger
}

func (w *stdlibWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"), "source", "stdlib")
	return len(p), nil
}
