package codecadapter

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/m-mizutani/masq"
)

// urlSensitiveParamPattern redacts key=value credentials in logged source
// URLs (...?token=..., password=...). Userinfo such as user:pass@host is
// not matched.
var urlSensitiveParamPattern = regexp.MustCompile(`(?i)(password|secret|token|apikey|api_key|credential)=([^&\s"']+)`)

// GlobalLogLevel is the shared log level, changeable at runtime via
// SetLogLevel without reconstructing the logger.
var GlobalLogLevel = &slog.LevelVar{}

// LogConfig controls how NewLogger builds a logger for an adapter instance.
type LogConfig struct {
	Level      string // trace, debug, info, warn, error
	Format     string // json or text
	AddSource  bool
	TimeFormat string
}

// NewLogger builds a slog.Logger writing to stderr, matching the adapter's
// ambient logging conventions (structured, field-redacted, level shared
// across instances via GlobalLogLevel).
func NewLogger(cfg LogConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stderr)
}

// sensitiveFieldRedactor masks credential-shaped attribute names (a backend
// that logs its subprocess argv, or a source that logs a connection URL,
// may otherwise leak stream credentials).
func sensitiveFieldRedactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithFieldName("password"),
		masq.WithFieldName("Password"),
		masq.WithFieldName("secret"),
		masq.WithFieldName("Secret"),
		masq.WithFieldName("token"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("apikey"),
		masq.WithFieldName("ApiKey"),
		masq.WithFieldName("api_key"),
		masq.WithFieldName("credential"),
		masq.WithFieldName("Credential"),
	)
}

func redactURLParams(s string) string {
	return urlSensitiveParamPattern.ReplaceAllString(s, "$1=[REDACTED]")
}

// NewLoggerWithWriter is NewLogger with an explicit destination, used by
// tests to capture log output.
func NewLoggerWithWriter(cfg LogConfig, w io.Writer) *slog.Logger {
	GlobalLogLevel.Set(parseLevel(cfg.Level))
	redactor := sensitiveFieldRedactor()

	opts := &slog.HandlerOptions{
		Level:     GlobalLogLevel,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a = redactor(groups, a)
			if a.Value.Kind() == slog.KindString {
				if redacted := redactURLParams(a.Value.String()); redacted != a.Value.String() {
					a = slog.String(a.Key, redacted)
				}
			}
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogLevel changes the shared log level at runtime.
func SetLogLevel(level string) {
	GlobalLogLevel.Set(parseLevel(level))
}

// GetLogLevel returns the current shared log level as a string.
func GetLogLevel() string {
	switch level := GlobalLogLevel.Level(); {
	case level < slog.LevelDebug:
		return "trace"
	case level == slog.LevelDebug:
		return "debug"
	case level == slog.LevelWarn:
		return "warn"
	case level >= slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// WithComponent tags a logger with the subsystem emitting it (source,
// backend, core).
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation tags a logger with the operation in progress.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError attaches an error to a logger's attributes; a nil error is a
// no-op so call sites can use it unconditionally.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// TimedOperation logs start/completion of an operation with its duration.
// The returned func must be deferred by the caller.
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string) func() {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))
	return func() {
		logger.InfoContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
