package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// SentryConfig holds Sentry integration configuration.
type SentryConfig struct {
	DSN         string `env:"SENTRY_DSN" envDefault:""`
	Environment string `env:"SENTRY_ENVIRONMENT" envDefault:"production"`
}

// Option configures the logger factory.
type Option func(*options)

type options struct {
	level      slog.Level
	sentry     SentryConfig
	extractors []ContextExtractor
}

// WithLevel sets the minimum level for the stdout handler. Default: Info.
func WithLevel(level slog.Level) Option {
	return func(o *options) { o.level = level }
}

// WithSentry enables Sentry fan-out for warnings and errors.
// An empty DSN is a no-op, so local development needs no special casing.
func WithSentry(cfg SentryConfig) Option {
	return func(o *options) { o.sentry = cfg }
}

// WithExtractors adds context extractors applied to every log record.
func WithExtractors(extractors ...ContextExtractor) Option {
	return func(o *options) { o.extractors = append(o.extractors, extractors...) }
}

// New creates a JSON logger writing to stdout, optionally fanning out to
// Sentry when a DSN is configured.
func New(opts ...Option) *slog.Logger {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	stdout := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: o.level})

	handler := slog.Handler(stdout)
	if o.sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         o.sentry.DSN,
			Environment: o.sentry.Environment,
			EnableLogs:  true,
		}); err != nil {
			// Degrade to stdout-only rather than failing startup.
			slog.New(stdout).Error("failed to initialize sentry", slog.String("error", err.Error()))
		} else {
			sentryHandler := sentryslog.Option{
				EventLevel: []slog.Level{slog.LevelError},
				LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
			}.NewSentryHandler(context.Background())
			handler = newMultiHandler(stdout, sentryHandler)
		}
	}

	return slog.New(newDecorator(handler, o.extractors...))
}

// multiHandler forwards log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers ...slog.Handler) slog.Handler {
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, rec slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, rec.Level) {
			if err := handler.Handle(ctx, rec.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return newMultiHandler(handlers...)
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return newMultiHandler(handlers...)
}
