// Package logger builds the portal's slog loggers: JSON to stdout, with
// optional Sentry fan-out for warnings and errors and context extractors
// for request-scoped attributes.
package logger
