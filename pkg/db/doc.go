// Package db connects to PostgreSQL with startup retries and applies
// embedded goose migrations.
package db
