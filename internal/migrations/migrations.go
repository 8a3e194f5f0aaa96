// Package migrations embeds the portal's schema migrations.
package migrations

import "embed"

// FS holds the goose migration files, applied at boot.
//
//go:embed *.sql
var FS embed.FS
