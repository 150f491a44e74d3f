// Package migrations embeds the goose SQL migrations for the alias table.
package migrations

import "embed"

// FS holds the *.sql migrations.
//
//go:embed *.sql
var FS embed.FS
