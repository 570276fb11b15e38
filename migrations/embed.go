// Package migrations embeds database schema files applied at startup.
package migrations

import "embed"

// FS contains all schema SQL files.
//
//go:embed *.sql
var FS embed.FS
