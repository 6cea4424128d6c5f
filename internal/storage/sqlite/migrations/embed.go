package migrations

import "embed"

// FS contains embedded SQLite migrations for rollbook storage.
//
//go:embed *.sql
var FS embed.FS
