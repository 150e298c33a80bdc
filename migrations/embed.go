// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// FS holds every *.up.sql migration, applied in lexical order.
//
//go:embed *.up.sql
var FS embed.FS
