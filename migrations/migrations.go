// Package migrations embeds the SQL schema of the Postgres store.
package migrations

import "embed"

// FS holds the .sql files in apply order.
//
//go:embed *.sql
var FS embed.FS
