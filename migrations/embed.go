// Package migrations embeds the SQL schema migrations so the daemon can
// apply them without the files on disk.
package migrations

import "embed"

//go:embed *.sql
var files embed.FS

// FS holds the migration files at its root.
var FS = files
