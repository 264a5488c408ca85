// Package migrations holds the SQL schema, embedded so the binary and the
// test helpers apply the same files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
