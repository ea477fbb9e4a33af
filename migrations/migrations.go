// Package migrations embeds the PostgreSQL schema so binaries can apply it
// without the source tree.
package migrations

import "embed"

// Files holds every *.sql migration, applied in lexical order
//
//go:embed *.sql
var Files embed.FS
