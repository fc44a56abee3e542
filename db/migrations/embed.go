// Package dbmigrations exposes embedded SQL migrations for lotmatch binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into lotmatch binaries.
//
//go:embed *.sql
var Files embed.FS
